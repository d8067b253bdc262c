package proxy

type Verdict int

const (
	Undecided Verdict = iota // 0：no decision yet
	Forward                  // 1：deliver
	Drop                     // 2：discard
)

func (v Verdict) String() string {
	switch v {
	case Forward:
		return "forward"
	case Drop:
		return "drop"
	default:
		return "undecided"
	}
}
