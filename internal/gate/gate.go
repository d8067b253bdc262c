package gate

import "sync/atomic"

// LivenessGate is the shared synchronization cell between the drop
// handlers and the driver loop. Handlers on many links write into it
// concurrently; the driver reads it once per poll tick.
type LivenessGate struct {
	success    atomic.Bool
	bestHeight atomic.Uint64
}

func NewLivenessGate() *LivenessGate {
	return &LivenessGate{}
}

// SetSuccess latches the success flag. It reports whether this call was
// the one that flipped it, so the side effect attached to success can
// fire exactly once.
func (g *LivenessGate) SetSuccess() bool {
	return g.success.CompareAndSwap(false, true)
}

func (g *LivenessGate) IsSuccess() bool {
	return g.success.Load()
}

// UpdateBestHeight raises the best observed height. The update only
// happens when h is strictly greater than the current value, so the
// counter never decreases even under concurrent writers.
func (g *LivenessGate) UpdateBestHeight(h uint64) bool {
	for {
		cur := g.bestHeight.Load()
		if h <= cur {
			return false
		}
		if g.bestHeight.CompareAndSwap(cur, h) {
			return true
		}
	}
}

func (g *LivenessGate) BestHeight() uint64 {
	return g.bestHeight.Load()
}
