package chaos

import (
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"chain_chaos/internal/gate"
	"chain_chaos/internal/message"
	"chain_chaos/internal/metrics"

	"go.uber.org/zap"
)

// seedSalt decorrelates handler RNGs created within the same nanosecond.
var seedSalt atomic.Int64

// DropPolicy is the stateful per-link message classifier. It watches
// Block heights for the liveness signal and independently discards a
// DropRatio fraction of all traffic, whatever the variant.
type DropPolicy struct {
	gate         *gate.LivenessGate
	collector    *metrics.Collector
	lg           *zap.Logger
	heightTarget uint64
	dropRatio    float64

	rngMu sync.Mutex
	rng   *rand.Rand

	dropped  atomic.Uint64
	total    atomic.Uint64
	finished atomic.Bool
}

// NewDropPolicy builds a handler instance with its own random source, so
// drop patterns never correlate across links.
func NewDropPolicy(g *gate.LivenessGate, collector *metrics.Collector, lg *zap.Logger, heightTarget uint64, dropRatio float64) *DropPolicy {
	if lg == nil {
		lg = zap.NewNop()
	}
	seed := time.Now().UnixNano() ^ (seedSalt.Add(1) << 32)
	return &DropPolicy{
		gate:         g,
		collector:    collector,
		lg:           lg,
		heightTarget: heightTarget,
		dropRatio:    dropRatio,
		rng:          rand.New(rand.NewSource(seed)),
	}
}

// Handle inspects Block messages for height progress, then applies the
// stochastic drop draw to every message. The draw is independent of the
// height check: a message that triggers success can still be dropped.
func (p *DropPolicy) Handle(msg *message.PeerMessage, from, to message.PeerID) (bool, error) {
	if h, ok := msg.BlockHeight(); ok {
		if p.gate.UpdateBestHeight(h) {
			p.lg.Info(fmt.Sprintf("Height: %d", h))
			if p.collector != nil {
				p.collector.SetBestHeight(p.gate.BestHeight())
			}
		}

		if h >= p.heightTarget && p.finished.CompareAndSwap(false, true) {
			p.gate.SetSuccess()
			p.lg.Info(fmt.Sprintf("SUCCESS DROP=%d TOTAL=%d", p.dropped.Load(), p.total.Load()))
		}
	}

	drop := p.sample() < p.dropRatio

	if drop {
		p.dropped.Add(1)
	}
	p.total.Add(1)

	return !drop, nil
}

func (p *DropPolicy) sample() float64 {
	p.rngMu.Lock()
	defer p.rngMu.Unlock()
	return p.rng.Float64()
}

func (p *DropPolicy) Dropped() uint64 {
	return p.dropped.Load()
}

func (p *DropPolicy) Total() uint64 {
	return p.total.Load()
}

func (p *DropPolicy) Finished() bool {
	return p.finished.Load()
}
