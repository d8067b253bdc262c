package proxy

import (
	"fmt"
	"sync"

	"chain_chaos/internal/message"
	"chain_chaos/internal/metrics"
	"chain_chaos/internal/stats"

	"go.uber.org/zap"
)

// Handler is the pluggable decision unit invoked once per intercepted
// message. It must not mutate msg; returning false discards the message
// with no retry and no notification to either endpoint. A non-nil error
// is a harness bug and aborts the whole run.
type Handler interface {
	Handle(msg *message.PeerMessage, from, to message.PeerID) (bool, error)
}

// HandlerFactory builds one Handler per ordered link, so handler state
// stays single-writer within a link's callback sequence.
type HandlerFactory func(from, to message.PeerID) Handler

type link struct {
	from message.PeerID
	to   message.PeerID
}

// Interceptor sits on the path between every ordered pair of nodes. It
// owns the per-link handler instances and turns their decisions into
// forward-or-discard verdicts.
type Interceptor struct {
	factory  HandlerFactory
	handlers map[link]Handler
	mu       sync.RWMutex

	collector *metrics.Collector
	rates     *stats.RateCounter
	lg        *zap.Logger

	fatalCh   chan error
	fatalOnce sync.Once
}

func NewInterceptor(factory HandlerFactory, collector *metrics.Collector, rates *stats.RateCounter, lg *zap.Logger) *Interceptor {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Interceptor{
		factory:   factory,
		handlers:  make(map[link]Handler),
		collector: collector,
		rates:     rates,
		lg:        lg,
		fatalCh:   make(chan error, 1),
	}
}

// Intercept runs the link's handler over rm and reports whether the
// message should be delivered. Safe for concurrent use across links and
// for overlapping calls on the same link.
func (it *Interceptor) Intercept(rm *message.RoutedMessage) bool {
	h := it.handler(rm.From, rm.To)

	forward, err := h.Handle(rm.Msg, rm.From, rm.To)
	if err != nil {
		// No legitimate handler raises; surface it and stop the run.
		it.fatalOnce.Do(func() {
			it.fatalCh <- fmt.Errorf("handler failed on link %s->%s: %w", rm.From, rm.To, err)
		})
		return false
	}

	verdict := Drop
	if forward {
		verdict = Forward
	}

	if it.rates != nil {
		it.rates.Add(string(rm.From) + "->" + string(rm.To))
	}
	if it.collector != nil {
		if verdict == Forward {
			it.collector.IncForwarded()
		} else {
			it.collector.IncDropped()
		}
	}
	it.lg.Debug(fmt.Sprintf("%s %s %s->%s id=%s", verdict, rm.Msg.Kind, rm.From, rm.To, rm.ID))

	return verdict == Forward
}

// Fatal delivers the first handler error, if any ever occurs. The driver
// loop selects on it next to its poll ticker.
func (it *Interceptor) Fatal() <-chan error {
	return it.fatalCh
}

func (it *Interceptor) handler(from, to message.PeerID) Handler {
	key := link{from: from, to: to}

	it.mu.RLock()
	if h, ok := it.handlers[key]; ok {
		it.mu.RUnlock()
		return h
	}
	it.mu.RUnlock()

	it.mu.Lock()
	defer it.mu.Unlock()
	if h, ok := it.handlers[key]; ok {
		return h
	}
	h := it.factory(from, to)
	it.handlers[key] = h
	return h
}

// HandlerCount reports how many per-link handlers have been created.
func (it *Interceptor) HandlerCount() int {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return len(it.handlers)
}
