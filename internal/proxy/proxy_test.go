package proxy

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"chain_chaos/internal/message"

	"github.com/stretchr/testify/require"
)

type stubHandler struct {
	forward bool
	err     error
	calls   atomic.Uint64
	last    atomic.Pointer[message.PeerMessage]
}

func (s *stubHandler) Handle(msg *message.PeerMessage, from, to message.PeerID) (bool, error) {
	s.calls.Add(1)
	s.last.Store(msg)
	return s.forward, s.err
}

func TestOneHandlerPerOrderedLink(t *testing.T) {
	var factoryCalls atomic.Uint64
	handlers := make(map[string]*stubHandler)
	var mu sync.Mutex

	it := NewInterceptor(func(from, to message.PeerID) Handler {
		factoryCalls.Add(1)
		h := &stubHandler{forward: true}
		mu.Lock()
		handlers[string(from)+"->"+string(to)] = h
		mu.Unlock()
		return h
	}, nil, nil, nil)

	msg := message.NewApprovalMessage()
	for i := 0; i < 5; i++ {
		it.Intercept(message.NewRouted(msg, "node-0", "node-1"))
		it.Intercept(message.NewRouted(msg, "node-1", "node-0"))
	}

	// Two ordered links, one handler each, no matter how many messages.
	require.Equal(t, uint64(2), factoryCalls.Load())
	require.Equal(t, 2, it.HandlerCount())
	require.Equal(t, uint64(5), handlers["node-0->node-1"].calls.Load())
	require.Equal(t, uint64(5), handlers["node-1->node-0"].calls.Load())
}

func TestInterceptVerdicts(t *testing.T) {
	forwarding := &stubHandler{forward: true}
	it := NewInterceptor(func(from, to message.PeerID) Handler { return forwarding }, nil, nil, nil)
	require.True(t, it.Intercept(message.NewRouted(message.NewApprovalMessage(), "a", "b")))

	dropping := &stubHandler{forward: false}
	it2 := NewInterceptor(func(from, to message.PeerID) Handler { return dropping }, nil, nil, nil)
	require.False(t, it2.Intercept(message.NewRouted(message.NewApprovalMessage(), "a", "b")))
}

func TestMessagePassedThroughUntouched(t *testing.T) {
	h := &stubHandler{forward: true}
	it := NewInterceptor(func(from, to message.PeerID) Handler { return h }, nil, nil, nil)

	msg := message.NewBlockMessage(9, 1234, "node-2", 77)
	want := *msg.Block.BlockV1

	it.Intercept(message.NewRouted(msg, "node-2", "node-0"))

	require.Same(t, msg, h.last.Load(), "handler must see the original message, not a copy")
	require.Equal(t, want, *msg.Block.BlockV1, "interception must not mutate the message")
}

func TestHandlerErrorIsFatal(t *testing.T) {
	h := &stubHandler{forward: true, err: fmt.Errorf("boom")}
	it := NewInterceptor(func(from, to message.PeerID) Handler { return h }, nil, nil, nil)

	// A failing handler never forwards.
	require.False(t, it.Intercept(message.NewRouted(message.NewApprovalMessage(), "node-0", "node-1")))
	// Further failures must not block even though nobody drained the first.
	require.False(t, it.Intercept(message.NewRouted(message.NewApprovalMessage(), "node-0", "node-1")))

	select {
	case err := <-it.Fatal():
		require.ErrorContains(t, err, "boom")
		require.ErrorContains(t, err, "node-0->node-1")
	default:
		t.Fatal("fatal channel is empty after a handler error")
	}
}

func TestConcurrentInterceptCountsEveryCall(t *testing.T) {
	h := &stubHandler{forward: true}
	it := NewInterceptor(func(from, to message.PeerID) Handler { return h }, nil, nil, nil)

	const workers = 8
	const perWorker = 500
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				it.Intercept(message.NewRouted(message.NewApprovalMessage(), "node-0", "node-1"))
			}
		}()
	}
	wg.Wait()

	require.Equal(t, uint64(workers*perWorker), h.calls.Load())
	require.Equal(t, 1, it.HandlerCount())
}
