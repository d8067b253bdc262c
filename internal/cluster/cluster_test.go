package cluster

import (
	"testing"
	"time"

	"chain_chaos/internal/config"
	"chain_chaos/internal/message"
	"chain_chaos/internal/proxy"
	"chain_chaos/internal/utils"

	"github.com/stretchr/testify/require"
)

type fixedHandler struct{ forward bool }

func (h *fixedHandler) Handle(msg *message.PeerMessage, from, to message.PeerID) (bool, error) {
	return h.forward, nil
}

func testConfig() *config.HarnessConfig {
	cfg := config.DefaultConfig()
	cfg.BlockIntervalMillis = 20
	cfg.PollIntervalMillis = 20
	cfg.TimeoutSeconds = 10
	return &cfg
}

func waitFor(cond func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func TestClusterProgressesWithoutDrops(t *testing.T) {
	factory := func(from, to message.PeerID) proxy.Handler {
		return &fixedHandler{forward: true}
	}

	c, err := Start(testConfig(), factory, nil, nil, utils.NewManager(""))
	require.NoError(t, err)
	defer c.Stop()

	require.True(t, waitFor(func() bool { return c.MaxHeight() >= 5 }, 5*time.Second),
		"cluster did not reach height 5, max height %d", c.MaxHeight())

	// With every message delivered all nodes follow the chain.
	require.True(t, waitFor(func() bool {
		for _, n := range c.Nodes() {
			if n.Height() == 0 {
				return false
			}
		}
		return true
	}, 5*time.Second), "some node never adopted a block")
}

func TestClusterStallsWhenEverythingDrops(t *testing.T) {
	factory := func(from, to message.PeerID) proxy.Handler {
		return &fixedHandler{forward: false}
	}

	c, err := Start(testConfig(), factory, nil, nil, utils.NewManager(""))
	require.NoError(t, err)
	defer c.Stop()

	time.Sleep(500 * time.Millisecond)

	// Only the proposer of height 1 can ever append; nobody hears about
	// anyone else's blocks, so the cluster cannot advance past that.
	require.LessOrEqual(t, c.MaxHeight(), uint64(1))
}

func TestClusterCreatesOneHandlerPerLink(t *testing.T) {
	factory := func(from, to message.PeerID) proxy.Handler {
		return &fixedHandler{forward: true}
	}

	cfg := testConfig()
	cfg.NodeCount = 3
	cfg.BootNodeIndex = 0

	c, err := Start(cfg, factory, nil, nil, utils.NewManager(""))
	require.NoError(t, err)
	defer c.Stop()

	require.True(t, waitFor(func() bool { return c.MaxHeight() >= 2 }, 5*time.Second))

	// Three nodes give six ordered links at most.
	require.LessOrEqual(t, c.Interceptor().HandlerCount(), 6)
	require.Greater(t, c.Interceptor().HandlerCount(), 0)
}

func TestClusterStartValidatesConfig(t *testing.T) {
	cfg := testConfig()
	cfg.BootNodeIndex = cfg.NodeCount

	_, err := Start(cfg, func(from, to message.PeerID) proxy.Handler {
		return &fixedHandler{forward: true}
	}, nil, nil, utils.NewManager(""))
	require.Error(t, err)

	_, err = Start(testConfig(), nil, nil, nil, utils.NewManager(""))
	require.Error(t, err, "a cluster without a handler factory is a harness bug")
}

func TestClusterStopTerminates(t *testing.T) {
	factory := func(from, to message.PeerID) proxy.Handler {
		return &fixedHandler{forward: true}
	}

	c, err := Start(testConfig(), factory, nil, nil, utils.NewManager(""))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		c.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("cluster stop hangs")
	}
}
