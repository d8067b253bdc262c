package cluster

import (
	"fmt"

	"chain_chaos/internal/config"
	"chain_chaos/internal/message"
	"chain_chaos/internal/metrics"
	"chain_chaos/internal/proxy"
	"chain_chaos/internal/stats"
	"chain_chaos/internal/utils"
)

// Cluster is a set of in-process validator nodes whose every message
// crosses the interception layer before delivery.
type Cluster struct {
	nodes       []*Node
	interceptor *proxy.Interceptor
}

// Start brings up cfg.NodeCount validators wired through an interceptor
// built from the given handler factory. It returns once every node
// goroutine is running; the caller owns Stop.
func Start(cfg *config.HarnessConfig, factory proxy.HandlerFactory, collector *metrics.Collector, rates *stats.RateCounter, logs *utils.LogxManager) (*Cluster, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	if factory == nil {
		return nil, fmt.Errorf("no handler factory installed")
	}

	ids := make([]message.PeerID, cfg.NodeCount)
	for i := range ids {
		ids[i] = message.PeerID(fmt.Sprintf("node-%d", i))
	}

	// Proposer rotation seeded at the boot node, one height per step.
	bootIndex := cfg.BootNodeIndex
	proposer := func(height uint64) message.PeerID {
		return ids[(uint64(bootIndex)+height)%uint64(len(ids))]
	}

	interceptor := proxy.NewInterceptor(factory, collector, rates, logs.Logger("proxy"))

	c := &Cluster{interceptor: interceptor}

	byID := make(map[message.PeerID]*Node, cfg.NodeCount)
	route := func(rm *message.RoutedMessage) {
		if !interceptor.Intercept(rm) {
			return
		}
		if dest, ok := byID[rm.To]; ok {
			dest.deliver(rm)
		}
	}

	nodeLg := logs.Logger("cluster")
	for i, id := range ids {
		peers := make([]message.PeerID, 0, len(ids)-1)
		for j, other := range ids {
			if j != i {
				peers = append(peers, other)
			}
		}
		n := newNode(id, peers, proposer, cfg.BlockInterval(), route, nodeLg)
		byID[id] = n
		c.nodes = append(c.nodes, n)
	}

	for _, n := range c.nodes {
		go n.run()
	}

	return c, nil
}

// Stop shuts every node down and waits for its goroutine to exit.
// Messages still in flight are discarded with the inboxes.
func (c *Cluster) Stop() {
	for _, n := range c.nodes {
		n.stop()
	}
}

func (c *Cluster) Interceptor() *proxy.Interceptor {
	return c.interceptor
}

func (c *Cluster) Nodes() []*Node {
	return c.nodes
}

// MaxHeight reports the highest chain height across all nodes.
func (c *Cluster) MaxHeight() uint64 {
	var max uint64
	for _, n := range c.nodes {
		if h := n.Height(); h > max {
			max = h
		}
	}
	return max
}
