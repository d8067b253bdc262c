package chaos

import (
	"fmt"
	"strings"
	"sync"

	"chain_chaos/internal/message"
	"chain_chaos/internal/proxy"
)

// LinkRules holds the set of directed links whose traffic is always
// discarded, independent of the stochastic drop draw.
type LinkRules struct {
	mu      sync.RWMutex
	blocked map[string]struct{}
}

func NewLinkRules() *LinkRules {
	return &LinkRules{blocked: make(map[string]struct{})}
}

func linkKey(from, to message.PeerID) string {
	return string(from) + "->" + string(to)
}

// Block severs the directed link from -> to.
func (r *LinkRules) Block(from, to message.PeerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blocked[linkKey(from, to)] = struct{}{}
}

// BlockBoth severs both directions between two peers.
func (r *LinkRules) BlockBoth(a, b message.PeerID) {
	r.Block(a, b)
	r.Block(b, a)
}

func (r *LinkRules) Blocked(from, to message.PeerID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.blocked[linkKey(from, to)]
	return ok
}

func (r *LinkRules) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.blocked)
}

// ParseLinkRule parses one fault-rule line. Two forms are accepted:
//
//	node-0 -> node-2     directed
//	node-0 <-> node-2    both directions
func ParseLinkRule(line string) (from, to message.PeerID, both bool, err error) {
	var sep string
	switch {
	case strings.Contains(line, "<->"):
		sep, both = "<->", true
	case strings.Contains(line, "->"):
		sep = "->"
	default:
		return "", "", false, fmt.Errorf("unexpected link rule format: %s", line)
	}

	parts := strings.SplitN(line, sep, 2)
	from = message.PeerID(strings.TrimSpace(parts[0]))
	to = message.PeerID(strings.TrimSpace(parts[1]))
	if from == "" || to == "" {
		return "", "", false, fmt.Errorf("unexpected link rule format: %s", line)
	}
	return from, to, both, nil
}

// PartitionPolicy is an outer handler that enforces LinkRules before
// delegating to the wrapped handler. A severed link behaves like a hard
// partition: nothing on it is ever delivered.
type PartitionPolicy struct {
	rules *LinkRules
	inner proxy.Handler
}

func NewPartitionPolicy(rules *LinkRules, inner proxy.Handler) *PartitionPolicy {
	return &PartitionPolicy{rules: rules, inner: inner}
}

func (p *PartitionPolicy) Handle(msg *message.PeerMessage, from, to message.PeerID) (bool, error) {
	if p.rules != nil && p.rules.Blocked(from, to) {
		return false, nil
	}
	if p.inner == nil {
		return true, nil
	}
	return p.inner.Handle(msg, from, to)
}
