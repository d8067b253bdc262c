package cluster

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"chain_chaos/internal/message"

	"go.uber.org/zap"
)

// Node is one in-process validator. It proposes a block whenever the
// rotation makes it the proposer for its next height, adopts higher
// blocks it hears about, relays them, and answers with approvals. All
// outbound traffic goes through the cluster's send hook, which is where
// the interception layer lives.
type Node struct {
	id            message.PeerID
	peers         []message.PeerID
	send          func(*message.RoutedMessage)
	proposer      func(height uint64) message.PeerID
	blockInterval time.Duration
	lg            *zap.Logger

	inbox  chan *message.RoutedMessage
	stopCh chan struct{}
	doneCh chan struct{}

	mu      sync.Mutex
	headMsg *message.PeerMessage // nil until the first block is adopted
	height  uint64
	seen    map[uint64]struct{} // adopted block hashes

	rngMu sync.Mutex
	rng   *rand.Rand
}

func newNode(id message.PeerID, peers []message.PeerID, proposer func(uint64) message.PeerID, blockInterval time.Duration, send func(*message.RoutedMessage), lg *zap.Logger) *Node {
	return &Node{
		id:            id,
		peers:         peers,
		send:          send,
		proposer:      proposer,
		blockInterval: blockInterval,
		lg:            lg,
		inbox:         make(chan *message.RoutedMessage, 256),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
		seen:          make(map[uint64]struct{}),
		rng:           rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(len(id)<<20))),
	}
}

func (n *Node) ID() message.PeerID {
	return n.id
}

func (n *Node) Height() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.height
}

func (n *Node) deliver(rm *message.RoutedMessage) bool {
	select {
	case n.inbox <- rm:
		return true
	default:
		// Inbox overflow behaves like packet loss, same as a drop.
		return false
	}
}

func (n *Node) stop() {
	close(n.stopCh)
	<-n.doneCh
}

func (n *Node) run() {
	defer close(n.doneCh)

	ticker := time.NewTicker(n.blockInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.stopCh:
			return
		case <-ticker.C:
			n.tick()
		case rm := <-n.inbox:
			n.receive(rm)
		}
	}
}

// tick either proposes the next block, when the rotation points at this
// node, or re-offers the current head to one random peer so that peers
// who missed a dropped broadcast catch up.
func (n *Node) tick() {
	n.mu.Lock()
	next := n.height + 1
	head := n.headMsg
	n.mu.Unlock()

	if n.proposer(next) == n.id {
		prevHash := uint64(0)
		if head != nil {
			prevHash = head.Block.BlockV1.Header.Hash
		}
		msg := message.NewBlockMessage(next, time.Now().UnixNano(), n.id, prevHash)
		n.adopt(msg)
		n.lg.Info(fmt.Sprintf("%s proposed block height=%d", n.id, next))
		n.broadcast(msg, "")
		return
	}

	if head != nil && len(n.peers) > 0 {
		peer := n.peers[n.randIntn(len(n.peers))]
		n.send(message.NewRouted(head, n.id, peer))
	}
}

func (n *Node) receive(rm *message.RoutedMessage) {
	switch rm.Msg.Kind {
	case message.KindBlock:
		n.receiveBlock(rm)
	case message.KindBlockApproval:
		n.lg.Debug(fmt.Sprintf("%s approval from %s", n.id, rm.From))
	default:
		// Unknown variants carry nothing the cluster acts on.
	}
}

// receiveBlock adopts any block strictly above the local head. The
// harness asserts liveness, not consensus safety, so the highest block
// wins and there is no fork choice.
func (n *Node) receiveBlock(rm *message.RoutedMessage) {
	h, ok := rm.Msg.BlockHeight()
	if !ok {
		return
	}

	n.mu.Lock()
	hash := rm.Msg.Block.BlockV1.Header.Hash
	if _, dup := n.seen[hash]; dup || h <= n.height {
		n.mu.Unlock()
		return
	}
	n.mu.Unlock()

	n.adopt(rm.Msg)
	n.lg.Info(fmt.Sprintf("%s adopted block height=%d from %s", n.id, h, rm.From))

	// Relay keeps the cluster live when the proposer's own broadcast
	// was partially dropped.
	n.broadcast(rm.Msg, rm.From)
	n.send(message.NewRouted(message.NewApprovalMessage(), n.id, rm.From))
}

func (n *Node) adopt(msg *message.PeerMessage) {
	h, _ := msg.BlockHeight()
	n.mu.Lock()
	defer n.mu.Unlock()
	if h <= n.height {
		return
	}
	n.headMsg = msg
	n.height = h
	n.seen[msg.Block.BlockV1.Header.Hash] = struct{}{}
}

func (n *Node) broadcast(msg *message.PeerMessage, skip message.PeerID) {
	for _, peer := range n.peers {
		if peer == skip {
			continue
		}
		n.send(message.NewRouted(msg, n.id, peer))
	}
}

func (n *Node) randIntn(m int) int {
	n.rngMu.Lock()
	defer n.rngMu.Unlock()
	return n.rng.Intn(m)
}
