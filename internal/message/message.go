package message

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// PeerID identifies a validator node inside the cluster.
type PeerID string

// Kind is the discriminant tag of a peer message.
type Kind string

const (
	KindBlock         Kind = "Block"
	KindBlockApproval Kind = "BlockApproval"
	KindHandshake     Kind = "Handshake"
	KindPeersRequest  Kind = "PeersRequest"
)

// PeerMessage is a tagged-variant wire message. Only the Block variant
// carries a payload the harness inspects; every other variant is handled
// by tag alone.
type PeerMessage struct {
	Kind  Kind
	Block *Block // set iff Kind == KindBlock
}

type Block struct {
	BlockV1 *BlockV1
}

type BlockV1 struct {
	Header BlockHeaderV2
}

type BlockHeaderV2 struct {
	InnerLite BlockHeaderInnerLite
	Hash      uint64
	PrevHash  uint64
}

type BlockHeaderInnerLite struct {
	Height    uint64
	Timestamp int64
	Proposer  PeerID
}

// BlockHeight extracts the height out of a Block variant. The second
// return is false for any other variant or a malformed Block.
func (m *PeerMessage) BlockHeight() (uint64, bool) {
	if m == nil || m.Kind != KindBlock {
		return 0, false
	}
	if m.Block == nil || m.Block.BlockV1 == nil {
		return 0, false
	}
	return m.Block.BlockV1.Header.InnerLite.Height, true
}

// NewBlockMessage builds a Block message for the given height. The block
// hash commits to height, timestamp, proposer and the previous hash.
func NewBlockMessage(height uint64, ts int64, proposer PeerID, prevHash uint64) *PeerMessage {
	header := BlockHeaderV2{
		InnerLite: BlockHeaderInnerLite{
			Height:    height,
			Timestamp: ts,
			Proposer:  proposer,
		},
		PrevHash: prevHash,
	}
	header.Hash = hashHeader(&header)

	return &PeerMessage{
		Kind:  KindBlock,
		Block: &Block{BlockV1: &BlockV1{Header: header}},
	}
}

func hashHeader(h *BlockHeaderV2) uint64 {
	buf := make([]byte, 0, 24+len(h.InnerLite.Proposer))
	buf = binary.BigEndian.AppendUint64(buf, h.InnerLite.Height)
	buf = binary.BigEndian.AppendUint64(buf, uint64(h.InnerLite.Timestamp))
	buf = binary.BigEndian.AppendUint64(buf, h.PrevHash)
	buf = append(buf, h.InnerLite.Proposer...)
	return xxhash.Sum64(buf)
}

// NewApprovalMessage builds the payload-free acknowledgement a node sends
// back after adopting a block.
func NewApprovalMessage() *PeerMessage {
	return &PeerMessage{Kind: KindBlockApproval}
}

// RoutedMessage is a PeerMessage plus its addressing. One is created per
// network send and consumed once the interception decision is made.
type RoutedMessage struct {
	ID   string
	From PeerID
	To   PeerID
	Msg  *PeerMessage
}

func NewRouted(msg *PeerMessage, from, to PeerID) *RoutedMessage {
	return &RoutedMessage{
		ID:   uuid.New().String(),
		From: from,
		To:   to,
		Msg:  msg,
	}
}
