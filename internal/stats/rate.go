package stats

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// RateCounter tracks per-key event rates over a sliding window of
// one-second segments. Keys are link identifiers; the driver queries it
// at each poll tick to report observed traffic.
type RateCounter struct {
	shards     []*rateShard
	shardCount uint64
	windowSize int64
}

type rateShard struct {
	mu      sync.RWMutex
	entries map[uint64]*rateRing
}

type rateRing struct {
	segments    []rateSegment
	lastUpdated int64
}

type rateSegment struct {
	second int64
	count  int64
}

func NewRateCounter(shardCount int, windowSeconds int64) *RateCounter {
	rc := &RateCounter{
		shards:     make([]*rateShard, shardCount),
		shardCount: uint64(shardCount),
		windowSize: windowSeconds,
	}
	for i := range rc.shards {
		rc.shards[i] = &rateShard{entries: make(map[uint64]*rateRing)}
	}
	return rc
}

func (rc *RateCounter) shard(h uint64) *rateShard {
	return rc.shards[h%rc.shardCount]
}

// Add records one event for key at the current second.
func (rc *RateCounter) Add(key string) {
	now := time.Now().Unix()
	h := xxhash.Sum64String(key)
	s := rc.shard(h)

	s.mu.Lock()
	defer s.mu.Unlock()
	ring, ok := s.entries[h]
	if !ok {
		ring = &rateRing{segments: make([]rateSegment, rc.windowSize)}
		s.entries[h] = ring
	}
	idx := now % rc.windowSize
	if ring.segments[idx].second != now {
		ring.segments[idx].second = now
		ring.segments[idx].count = 1
	} else {
		ring.segments[idx].count++
	}
	ring.lastUpdated = now
}

// Query sums the events recorded for key over the last lastN seconds,
// capped at the window size.
func (rc *RateCounter) Query(key string, lastN int64) int64 {
	now := time.Now().Unix()
	if lastN > rc.windowSize {
		lastN = rc.windowSize
	}
	h := xxhash.Sum64String(key)
	s := rc.shard(h)

	s.mu.RLock()
	defer s.mu.RUnlock()
	ring, ok := s.entries[h]
	if !ok {
		return 0
	}
	var sum int64
	for i := int64(0); i < lastN; i++ {
		sec := now - i
		idx := sec % rc.windowSize
		if ring.segments[idx].second == sec {
			sum += ring.segments[idx].count
		}
	}
	return sum
}

// WindowTotal sums events across every key over the last lastN seconds.
func (rc *RateCounter) WindowTotal(lastN int64) int64 {
	now := time.Now().Unix()
	if lastN > rc.windowSize {
		lastN = rc.windowSize
	}
	var sum int64
	for _, s := range rc.shards {
		s.mu.RLock()
		for _, ring := range s.entries {
			for i := int64(0); i < lastN; i++ {
				sec := now - i
				idx := sec % rc.windowSize
				if ring.segments[idx].second == sec {
					sum += ring.segments[idx].count
				}
			}
		}
		s.mu.RUnlock()
	}
	return sum
}

// GC drops rings that have not been touched for a full window.
func (rc *RateCounter) GC() {
	threshold := time.Now().Unix() - rc.windowSize
	for _, s := range rc.shards {
		s.mu.Lock()
		for h, ring := range s.entries {
			if ring.lastUpdated < threshold {
				delete(s.entries, h)
			}
		}
		s.mu.Unlock()
	}
}

// StartGC runs GC on a fixed interval until stopCh closes.
func StartGC(rc *RateCounter, interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rc.GC()
		case <-stopCh:
			return
		}
	}
}
