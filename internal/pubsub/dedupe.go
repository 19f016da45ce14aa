package pubsub

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/libp2p/go-libp2p/core/peer"
)

// dedupeWindow is the minimum number of (sender, sequence) pairs
// remembered per sender, per spec §3's Envelope suppression invariant.
const dedupeWindow = 1024

// seenSet suppresses duplicate (sender, sequence) deliveries at a
// receiver using a bounded LRU window per sender. Older duplicates that
// fall outside the window are treated as new — the invariant only
// requires suppression within the window, not perfect global dedup.
type seenSet struct {
	mu     sync.Mutex
	bySend map[peer.ID]*lru.Cache[uint64, struct{}]
}

func newSeenSet() *seenSet {
	return &seenSet{bySend: make(map[peer.ID]*lru.Cache[uint64, struct{}])}
}

// seen reports whether (sender, sequence) was already observed, and
// records it for future calls if not.
func (s *seenSet) seen(sender peer.ID, sequence uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.bySend[sender]
	if !ok {
		c, _ = lru.New[uint64, struct{}](dedupeWindow)
		s.bySend[sender] = c
	}
	if _, dup := c.Get(sequence); dup {
		return true
	}
	c.Add(sequence, struct{}{})
	return false
}
