package node

import (
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

// Source names where a PeerRecord's existence was first learned from
// (spec §3).
type Source string

const (
	SourceMDNS     Source = "mdns"
	SourceBootnode Source = "bootnode"
	SourceDialed   Source = "dialed"
	SourceInbound  Source = "inbound"
)

// PeerRecord is the Node Controller's in-memory view of a peer (spec
// §3). The Controller is its sole owner; no other component reads or
// writes it directly.
type PeerRecord struct {
	ID        peer.ID
	Addresses map[string]struct{}
	FirstSeen time.Time
	LastSeen  time.Time
	Source    Source
}

// peerTable is the PeerRecord table: created on first sighting,
// last_seen advanced on any observable event, removed after
// DefaultPeerIdleTimeout unless actively subscribed-to.
type peerTable struct {
	mu          sync.Mutex
	records     map[peer.ID]*PeerRecord
	idleTimeout time.Duration
}

func newPeerTable(idleTimeout time.Duration) *peerTable {
	return &peerTable{
		records:     make(map[peer.ID]*PeerRecord),
		idleTimeout: idleTimeout,
	}
}

// observe records a sighting of id from source, creating the record on
// first sighting and advancing last_seen otherwise. An existing
// record's source is never overwritten — first_seen's provenance is
// permanent.
func (t *peerTable) observe(id peer.ID, addr string, source Source) *PeerRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	rec, ok := t.records[id]
	if !ok {
		rec = &PeerRecord{
			ID:        id,
			Addresses: make(map[string]struct{}),
			FirstSeen: now,
			Source:    source,
		}
		t.records[id] = rec
	}
	rec.LastSeen = now
	if addr != "" {
		rec.Addresses[addr] = struct{}{}
	}
	return rec
}

func (t *peerTable) touch(id peer.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rec, ok := t.records[id]; ok {
		rec.LastSeen = time.Now()
	}
}

func (t *peerTable) remove(id peer.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, id)
}

// list returns a snapshot of every known PeerRecord.
func (t *peerTable) list() []PeerRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]PeerRecord, 0, len(t.records))
	for _, rec := range t.records {
		addrs := make(map[string]struct{}, len(rec.Addresses))
		for a := range rec.Addresses {
			addrs[a] = struct{}{}
		}
		out = append(out, PeerRecord{
			ID:        rec.ID,
			Addresses: addrs,
			FirstSeen: rec.FirstSeen,
			LastSeen:  rec.LastSeen,
			Source:    rec.Source,
		})
	}
	return out
}

// sweepIdle removes every record whose last_seen exceeds the idle
// timeout, except those in keep (peers actively subscribed-to via
// pubsub, per spec §3).
func (t *peerTable) sweepIdle(keep map[peer.ID]struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	for id, rec := range t.records {
		if _, protected := keep[id]; protected {
			continue
		}
		if now.Sub(rec.LastSeen) > t.idleTimeout {
			delete(t.records, id)
		}
	}
}
