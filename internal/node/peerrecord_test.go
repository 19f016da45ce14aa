package node

import (
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

func randPeerID(t *testing.T) peer.ID {
	t.Helper()
	priv, _, err := crypto.GenerateKeyPair(crypto.Ed25519, -1)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	id, err := peer.IDFromPrivateKey(priv)
	if err != nil {
		t.Fatalf("derive peer id: %v", err)
	}
	return id
}

func TestPeerTable_ObserveCreatesOnFirstSighting(t *testing.T) {
	tbl := newPeerTable(time.Minute)
	id := randPeerID(t)

	rec := tbl.observe(id, "/ip4/1.2.3.4/tcp/4001", SourceMDNS)
	if rec.Source != SourceMDNS {
		t.Fatalf("source = %v, want %v", rec.Source, SourceMDNS)
	}
	if rec.FirstSeen.IsZero() || rec.LastSeen.IsZero() {
		t.Fatal("expected first_seen and last_seen to be set")
	}
	if _, ok := rec.Addresses["/ip4/1.2.3.4/tcp/4001"]; !ok {
		t.Fatal("expected address to be recorded")
	}
}

func TestPeerTable_ObserveNeverOverwritesSource(t *testing.T) {
	tbl := newPeerTable(time.Minute)
	id := randPeerID(t)

	tbl.observe(id, "", SourceMDNS)
	rec := tbl.observe(id, "", SourceBootnode)
	if rec.Source != SourceMDNS {
		t.Fatalf("source = %v, want original %v preserved", rec.Source, SourceMDNS)
	}
}

func TestPeerTable_TouchAdvancesLastSeen(t *testing.T) {
	tbl := newPeerTable(time.Minute)
	id := randPeerID(t)
	rec := tbl.observe(id, "", SourceDialed)
	old := rec.LastSeen

	time.Sleep(5 * time.Millisecond)
	tbl.touch(id)

	list := tbl.list()
	if len(list) != 1 {
		t.Fatalf("len(list) = %d, want 1", len(list))
	}
	if !list[0].LastSeen.After(old) {
		t.Fatal("expected last_seen to advance after touch")
	}
}

func TestPeerTable_TouchUnknownPeerIsNoop(t *testing.T) {
	tbl := newPeerTable(time.Minute)
	tbl.touch(randPeerID(t)) // must not panic
	if len(tbl.list()) != 0 {
		t.Fatal("expected no records")
	}
}

func TestPeerTable_RemoveDropsRecord(t *testing.T) {
	tbl := newPeerTable(time.Minute)
	id := randPeerID(t)
	tbl.observe(id, "", SourceInbound)
	tbl.remove(id)
	if len(tbl.list()) != 0 {
		t.Fatal("expected record to be removed")
	}
}

func TestPeerTable_SweepIdleRemovesStaleUnprotected(t *testing.T) {
	tbl := newPeerTable(10 * time.Millisecond)
	stale := randPeerID(t)
	protected := randPeerID(t)
	tbl.observe(stale, "", SourceMDNS)
	tbl.observe(protected, "", SourceMDNS)

	time.Sleep(20 * time.Millisecond)

	tbl.sweepIdle(map[peer.ID]struct{}{protected: {}})

	list := tbl.list()
	if len(list) != 1 {
		t.Fatalf("len(list) = %d, want 1", len(list))
	}
	if list[0].ID != protected {
		t.Fatalf("surviving record = %s, want protected %s", list[0].ID, protected)
	}
}

func TestPeerTable_SweepIdleKeepsFreshRecords(t *testing.T) {
	tbl := newPeerTable(time.Hour)
	id := randPeerID(t)
	tbl.observe(id, "", SourceMDNS)

	tbl.sweepIdle(map[peer.ID]struct{}{})

	if len(tbl.list()) != 1 {
		t.Fatal("expected fresh record to survive sweep")
	}
}

func TestPeerTable_ListIsASnapshot(t *testing.T) {
	tbl := newPeerTable(time.Minute)
	id := randPeerID(t)
	tbl.observe(id, "/ip4/9.9.9.9/tcp/1", SourceMDNS)

	list := tbl.list()
	list[0].Addresses["/ip4/0.0.0.0/tcp/0"] = struct{}{}

	list2 := tbl.list()
	if _, ok := list2[0].Addresses["/ip4/0.0.0.0/tcp/0"]; ok {
		t.Fatal("mutating a snapshot's addresses must not affect the table")
	}
}
