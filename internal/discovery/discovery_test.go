package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

func TestNew_EventsChannelDefaultsCapacity(t *testing.T) {
	d := New(Config{})
	if cap(d.events) != 64 {
		t.Fatalf("events capacity = %d, want 64", cap(d.events))
	}
}

func TestDiscovery_StartClose_NoHostIsNoop(t *testing.T) {
	d := New(Config{})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start() with no host should not error, got %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestDiscovery_BootnodeSuccessSurfacesOnEventsChannel(t *testing.T) {
	d := New(Config{
		BootnodeAddrs: []string{testBootnodeAddr(t)},
	})
	for _, n := range d.bootstrap.nodes {
		n.backoff = 5 * time.Millisecond
	}
	d.bootstrap.dial = func(ctx context.Context, _ peer.AddrInfo) error { return nil }

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer d.Close()

	select {
	case e := <-d.Events():
		if e.Kind != PeerFound {
			t.Fatalf("expected PeerFound, got %v", e.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for bootstrap event")
	}
}
