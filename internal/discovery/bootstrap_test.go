package discovery

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

func testBootnodeAddr(t *testing.T) string {
	t.Helper()
	priv, _, err := crypto.GenerateKeyPair(crypto.Ed25519, -1)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	id, err := peer.IDFromPrivateKey(priv)
	if err != nil {
		t.Fatalf("derive peer id: %v", err)
	}
	return "/ip4/127.0.0.1/tcp/4001/p2p/" + id.String()
}

func TestNewBootstrap_SkipsUnparseableAddrs(t *testing.T) {
	events := make(chan Event, 8)
	b := newBootstrap(nil, []string{"not-a-multiaddr"}, slog.Default(), nil, events)
	if len(b.nodes) != 0 {
		t.Fatalf("expected 0 parsed nodes, got %d", len(b.nodes))
	}
}

func TestNewBootstrap_AcceptsBareAddressWithoutPeerID(t *testing.T) {
	events := make(chan Event, 8)
	b := newBootstrap(nil, []string{"/ip4/127.0.0.1/tcp/14002"}, slog.Default(), nil, events)
	if len(b.nodes) != 1 {
		t.Fatalf("expected 1 parsed node, got %d", len(b.nodes))
	}
	if b.nodes[0].info.ID != "" {
		t.Fatalf("expected no PeerID known in advance, got %q", b.nodes[0].info.ID)
	}
	if len(b.nodes[0].info.Addrs) != 1 {
		t.Fatalf("expected the bare address to be retained, got %v", b.nodes[0].info.Addrs)
	}
}

func TestBootstrap_Run_DialsBareAddressBootnode(t *testing.T) {
	events := make(chan Event, 8)
	b := newBootstrap(nil, []string{"/ip4/127.0.0.1/tcp/14002"}, slog.Default(), nil, events)

	var calls atomic.Int32
	b.dial = func(ctx context.Context, info peer.AddrInfo) error {
		calls.Add(1)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b.Run(ctx)

	if calls.Load() != 1 {
		t.Fatalf("expected exactly 1 dial attempt for the bare address, got %d", calls.Load())
	}

	select {
	case e := <-events:
		if e.Kind != PeerFound {
			t.Fatalf("expected PeerFound, got %v", e.Kind)
		}
	default:
		t.Fatal("expected a PeerFound event even without a known PeerID in advance")
	}
}

func TestBootstrap_Run_SucceedsOnFirstTry(t *testing.T) {
	events := make(chan Event, 8)
	addr := testBootnodeAddr(t)
	b := newBootstrap(nil, []string{addr}, slog.Default(), nil, events)

	var calls atomic.Int32
	b.dial = func(ctx context.Context, info peer.AddrInfo) error {
		calls.Add(1)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b.Run(ctx)

	if calls.Load() != 1 {
		t.Fatalf("expected exactly 1 dial attempt, got %d", calls.Load())
	}

	select {
	case e := <-events:
		if e.Kind != PeerFound {
			t.Fatalf("expected PeerFound, got %v", e.Kind)
		}
	default:
		t.Fatal("expected a PeerFound event")
	}
}

func TestBootstrap_Run_RetriesWithBackoffUntilCanceled(t *testing.T) {
	events := make(chan Event, 64)
	addr := testBootnodeAddr(t)
	b := newBootstrap(nil, []string{addr}, slog.Default(), nil, events)

	var calls atomic.Int32
	b.dial = func(ctx context.Context, info peer.AddrInfo) error {
		calls.Add(1)
		return errors.New("connection refused")
	}
	// Shrink backoff bounds so the test completes quickly while still
	// exercising the doubling behavior.
	for _, n := range b.nodes {
		n.backoff = 10 * time.Millisecond
	}

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	b.Run(ctx)

	if calls.Load() < 2 {
		t.Fatalf("expected multiple retries, got %d", calls.Load())
	}

	failCount := 0
	for {
		select {
		case e := <-events:
			if e.Kind == BootnodeDialFailed {
				failCount++
			}
			continue
		default:
		}
		break
	}
	if failCount == 0 {
		t.Fatal("expected at least one BootnodeDialFailed event")
	}
}

func TestNextBackoff_CapsAtMax(t *testing.T) {
	d := bootstrapInitialBackoff
	for i := 0; i < 20; i++ {
		d = nextBackoff(d)
	}
	if d != bootstrapMaxBackoff {
		t.Fatalf("backoff = %v, want cap of %v", d, bootstrapMaxBackoff)
	}
}
