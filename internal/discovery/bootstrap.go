package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"golang.org/x/time/rate"

	"github.com/thenervelab/hippius-libp2p/internal/metrics"
	"github.com/thenervelab/hippius-libp2p/internal/transport"
)

const (
	bootstrapInitialBackoff = 1 * time.Second
	bootstrapMaxBackoff     = 60 * time.Second
	bootstrapBackoffFactor  = 2.0
	bootstrapJitterFraction = 0.2

	// bootstrapDialRateLimit bounds the total bootnode dial attempt rate
	// across every configured bootnode combined, independent of each
	// node's own backoff: a long bootnode list whose entries all happen
	// to back off in sync must still not burst-dial the network.
	bootstrapDialRateLimit = 5 // attempts per second
	bootstrapDialBurst     = 5
)

// managedBootnode tracks one configured bootnode's dial state, mirroring
// the backoff bookkeeping used for general peer redial (spec §4.C: "a
// failed bootnode dial is retried with exponential backoff starting at
// 1s, capped at 60s, unbounded attempts").
type managedBootnode struct {
	addr    ma.Multiaddr
	info    peer.AddrInfo
	backoff time.Duration
}

// Bootstrap dials a fixed set of bootnode multiaddresses on startup and
// keeps retrying any that fail, with exponential backoff, for as long as
// it runs.
type Bootstrap struct {
	host    host.Host
	log     *slog.Logger
	metrics *metrics.Metrics
	events  chan<- Event

	dial func(ctx context.Context, info peer.AddrInfo) error

	limiter  *rate.Limiter
	dialGate *transport.DialGate

	mu    sync.Mutex
	nodes []*managedBootnode
}

func newBootstrap(h host.Host, addrs []string, log *slog.Logger, m *metrics.Metrics, events chan<- Event) *Bootstrap {
	return newBootstrapWithGate(h, addrs, log, m, events, nil)
}

func newBootstrapWithGate(h host.Host, addrs []string, log *slog.Logger, m *metrics.Metrics, events chan<- Event, gate *transport.DialGate) *Bootstrap {
	b := &Bootstrap{
		host:     h,
		log:      log,
		metrics:  m,
		events:   events,
		limiter:  rate.NewLimiter(rate.Limit(bootstrapDialRateLimit), bootstrapDialBurst),
		dialGate: gate,
	}
	b.dial = b.defaultDial

	for _, raw := range addrs {
		addr, err := ma.NewMultiaddr(raw)
		if err != nil {
			log.Warn("bootstrap: skipping unparseable bootnode address", "addr", raw, "error", err)
			continue
		}
		// The trailing /p2p/<peer-id> suffix is optional (spec §6): a
		// bootnode named by address alone is dialed with an unknown
		// target identity and trusted on first successful dial — the
		// security handshake reveals the remote's real peer ID, which
		// libp2p's swarm then tracks the connection under.
		info, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			info = &peer.AddrInfo{Addrs: []ma.Multiaddr{addr}}
		}
		b.nodes = append(b.nodes, &managedBootnode{
			addr:    addr,
			info:    *info,
			backoff: bootstrapInitialBackoff,
		})
	}
	return b
}

func (b *Bootstrap) defaultDial(ctx context.Context, info peer.AddrInfo) error {
	if b.host == nil {
		return fmt.Errorf("bootstrap: no host attached")
	}
	return b.host.Connect(ctx, info)
}

// Run dials every configured bootnode concurrently and keeps retrying
// failures with backoff until ctx is canceled. A bootnode that succeeds
// stops being retried; spec.md does not require re-verifying a bootnode
// once connected (ongoing liveness is the Node Controller's concern).
func (b *Bootstrap) Run(ctx context.Context) {
	b.mu.Lock()
	nodes := make([]*managedBootnode, len(b.nodes))
	copy(nodes, b.nodes)
	b.mu.Unlock()

	if len(nodes) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, n := range nodes {
		wg.Add(1)
		go func(n *managedBootnode) {
			defer wg.Done()
			b.runOne(ctx, n)
		}(n)
	}
	wg.Wait()
}

func (b *Bootstrap) runOne(ctx context.Context, n *managedBootnode) {
	key := n.info.ID.String()
	if key == "" {
		key = n.addr.String()
	}

	for {
		if ctx.Err() != nil {
			return
		}

		if err := b.limiter.Wait(ctx); err != nil {
			return
		}

		var release func()
		if b.dialGate != nil {
			var ok bool
			release, ok = b.dialGate.TryDial(key)
			if !ok {
				// A dial to this bootnode is already in flight elsewhere;
				// wait out this round's backoff instead of busy-looping on
				// the gate.
				select {
				case <-ctx.Done():
					return
				case <-time.After(jitter(n.backoff)):
				}
				continue
			}
		}

		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := b.dial(dialCtx, n.info)
		cancel()
		if release != nil {
			release()
		}

		if err == nil {
			id := n.info.ID
			if id == "" {
				if discovered, ok := b.discoverPeerID(n.addr); ok {
					id = discovered
				}
			}
			if b.metrics != nil {
				b.metrics.DialAttempts.WithLabelValues("bootnode", "ok").Inc()
			}
			b.emit(Event{Kind: PeerFound, PeerID: id.String(), Source: "bootnode"})
			n.backoff = bootstrapInitialBackoff
			return
		}

		if b.metrics != nil {
			b.metrics.DialAttempts.WithLabelValues("bootnode", "fail").Inc()
		}
		b.emit(Event{Kind: BootnodeDialFailed, PeerID: n.info.ID.String(), Source: "bootnode", Err: err})

		wait := n.backoff
		n.backoff = nextBackoff(n.backoff)

		select {
		case <-ctx.Done():
			return
		case <-time.After(jitter(wait)):
		}
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	next := time.Duration(float64(cur) * bootstrapBackoffFactor)
	if next > bootstrapMaxBackoff {
		next = bootstrapMaxBackoff
	}
	return next
}

// jitter spreads retries by up to bootstrapJitterFraction so that many
// nodes configured with the same bootnode list don't all redial in
// lockstep.
func jitter(d time.Duration) time.Duration {
	delta := time.Duration(float64(d) * bootstrapJitterFraction * rand.Float64())
	return d + delta
}

// discoverPeerID looks up the peer ID libp2p's swarm assigned to the
// connection it just opened to addr, for bootnodes configured without a
// /p2p suffix whose identity is learned from the security handshake
// rather than known in advance.
func (b *Bootstrap) discoverPeerID(addr ma.Multiaddr) (peer.ID, bool) {
	if b.host == nil {
		return "", false
	}
	for _, conn := range b.host.Network().Conns() {
		if conn.Stat().Direction == network.DirOutbound && conn.RemoteMultiaddr().Equal(addr) {
			return conn.RemotePeer(), true
		}
	}
	return "", false
}

func (b *Bootstrap) emit(e Event) {
	select {
	case b.events <- e:
	default:
		b.log.Warn("bootstrap: events channel full, dropping event", "kind", e.Kind)
	}
}
