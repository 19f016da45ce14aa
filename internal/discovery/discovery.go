// Package discovery finds peers on the local network segment via mDNS and
// connects to configured bootnodes on wide-area segments with retrying
// backoff. Both sub-behaviors emit events onto a single channel so the
// Node Controller can multiplex them without depending on either
// mechanism's internals (spec §9: "re-architect as a tagged event
// union").
package discovery

import (
	"context"
	"log/slog"
	"sync"

	"github.com/libp2p/go-libp2p/core/host"

	"github.com/thenervelab/hippius-libp2p/internal/metrics"
	"github.com/thenervelab/hippius-libp2p/internal/transport"
)

// EventKind tags a discovery Event.
type EventKind int

const (
	// PeerFound is emitted whenever a peer is newly observed, by mDNS or
	// by a successful bootnode dial. Advisory — rediscovery may occur.
	PeerFound EventKind = iota
	// PeerLost is emitted when a previously observed peer disappears.
	// Advisory only.
	PeerLost
	// BootnodeDialFailed is emitted on every failed bootnode dial
	// attempt, including retries.
	BootnodeDialFailed
)

// Event is the tagged union emitted by Discovery's sub-behaviors.
type Event struct {
	Kind   EventKind
	PeerID string // set for PeerFound/PeerLost
	Source string // "mdns" | "bootnode"
	Err    error  // set for BootnodeDialFailed
}

// Discovery aggregates the mDNS and bootnode-bootstrap sub-behaviors and
// funnels their events into one channel.
type Discovery struct {
	host    host.Host
	log     *slog.Logger
	metrics *metrics.Metrics

	events chan Event

	mdns      *MDNS
	bootstrap *Bootstrap

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// Config controls Discovery construction.
type Config struct {
	Host           host.Host
	Metrics        *metrics.Metrics    // nil-safe
	Logger         *slog.Logger        // nil-safe; defaults to slog.Default()
	ServiceName    string              // mDNS service name; defaults to MDNSServiceName
	BootnodeAddrs  []string            // multiaddrs to dial on startup
	EventsCapacity int                 // 0 defaults to 64
	DialGate       *transport.DialGate // nil-safe; enforces at-most-once-concurrent dial per address
}

// New creates a Discovery that has not yet started its sub-behaviors.
func New(cfg Config) *Discovery {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cap := cfg.EventsCapacity
	if cap <= 0 {
		cap = 64
	}
	events := make(chan Event, cap)

	d := &Discovery{
		host:    cfg.Host,
		log:     logger,
		metrics: cfg.Metrics,
		events:  events,
	}
	d.mdns = newMDNS(cfg.Host, cfg.ServiceName, logger, cfg.Metrics, events)
	d.bootstrap = newBootstrapWithGate(cfg.Host, cfg.BootnodeAddrs, logger, cfg.Metrics, events, cfg.DialGate)
	return d
}

// Events returns the channel on which discovery events are delivered.
// The Node Controller's event loop selects on this channel.
func (d *Discovery) Events() <-chan Event {
	return d.events
}

// Start begins mDNS advertising/browsing and the bootnode dial-with
// -backoff loop. It returns once both sub-behaviors have been launched;
// they continue running in background goroutines until ctx is canceled
// or Close is called.
func (d *Discovery) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.mdns.Start(ctx); err != nil {
		cancel()
		return err
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.bootstrap.Run(ctx)
	}()

	return nil
}

// Close stops both sub-behaviors and waits for their goroutines to exit.
func (d *Discovery) Close() error {
	if d.cancel != nil {
		d.cancel()
	}
	err := d.mdns.Close()
	d.wg.Wait()
	return err
}
