package discovery

import (
	"context"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/zeroconf/v2"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/thenervelab/hippius-libp2p/internal/metrics"
)

// MDNSServiceName is the DNS-SD service type used for LAN discovery.
const MDNSServiceName = "_hippius-libp2p._udp"

const (
	mdnsBrowseInterval = 30 * time.Second
	mdnsBrowseTimeout  = 10 * time.Second
	dnsaddrPrefix      = "dnsaddr="
)

// MDNS runs a local-segment multicast announcement service: it
// advertises this host's addresses via DNS-SD TXT records and
// periodically browses for other advertisers, emitting PeerFound/
// PeerLost events as peers appear and disappear (spec §4.C).
type MDNS struct {
	host        host.Host
	serviceName string
	log         *slog.Logger
	metrics     *metrics.Metrics
	events      chan<- Event

	server *zeroconf.Server

	mu   sync.Mutex
	seen map[peer.ID]time.Time // last time each peer was observed this round
}

func newMDNS(h host.Host, serviceName string, log *slog.Logger, m *metrics.Metrics, events chan<- Event) *MDNS {
	if serviceName == "" {
		serviceName = MDNSServiceName
	}
	return &MDNS{
		host:        h,
		serviceName: serviceName,
		log:         log,
		metrics:     m,
		events:      events,
		seen:        make(map[peer.ID]time.Time),
	}
}

// Start registers the advertisement and launches the periodic browse
// loop in a background goroutine.
func (m *MDNS) Start(ctx context.Context) error {
	if m.host == nil {
		return nil // mDNS disabled when no host is attached
	}
	if err := m.startServer(); err != nil {
		return err
	}
	go m.browseLoop(ctx)
	return nil
}

// Close shuts down the mDNS advertisement.
func (m *MDNS) Close() error {
	if m.server != nil {
		m.server.Shutdown()
	}
	return nil
}

func (m *MDNS) startServer() error {
	interfaceAddrs, err := m.host.Network().InterfaceListenAddresses()
	if err != nil {
		return err
	}
	p2pAddrs, err := peer.AddrInfoToP2pAddrs(&peer.AddrInfo{ID: m.host.ID(), Addrs: interfaceAddrs})
	if err != nil {
		return err
	}

	var txts []string
	for _, addr := range p2pAddrs {
		txts = append(txts, dnsaddrPrefix+addr.String())
	}

	name := randomString(32 + rand.Intn(32))
	server, err := zeroconf.Register(name, m.serviceName, "local.", 4001, txts, nil)
	if err != nil {
		return err
	}
	m.server = server
	return nil
}

func (m *MDNS) browseLoop(ctx context.Context) {
	m.runBrowse(ctx)

	ticker := time.NewTicker(mdnsBrowseInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.runBrowse(ctx)
		}
	}
}

func (m *MDNS) runBrowse(ctx context.Context) {
	browseCtx, cancel := context.WithTimeout(ctx, mdnsBrowseTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 100)

	roundSeen := make(map[peer.ID]struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			m.handleEntry(entry, roundSeen)
		}
	}()

	if err := zeroconf.Browse(browseCtx, m.serviceName, "local.", entries); err != nil && ctx.Err() == nil {
		m.log.Debug("mdns: browse round error", "error", err)
	}
	wg.Wait()

	m.reconcileRound(roundSeen)
}

func (m *MDNS) handleEntry(entry *zeroconf.ServiceEntry, roundSeen map[peer.ID]struct{}) {
	var addrs []ma.Multiaddr
	for _, txt := range entry.Text {
		if !strings.HasPrefix(txt, dnsaddrPrefix) {
			continue
		}
		addr, err := ma.NewMultiaddr(txt[len(dnsaddrPrefix):])
		if err != nil {
			continue
		}
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return
	}

	infos, err := peer.AddrInfosFromP2pAddrs(addrs...)
	if err != nil {
		return
	}
	for _, info := range infos {
		if info.ID == m.host.ID() {
			continue
		}
		roundSeen[info.ID] = struct{}{}
		m.onPeerFound(info)
	}
}

func (m *MDNS) onPeerFound(pi peer.AddrInfo) {
	m.mu.Lock()
	_, already := m.seen[pi.ID]
	m.seen[pi.ID] = time.Now()
	m.mu.Unlock()

	m.host.Peerstore().AddAddrs(pi.ID, pi.Addrs, 10*time.Minute)

	if m.metrics != nil {
		m.metrics.DialAttempts.WithLabelValues("mdns", "ok").Inc()
	}
	if already {
		return // already known this session; PeerFound already emitted once
	}
	m.emit(Event{Kind: PeerFound, PeerID: pi.ID.String(), Source: "mdns"})
}

// reconcileRound emits PeerLost for any previously seen peer absent from
// this round's results.
func (m *MDNS) reconcileRound(roundSeen map[peer.ID]struct{}) {
	m.mu.Lock()
	var lost []peer.ID
	for id := range m.seen {
		if _, ok := roundSeen[id]; !ok {
			lost = append(lost, id)
			delete(m.seen, id)
		}
	}
	m.mu.Unlock()

	for _, id := range lost {
		m.emit(Event{Kind: PeerLost, PeerID: id.String(), Source: "mdns"})
	}
}

func (m *MDNS) emit(e Event) {
	select {
	case m.events <- e:
	default:
		m.log.Warn("mdns: events channel full, dropping event", "kind", e.Kind)
	}
}

func randomString(n int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[rand.Intn(len(alphabet))]
	}
	return string(b)
}
