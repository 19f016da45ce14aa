// Package signaling implements the WebRTC signaling relay (component F
// of spec.md): a single-process, multi-client state machine that
// registers browser peers under a self-chosen label and forwards
// Offer/Answer/IceCandidate frames between exactly the addressed pair.
// The hub never parses SDP or ICE candidate strings; it treats them as
// opaque, byte-identical pass-through (spec §9).
package signaling

import (
	"context"
	"log/slog"
	"time"

	"github.com/thenervelab/hippius-libp2p/internal/metrics"
)

// DefaultIdleTimeout is the liveness window after which an inactive
// client is evicted (spec §4.F: "idle>T").
const DefaultIdleTimeout = 60 * time.Second

// Hub owns the SignalingClient registry exclusively; it is the only
// task that ever reads or writes the registry map, which is what makes
// the map safe to use without a mutex (spec §5: "the registry is never
// touched from any task other than the hub task").
type Hub struct {
	log             *slog.Logger
	metrics         *metrics.Metrics
	idleTimeout     time.Duration
	outboundBacklog int

	commands chan any
	clients  map[string]*Client // label -> client, registered only
}

// Config controls Hub construction.
type Config struct {
	Logger          *slog.Logger     // nil-safe; defaults to slog.Default()
	Metrics         *metrics.Metrics // nil-safe
	IdleTimeout     time.Duration    // 0 defaults to DefaultIdleTimeout
	OutboundBacklog int              // 0 defaults to 64
}

// NewHub creates a Hub that has not yet started its Run loop.
func NewHub(cfg Config) *Hub {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	idleTimeout := cfg.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	backlog := cfg.OutboundBacklog
	if backlog <= 0 {
		backlog = 64
	}
	return &Hub{
		log:             logger,
		metrics:         cfg.Metrics,
		idleTimeout:     idleTimeout,
		outboundBacklog: backlog,
		commands:        make(chan any, 256),
		clients:         make(map[string]*Client),
	}
}

type cmdConnected struct {
	client *Client
}

type cmdFrame struct {
	client *Client
	frame  Frame
}

type cmdDisconnected struct {
	client *Client
}

// Run is the hub's single logical task: it owns the registry and
// processes every register/route/disconnect/eviction event serially.
// It returns when ctx is canceled, after closing every registered
// client; connections that never registered are not closed by the hub.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.idleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case cmd := <-h.commands:
			h.handle(cmd)
		case <-ticker.C:
			h.evictIdle()
		}
	}
}

func (h *Hub) handle(cmd any) {
	switch c := cmd.(type) {
	case cmdConnected:
		h.setMetricsClients()
	case cmdFrame:
		h.route(c.client, c.frame)
	case cmdDisconnected:
		h.unregister(c.client, "")
	}
}

// route processes one inbound frame from client according to its
// current state (spec §4.F state machine).
func (h *Hub) route(client *Client, frame Frame) {
	client.touch()

	if !client.isRegistered() {
		if frame.Type != TypeRegister {
			h.log.Warn("signaling: protocol violation, closing client", "frame_type", frame.Type)
			h.closeClient(client, CloseProtocolViolation, "expected Register")
			return
		}
		h.register(client, frame.PeerID)
		return
	}

	if frame.Type == TypeRegister {
		// A registered client re-registering under a new label is
		// treated the same as its first registration: it simply moves
		// slots, displacing any prior holder of the new label.
		if old := client.registeredLabel(); old != frame.PeerID {
			if cur, ok := h.clients[old]; ok && cur == client {
				delete(h.clients, old)
			}
		}
		h.register(client, frame.PeerID)
		return
	}

	if frame.From != client.registeredLabel() {
		h.log.Warn("signaling: impersonation attempt", "claimed_from", frame.From, "actual_label", client.registeredLabel())
		h.closeClient(client, CloseImpersonationAttempt, "from does not match registered label")
		return
	}

	target, ok := h.clients[frame.To]
	if !ok {
		if h.metrics != nil {
			h.metrics.SignalingFramesForwarded.WithLabelValues("dropped_no_target").Inc()
		}
		return // dropped silently per spec §4.F; sender learns via WebRTC timeout
	}

	encoded, err := EncodeFrame(frame)
	if err != nil {
		h.log.Error("signaling: encode frame for forwarding", "error", err)
		return
	}
	if !target.enqueue(encoded) {
		h.log.Warn("signaling: slow consumer, closing client", "label", target.registeredLabel())
		h.closeClient(target, CloseSlowConsumer, "outbound queue full")
		return
	}
	if h.metrics != nil {
		h.metrics.SignalingFramesForwarded.WithLabelValues(string(frame.Type)).Inc()
	}
}

// register atomically displaces any existing client under label before
// installing client in its place (spec §3: "a second Register with the
// same label displaces the previous client").
func (h *Hub) register(client *Client, label string) {
	if prior, ok := h.clients[label]; ok && prior != client {
		h.closeClient(prior, CloseDuplicateConnection, "label re-registered elsewhere")
	}
	client.setRegistered(label)
	h.clients[label] = client
	h.setMetricsClients()
}

// unregister removes client from the registry if it still holds its
// slot. It is a no-op if the client was already displaced by a newer
// registration under the same label.
func (h *Hub) unregister(client *Client, _ string) {
	label := client.registeredLabel()
	if label == "" {
		return
	}
	if cur, ok := h.clients[label]; ok && cur == client {
		delete(h.clients, label)
		h.setMetricsClients()
	}
}

func (h *Hub) evictIdle() {
	for label, c := range h.clients {
		if c.idleSince() > h.idleTimeout {
			h.log.Info("signaling: evicting idle client", "label", label)
			h.closeClient(c, CloseNormal, "idle timeout")
		}
	}
}

func (h *Hub) closeClient(c *Client, code int, reason string) {
	delete(h.clients, c.registeredLabel())
	h.setMetricsClients()
	if h.metrics != nil {
		h.metrics.SignalingEvictions.WithLabelValues(reasonForCode(code)).Inc()
	}
	c.closeWithCode(code, reason)
}

func (h *Hub) closeAll() {
	for _, c := range h.clients {
		c.closeWithCode(CloseNormal, "shutdown")
	}
	h.clients = make(map[string]*Client)
}

func (h *Hub) setMetricsClients() {
	if h.metrics != nil {
		h.metrics.SignalingClients.Set(float64(len(h.clients)))
	}
}

func reasonForCode(code int) string {
	switch code {
	case CloseProtocolViolation:
		return "protocol_violation"
	case CloseDuplicateConnection:
		return "duplicate_connection"
	case CloseSlowConsumer:
		return "slow_consumer"
	case CloseImpersonationAttempt:
		return "impersonation_attempt"
	default:
		return "idle_timeout"
	}
}

// notifyConnected tells the hub a connection was accepted. The hub only
// refreshes the clients gauge, which counts registered clients, so the
// connection is not counted until it registers a label.
func (h *Hub) notifyConnected(c *Client) {
	select {
	case h.commands <- cmdConnected{client: c}:
	default:
	}
}

// notifyFrame hands an inbound frame from c to the hub's single task.
func (h *Hub) notifyFrame(c *Client, f Frame) {
	h.commands <- cmdFrame{client: c, frame: f}
}

// notifyDisconnected tells the hub that c's socket closed so it can be
// dropped from the registry if still present.
func (h *Hub) notifyDisconnected(c *Client) {
	h.commands <- cmdDisconnected{client: c}
}
