// Package pubsub wraps go-libp2p-pubsub's gossip-based dissemination
// (component D of spec.md): topic subscription lifecycle, publish with
// NoSubscribers/PayloadTooLarge enforcement, and duplicate-suppressing
// delivery to local subscribers.
package pubsub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	ps "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/thenervelab/hippius-libp2p/internal/metrics"
)

// DefaultMaxPayloadBytes is the default bound on an Envelope's payload,
// per spec §3.
const DefaultMaxPayloadBytes = 1 << 20 // 1 MiB

// Delivery is handed to a topic's subscriber callback for every envelope
// accepted past duplicate suppression.
type Delivery struct {
	Topic    string
	Payload  []byte
	Sender   peer.ID
	Sequence uint64
}

// Handler receives deliveries for a topic. It must not block for long;
// the engine's read loop for that topic stalls while Handler runs.
type Handler func(Delivery)

// Engine is a gossip-based pubsub engine over a single libp2p host. The
// zero value is not usable; construct with New.
type Engine struct {
	host            host.Host
	ps              *ps.PubSub
	metrics         *metrics.Metrics
	log             *slog.Logger
	maxPayloadBytes int

	mu     sync.Mutex
	topics map[string]*topicState
	seen   *seenSet

	localSeq atomic.Uint64
}

// Config controls Engine construction.
type Config struct {
	Host            host.Host
	Metrics         *metrics.Metrics // nil-safe
	Logger          *slog.Logger     // nil-safe; defaults to slog.Default()
	MaxPayloadBytes int              // 0 defaults to DefaultMaxPayloadBytes
}

// New creates a gossipsub-backed Engine on top of h.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	if cfg.Host == nil {
		return nil, fmt.Errorf("pubsub: host is required")
	}
	gs, err := ps.NewGossipSub(ctx, cfg.Host)
	if err != nil {
		return nil, fmt.Errorf("pubsub: new gossipsub: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxPayload := cfg.MaxPayloadBytes
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayloadBytes
	}

	return &Engine{
		host:            cfg.Host,
		ps:              gs,
		metrics:         cfg.Metrics,
		log:             logger,
		maxPayloadBytes: maxPayload,
		topics:          make(map[string]*topicState),
		seen:            newSeenSet(),
	}, nil
}

// join returns the topicState for name, joining the underlying gossipsub
// topic on first use. Joining (without subscribing) is what lets a topic
// act as a forwarding participant with zero local subscriptions.
func (e *Engine) join(name string) (*topicState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if t, ok := e.topics[name]; ok {
		return t, nil
	}
	handle, err := e.ps.Join(name)
	if err != nil {
		return nil, fmt.Errorf("pubsub: join topic %q: %w", name, err)
	}
	t := &topicState{handle: handle}
	e.topics[name] = t
	return t, nil
}

// Create establishes topic as a forwarding participant without a local
// subscription: the engine joins the mesh and relays traffic for it but
// delivers nothing locally until Subscribe is called (spec §3: "a topic
// with zero local subscriptions has no local delivery obligations but
// MAY still be a forwarding participant"). Idempotent.
func (e *Engine) Create(topic string) error {
	_, err := e.join(topic)
	return err
}

// Subscribe begins local participation in topic, delivering accepted
// envelopes to handler. Idempotent: a second Subscribe on an
// already-subscribed topic is a no-op (spec §4.D).
func (e *Engine) Subscribe(ctx context.Context, topic string, handler Handler) error {
	t, err := e.join(topic)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.subscribed {
		return nil
	}

	sub, err := t.handle.Subscribe()
	if err != nil {
		return fmt.Errorf("pubsub: subscribe %q: %w", topic, err)
	}
	loopCtx, cancel := context.WithCancel(ctx)
	t.sub = sub
	t.cancel = cancel
	t.subscribed = true

	go e.readLoop(loopCtx, topic, sub, handler)
	return nil
}

func (e *Engine) readLoop(ctx context.Context, topic string, sub *ps.Subscription, handler Handler) {
	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			return // context canceled (Unsubscribe/Shutdown) or subscription closed
		}
		env, err := Decode(msg.Data)
		if err != nil {
			e.log.Warn("pubsub: dropping malformed envelope", "topic", topic, "error", err)
			continue
		}
		env.Topic = topic

		if e.seen.seen(env.Sender, env.Sequence) {
			continue // duplicate (sender, sequence); suppressed silently
		}

		if e.metrics != nil {
			e.metrics.PubsubMessagesReceived.WithLabelValues(topic).Inc()
			e.metrics.PubsubBytesReceived.WithLabelValues(topic).Add(float64(len(env.Payload)))
		}

		if handler != nil {
			handler(Delivery{
				Topic:    topic,
				Payload:  env.Payload,
				Sender:   env.Sender,
				Sequence: env.Sequence,
			})
		}
	}
}

// Unsubscribe drops local mesh membership for topic. Idempotent. After it
// returns, no further delivery callbacks for topic occur at this node
// (spec §8 invariant) — the subscription's cancel func is invoked before
// Unsubscribe returns, and its read loop observes ctx.Done() on its very
// next iteration.
func (e *Engine) Unsubscribe(topic string) error {
	e.mu.Lock()
	t, ok := e.topics[topic]
	e.mu.Unlock()
	if !ok {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.subscribed {
		return nil
	}
	t.cancel()
	t.sub.Cancel()
	t.sub = nil
	t.cancel = nil
	t.subscribed = false
	return nil
}

// Publish disseminates payload on topic. It fails with ErrNoSubscribers
// only if the topic has no local subscription and no mesh peers; it
// fails with ErrPayloadTooLarge if payload exceeds the configured bound.
// A successful return means the message was handed to the mesh, not
// that any peer has received it (at-most-once receive, at-least-once
// forward).
func (e *Engine) Publish(ctx context.Context, topic string, payload []byte) error {
	if len(payload) > e.maxPayloadBytes {
		return fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrPayloadTooLarge, len(payload), e.maxPayloadBytes)
	}

	t, err := e.join(topic)
	if err != nil {
		return err
	}

	t.mu.Lock()
	subscribed := t.subscribed
	handle := t.handle
	t.mu.Unlock()

	// Sequence numbers are allocated once per sender for the engine's
	// whole lifetime (spec §3: "monotonic per sender per session"), not
	// per topic — otherwise two topics from the same sender collide in a
	// receiver's (sender, sequence) dedupe key and the second topic's
	// message is suppressed as a false duplicate.
	seq := e.localSeq.Add(1) - 1

	if !subscribed && len(handle.ListPeers()) == 0 {
		return fmt.Errorf("%w: topic %q", ErrNoSubscribers, topic)
	}

	env := Envelope{
		Topic:    topic,
		Payload:  payload,
		Sender:   e.host.ID(),
		Sequence: seq,
	}
	if err := handle.Publish(ctx, Encode(env)); err != nil {
		return fmt.Errorf("pubsub: publish %q: %w", topic, err)
	}

	if e.metrics != nil {
		e.metrics.PubsubMessagesSent.WithLabelValues(topic).Inc()
		e.metrics.PubsubBytesSent.WithLabelValues(topic).Add(float64(len(payload)))
	}
	return nil
}

// Topics returns the names of every topic currently joined (subscribed
// or purely forwarding).
func (e *Engine) Topics() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.topics))
	for name := range e.topics {
		out = append(out, name)
	}
	return out
}

// IsSubscribed reports whether the engine holds a live local
// subscription to topic.
func (e *Engine) IsSubscribed(topic string) bool {
	e.mu.Lock()
	t, ok := e.topics[topic]
	e.mu.Unlock()
	if !ok {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.subscribed
}
