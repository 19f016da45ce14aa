package signaling

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Client is a single WebSocket-connected signaling peer (spec's
// SignalingClient). id is an internal bookkeeping handle only — it is
// never sent over the wire in place of label, which is the
// client-chosen, application-visible identifier.
type Client struct {
	id   string
	conn *websocket.Conn

	send    chan []byte
	closeCh chan closeRequest

	connectedAt time.Time

	mu         sync.Mutex
	label      string // empty until Register succeeds
	registered bool
	lastActive time.Time
}

type closeRequest struct {
	code   int
	reason string
}

func newClient(conn *websocket.Conn, outboundBacklog int) *Client {
	now := time.Now()
	return &Client{
		id:          uuid.NewString(),
		conn:        conn,
		send:        make(chan []byte, outboundBacklog),
		closeCh:     make(chan closeRequest, 1),
		connectedAt: now,
		lastActive:  now,
	}
}

func (c *Client) touch() {
	c.mu.Lock()
	c.lastActive = time.Now()
	c.mu.Unlock()
}

func (c *Client) idleSince() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastActive)
}

func (c *Client) isRegistered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registered
}

func (c *Client) registeredLabel() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.label
}

func (c *Client) setRegistered(label string) {
	c.mu.Lock()
	c.registered = true
	c.label = label
	c.mu.Unlock()
}

// enqueue attempts a non-blocking send to the client's outbound channel.
// It reports false if the channel is full, signaling SlowConsumer to
// the caller.
func (c *Client) enqueue(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// closeWithCode asks the client's writePump — the connection's sole
// writer — to send a close frame carrying code and reason. Non-blocking
// and safe to call more than once; only the first request is honored.
func (c *Client) closeWithCode(code int, reason string) {
	select {
	case c.closeCh <- closeRequest{code: code, reason: reason}:
	default:
	}
}
