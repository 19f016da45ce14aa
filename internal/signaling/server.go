package signaling

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

// DefaultPath is the path the hub's WebSocket endpoint listens on
// (spec §6: "port default 8001, path /signal").
const DefaultPath = "/signal"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Browser clients originate from whatever page embeds the web asset
	// server (component H, external collaborator); origin enforcement
	// belongs to that reverse proxy, not the core (spec §1).
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler returns an http.Handler that upgrades incoming requests to
// WebSocket connections and hands them to the hub.
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.log.Warn("signaling: upgrade failed", "error", err)
			return
		}
		h.serveClient(r.Context(), conn)
	})
}

// serveClient runs a connected client's reader and writer pumps to
// completion. Each client gets one reader task and one writer task,
// paired by an errgroup so that either one exiting (socket closed,
// forced eviction) tears down the other (spec §5: "one reader + one
// writer task per connected WebSocket client").
func (h *Hub) serveClient(parent context.Context, conn *websocket.Conn) {
	client := newClient(conn, h.outboundBacklog)
	h.notifyConnected(client)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.readPump(ctx, client) })
	g.Go(func() error { return h.writePump(ctx, client) })
	_ = g.Wait()

	h.notifyDisconnected(client)
	_ = conn.Close()
}

func (h *Hub) readPump(ctx context.Context, client *Client) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			return err
		}
		client.touch()

		frame, err := DecodeFrame(data)
		if err != nil {
			h.log.Warn("signaling: malformed frame, closing client", "error", err)
			client.closeWithCode(CloseProtocolViolation, "malformed frame")
			return err
		}
		h.notifyFrame(client, frame)
	}
}

func (h *Hub) writePump(ctx context.Context, client *Client) error {
	const pingInterval = 20 * time.Second
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-client.closeCh:
			deadline := time.Now().Add(2 * time.Second)
			msg := websocket.FormatCloseMessage(req.code, req.reason)
			_ = client.conn.WriteControl(websocket.CloseMessage, msg, deadline)
			_ = client.conn.Close()
			return nil
		case msg, ok := <-client.send:
			if !ok {
				return nil
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return err
			}
			client.touch()
		case <-ticker.C:
			if err := client.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return err
			}
		}
	}
}
