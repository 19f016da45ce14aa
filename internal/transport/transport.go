// Package transport composes the byte-stream and browser-framed transports
// a node dials and listens on, upgraded with an authenticated, encrypted
// handshake and a stream multiplexer. It does not implement NAT traversal
// for its own connections — a relay, if needed, is operated externally.
package transport

import (
	"errors"
	"fmt"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	noise "github.com/libp2p/go-libp2p/p2p/security/noise"
	yamux "github.com/libp2p/go-libp2p/p2p/muxer/yamux"
	"github.com/libp2p/go-libp2p/p2p/transport/tcp"
	ws "github.com/libp2p/go-libp2p/p2p/transport/websocket"
)

// ErrRefused names a dial whose target multiaddress cannot be parsed or
// matched to a registered transport. Nothing in this package returns it:
// dials go through the host that New returns, and their errors are
// libp2p's own, not wrapped with this sentinel.
var ErrRefused = errors.New("transport: refused")

// ErrUpgradeFailed wraps the error New returns when libp2p cannot
// assemble the host from the configured identity, transports, security
// and muxer. Errors from dials made through that host, including failed
// security or multiplexing handshakes, are not wrapped with it.
var ErrUpgradeFailed = errors.New("transport: upgrade failed")

// Config controls how the host's transport stack is assembled.
type Config struct {
	Identity    crypto.PrivKey
	ListenAddrs []string
}

// New builds a libp2p host with the reliable stream transport (TCP) and
// its browser-compatible framed variant (WebSocket, riding the web's
// standard HTTP Upgrade mechanism), both upgraded with the noise
// authenticated-encryption handshake and yamux stream multiplexing.
//
// Security and muxer selection is explicit rather than left to libp2p's
// defaults, so the upgrade stack named in spec §4.B is pinned: a later
// libp2p release changing its defaults must not silently change this
// node's wire behavior.
func New(cfg Config) (host.Host, error) {
	if cfg.Identity == nil {
		return nil, fmt.Errorf("transport: identity is required")
	}

	opts := []libp2p.Option{
		libp2p.Identity(cfg.Identity),
		libp2p.Transport(tcp.NewTCPTransport),
		libp2p.Transport(ws.New),
		libp2p.Security(noise.ID, noise.New),
		libp2p.Muxer(yamux.ID, yamux.DefaultTransport),
	}

	if len(cfg.ListenAddrs) > 0 {
		opts = append(opts, libp2p.ListenAddrStrings(cfg.ListenAddrs...))
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpgradeFailed, err)
	}
	return h, nil
}

// DefaultListenAddrs are the addresses a node listens on when the caller
// supplies none explicitly: every interface, ephemeral TCP port, plus the
// websocket upgrade on the same family.
func DefaultListenAddrs() []string {
	return []string{
		"/ip4/0.0.0.0/tcp/0",
		"/ip4/0.0.0.0/tcp/0/ws",
		"/ip6/::/tcp/0",
		"/ip6/::/tcp/0/ws",
	}
}
