// Command hippius-node is the external process entry point (spec §6,
// component I): it parses the CLI surface, loads configuration, and
// wires the Identity Store, Transport Stack, Discovery, PubSub Engine,
// Node Controller, Signaling Hub, and Metrics Surface together
// according to the selected mode.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/thenervelab/hippius-libp2p/internal/config"
	"github.com/thenervelab/hippius-libp2p/internal/discovery"
	"github.com/thenervelab/hippius-libp2p/internal/identity"
	"github.com/thenervelab/hippius-libp2p/internal/metrics"
	"github.com/thenervelab/hippius-libp2p/internal/node"
	"github.com/thenervelab/hippius-libp2p/internal/pubsub"
	"github.com/thenervelab/hippius-libp2p/internal/signaling"
	"github.com/thenervelab/hippius-libp2p/internal/transport"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	fs := flag.NewFlagSet("hippius-node", flag.ContinueOnError)
	mode := fs.String("mode", "all", "run mode: all, bootnode, node, signaling")
	configPath := fs.String("config", "", "path to config file (searches standard locations if unset)")
	webPort := fs.Int("web-port", 8000, "port for the static web asset server and node command API")
	signalingPort := fs.Int("signaling-port", 8001, "port for the WebRTC signaling hub")
	bootnodePort := fs.Int("bootnode-port", 4001, "port this node listens on for peer-mesh connections")
	bootnodeAddress := fs.String("bootnode-address", "", "multiaddr of a bootnode to dial on startup")
	webRoot := fs.String("web-root", "", "directory to serve as static web assets (disabled if unset)")
	dataDir := fs.String("data-dir", "", "directory for persisted identity state (default: data/<mode>)")

	if err := fs.Parse(os.Args[1:]); err != nil {
		argError("%v", err)
		return
	}

	cfg, err := buildConfig(*mode, *configPath, *bootnodePort, *bootnodeAddress, *dataDir)
	if err != nil {
		argError("%v", err)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, *webPort, *signalingPort, *webRoot); err != nil {
		fatal("hippius-node: %v", err)
		return
	}
}

// buildConfig loads a config file if one is named or discoverable, and
// falls back to CLI-flag-only defaults otherwise — the CLI surface is
// specified for completeness as an external collaborator (spec §6), not
// as a required on-disk artifact.
func buildConfig(mode, configPath string, bootnodePort int, bootnodeAddress, dataDir string) (*config.Config, error) {
	if path, err := config.FindConfigFile(configPath); err == nil {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		config.ResolveConfigPaths(cfg, filepath.Dir(path))
		if err := config.Validate(cfg); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		return cfg, nil
	} else if configPath != "" {
		return nil, err
	}

	m := config.Mode(mode)
	if dataDir == "" {
		dataDir = filepath.Join("data", mode)
	}
	cfg := &config.Config{
		Version: config.CurrentConfigVersion,
		Mode:    m,
		Identity: config.IdentityConfig{
			KeyFile: filepath.Join(dataDir, identity.KeyFileName),
		},
		Network: config.NetworkConfig{
			ListenAddresses: []string{fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", bootnodePort)},
		},
		Signaling: config.SignalingConfig{
			ListenAddress:   fmt.Sprintf("0.0.0.0:%d", bootnodePort+1),
			IdleTimeout:     signaling.DefaultIdleTimeout,
			OutboundBacklog: 64,
		},
	}
	if bootnodeAddress != "" {
		cfg.Discovery.BootnodeAddrs = []string{bootnodeAddress}
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config, webPort, signalingPort int, webRoot string) error {
	m := metrics.New()

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		mux.Handle("/stats", m.StatsHandler())
		metricsSrv = &http.Server{Addr: cfg.Metrics.ListenAddress, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server exited", "error", err)
			}
		}()
		defer metricsSrv.Close()
	}

	if cfg.Mode == config.ModeSignaling {
		return runSignaling(ctx, cfg, m, signalingPort)
	}

	nodeErr := make(chan error, 1)
	go func() { nodeErr <- runNode(ctx, cfg, m, webPort, webRoot) }()

	if cfg.Mode == config.ModeAll {
		signalErr := make(chan error, 1)
		go func() { signalErr <- runSignaling(ctx, cfg, m, signalingPort) }()
		select {
		case err := <-nodeErr:
			return err
		case err := <-signalErr:
			return err
		}
	}

	return <-nodeErr
}

func runNode(ctx context.Context, cfg *config.Config, m *metrics.Metrics, webPort int, webRoot string) error {
	store := identity.NewStore(cfg.Identity.KeyFile)
	priv, err := store.Load()
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}

	h, err := transport.New(transport.Config{Identity: priv, ListenAddrs: cfg.Network.ListenAddresses})
	if err != nil {
		return fmt.Errorf("build transport: %w", err)
	}

	// Shared across discovery's bootnode dials and the Node Controller's
	// discovered-peer dials so the same peer/address is never dialed
	// concurrently from both paths at once.
	dialGate := transport.NewDialGate()

	disc := discovery.New(discovery.Config{
		Host:          h,
		Metrics:       m,
		Logger:        slog.Default(),
		ServiceName:   cfg.Discovery.MDNSServiceName,
		BootnodeAddrs: cfg.Discovery.BootnodeAddrs,
		DialGate:      dialGate,
	})
	if err := disc.Start(ctx); err != nil {
		return fmt.Errorf("start discovery: %w", err)
	}

	eng, err := pubsub.New(ctx, pubsub.Config{Host: h, Metrics: m, MaxPayloadBytes: cfg.Pubsub.MaxPayloadBytes})
	if err != nil {
		return fmt.Errorf("build pubsub engine: %w", err)
	}

	ctrl := node.New(node.Config{
		Host:      h,
		Discovery: disc,
		Pubsub:    eng,
		Metrics:   m,
		Logger:    slog.Default(),
		DialGate:  dialGate,
	})

	runDone := make(chan error, 1)
	go func() { runDone <- ctrl.Run(ctx) }()

	mux := http.NewServeMux()
	mux.Handle("/v1/", ctrl.Handler())
	if webRoot != "" {
		mux.Handle("/", http.FileServer(http.Dir(webRoot)))
	}
	webSrv := &http.Server{Addr: fmt.Sprintf("0.0.0.0:%d", webPort), Handler: mux}
	go func() {
		if err := webSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("web server exited", "error", err)
		}
	}()
	defer webSrv.Close()

	slog.Info("hippius-node started", "mode", cfg.Mode, "peer_id", h.ID(), "web_port", webPort)

	err = <-runDone
	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func runSignaling(ctx context.Context, cfg *config.Config, m *metrics.Metrics, signalingPort int) error {
	hub := signaling.NewHub(signaling.Config{
		Logger:          slog.Default(),
		Metrics:         m,
		IdleTimeout:     cfg.Signaling.IdleTimeout,
		OutboundBacklog: cfg.Signaling.OutboundBacklog,
	})
	go hub.Run(ctx)

	addr := cfg.Signaling.ListenAddress
	if signalingPort != 0 {
		addr = fmt.Sprintf("0.0.0.0:%d", signalingPort)
	}
	srv := &http.Server{Addr: addr, Handler: hub.Handler()}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	slog.Info("signaling hub started", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
