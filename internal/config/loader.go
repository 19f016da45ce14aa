package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// checkConfigFilePermissions rejects config files that are group- or
// world-readable. Config files name bootnode addresses and local
// listen ports and have no business being readable by other accounts.
func checkConfigFilePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return nil // file access errors are handled by the caller
	}
	if mode := info.Mode().Perm(); mode&0077 != 0 {
		return fmt.Errorf("%w: %s has mode %04o; fix with: chmod 600 %s", ErrInsecurePermissions, path, mode, path)
	}
	return nil
}

// Load reads a Config from a YAML file at path, rejecting insecure file
// permissions and too-new versions, and applies defaults for anything
// left unset. It does not run Validate; callers do that separately.
func Load(path string) (*Config, error) {
	if err := checkConfigFilePermissions(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	// Raw mirror of Config with duration fields as strings, since
	// time.Duration does not implement yaml.Unmarshaler for "60s"-style
	// text out of the box.
	var raw struct {
		Version   int             `yaml:"version,omitempty"`
		Mode      Mode            `yaml:"mode,omitempty"`
		Identity  IdentityConfig  `yaml:"identity"`
		Network   NetworkConfig   `yaml:"network"`
		Discovery DiscoveryConfig `yaml:"discovery,omitempty"`
		Pubsub    PubsubConfig    `yaml:"pubsub,omitempty"`
		Signaling SignalingConfig `yaml:"signaling,omitempty"`
		Metrics   MetricsConfig   `yaml:"metrics,omitempty"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	version := raw.Version
	if version == 0 {
		version = CurrentConfigVersion
	}
	if version > CurrentConfigVersion {
		return nil, fmt.Errorf("%w: version %d is newer than supported version %d", ErrConfigVersionTooNew, version, CurrentConfigVersion)
	}

	cfg := &Config{
		Version:   version,
		Mode:      raw.Mode,
		Identity:  raw.Identity,
		Network:   raw.Network,
		Discovery: raw.Discovery,
		Pubsub:    raw.Pubsub,
		Signaling: raw.Signaling,
		Metrics:   raw.Metrics,
	}

	if cfg.Mode == "" {
		cfg.Mode = ModeAll
	}
	if cfg.Signaling.IdleTimeoutRaw != "" {
		d, err := time.ParseDuration(cfg.Signaling.IdleTimeoutRaw)
		if err != nil {
			return nil, fmt.Errorf("config: signaling.idle_timeout: %w", err)
		}
		cfg.Signaling.IdleTimeout = d
	}
	applyDefaults(cfg)

	return cfg, nil
}

// applyDefaults fills zero-valued fields with operational defaults.
func applyDefaults(cfg *Config) {
	if cfg.Signaling.ListenAddress == "" {
		cfg.Signaling.ListenAddress = "0.0.0.0:8001"
	}
	if cfg.Signaling.IdleTimeout == 0 {
		cfg.Signaling.IdleTimeout = 60 * time.Second
	}
	if cfg.Signaling.OutboundBacklog == 0 {
		cfg.Signaling.OutboundBacklog = 64
	}
	if cfg.Metrics.Enabled && cfg.Metrics.ListenAddress == "" {
		cfg.Metrics.ListenAddress = "127.0.0.1:9091"
	}
	if cfg.Discovery.MDNSServiceName == "" {
		cfg.Discovery.MDNSServiceName = "_hippius-libp2p._udp"
	}
}

// Validate checks that cfg is internally consistent for the mode it
// declares.
func Validate(cfg *Config) error {
	switch cfg.Mode {
	case ModeAll, ModeNode:
		if cfg.Identity.KeyFile == "" {
			return fmt.Errorf("identity.key_file is required")
		}
		if len(cfg.Network.ListenAddresses) == 0 {
			return fmt.Errorf("network.listen_addresses must contain at least one address")
		}
	case ModeBootnode:
		if cfg.Identity.KeyFile == "" {
			return fmt.Errorf("identity.key_file is required")
		}
		if len(cfg.Network.ListenAddresses) == 0 {
			return fmt.Errorf("network.listen_addresses must contain at least one address")
		}
	case ModeSignaling:
		if cfg.Signaling.ListenAddress == "" {
			return fmt.Errorf("signaling.listen_address is required")
		}
	default:
		return fmt.Errorf("unknown mode %q", cfg.Mode)
	}
	return nil
}

// FindConfigFile searches for a config file in standard locations.
// Search order: explicitPath (if given), ./hippius-node.yaml,
// ~/.config/hippius-node/config.yaml, /etc/hippius-node/config.yaml.
func FindConfigFile(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("%w: %s", ErrConfigNotFound, explicitPath)
		}
		return explicitPath, nil
	}

	searchPaths := []string{"hippius-node.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(home, ".config", "hippius-node", "config.yaml"))
	}
	searchPaths = append(searchPaths, filepath.Join("/etc", "hippius-node", "config.yaml"))

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w; searched:\n  %s", ErrConfigNotFound, strings.Join(searchPaths, "\n  "))
}

// ResolveConfigPaths rewrites relative file paths in cfg to be relative
// to the config file's own directory, so a config checked out alongside
// its key file works regardless of the process's working directory.
func ResolveConfigPaths(cfg *Config, configDir string) {
	if cfg.Identity.KeyFile != "" && !filepath.IsAbs(cfg.Identity.KeyFile) {
		cfg.Identity.KeyFile = filepath.Join(configDir, cfg.Identity.KeyFile)
	}
}

// DefaultConfigDir returns the default config directory
// (~/.config/hippius-node).
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".config", "hippius-node"), nil
}
