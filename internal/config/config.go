// Package config defines the YAML-backed configuration for all four
// run modes (all, bootnode, node, signaling) and loads it with the same
// permission-checking, version-gated pattern used across the rest of
// the stack.
package config

import "time"

// CurrentConfigVersion is the latest configuration schema version.
// Bump this when adding fields that require migration.
const CurrentConfigVersion = 1

// Mode selects which components of the process are active.
type Mode string

const (
	ModeAll       Mode = "all"
	ModeBootnode  Mode = "bootnode"
	ModeNode      Mode = "node"
	ModeSignaling Mode = "signaling"
)

// Config is the unified configuration for a hippius-libp2p process,
// regardless of which Mode it runs in. Sections irrelevant to the
// selected mode are simply ignored.
type Config struct {
	Version   int             `yaml:"version,omitempty"`
	Mode      Mode            `yaml:"mode,omitempty"`
	Identity  IdentityConfig  `yaml:"identity"`
	Network   NetworkConfig   `yaml:"network"`
	Discovery DiscoveryConfig `yaml:"discovery,omitempty"`
	Pubsub    PubsubConfig    `yaml:"pubsub,omitempty"`
	Signaling SignalingConfig `yaml:"signaling,omitempty"`
	Metrics   MetricsConfig   `yaml:"metrics,omitempty"`
}

// IdentityConfig holds identity-related configuration.
type IdentityConfig struct {
	KeyFile string `yaml:"key_file"`
}

// NetworkConfig holds transport and listen-address configuration.
type NetworkConfig struct {
	ListenAddresses []string `yaml:"listen_addresses"`
}

// DiscoveryConfig holds mDNS and bootnode discovery configuration.
type DiscoveryConfig struct {
	MDNSServiceName string   `yaml:"mdns_service_name,omitempty"`
	MDNSEnabled     *bool    `yaml:"mdns_enabled,omitempty"`
	BootnodeAddrs   []string `yaml:"bootnode_addrs,omitempty"`
}

// IsMDNSEnabled reports the mdns_enabled setting, true when not
// explicitly set. The hippius-node command does not consult it: mDNS
// discovery runs whenever a host is attached.
func (d *DiscoveryConfig) IsMDNSEnabled() bool {
	if d.MDNSEnabled == nil {
		return true
	}
	return *d.MDNSEnabled
}

// PubsubConfig holds gossipsub dissemination configuration.
type PubsubConfig struct {
	MaxPayloadBytes int `yaml:"max_payload_bytes,omitempty"`
}

// SignalingConfig holds WebRTC signaling hub configuration.
type SignalingConfig struct {
	ListenAddress   string        `yaml:"listen_address,omitempty"` // default: "0.0.0.0:8001"
	IdleTimeout     time.Duration `yaml:"-"`
	IdleTimeoutRaw  string        `yaml:"idle_timeout,omitempty"` // e.g. "60s"
	OutboundBacklog int           `yaml:"outbound_backlog,omitempty"`
}

// MetricsConfig controls the Prometheus /metrics and /stats surface.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address,omitempty"` // default: "127.0.0.1:9091"
}
