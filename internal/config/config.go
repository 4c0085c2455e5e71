// Package config provides configuration parsing for the transport core:
// a client config holding one bridge configuration, dial timeout
// defaults, and the credential authority endpoint.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// BridgeConfig describes how to reach one bridge, and the optional
// transports beyond the always-tried WebSocket adapter.
type BridgeConfig struct {
	// BridgeURL is the WebSocket endpoint for the direct adapter.
	BridgeURL string `yaml:"bridge_url"`

	// BridgeBKeyHex is Bridge B's static X25519 public key, hex-encoded,
	// present only when this bridge is reached via blinding.
	BridgeBKeyHex string `yaml:"bridge_b_key,omitempty"`

	// WebTunnelCoverHost and WebTunnelSecretPath configure the WebTunnel
	// adapter; both must be set for it to be attempted.
	WebTunnelCoverHost  string `yaml:"webtunnel_cover_host,omitempty"`
	WebTunnelSecretPath string `yaml:"webtunnel_secret_path,omitempty"`

	// CDNURL configures the Meek adapter.
	CDNURL string `yaml:"cdn_url,omitempty"`

	// BrokerURL and STUNServers configure the peer-relayed adapter.
	BrokerURL   string   `yaml:"broker_url,omitempty"`
	STUNServers []string `yaml:"stun_servers,omitempty"`

	// PreferPeer forces attempt 4 (peer-relayed) even when an earlier
	// adapter would otherwise have been tried first and succeeded.
	PreferPeer bool `yaml:"prefer_peer,omitempty"`
}

// BridgeBKey decodes BridgeBKeyHex, returning ok=false when unset.
func (b BridgeConfig) BridgeBKey() (key [32]byte, ok bool, err error) {
	if b.BridgeBKeyHex == "" {
		return key, false, nil
	}
	raw, err := hex.DecodeString(b.BridgeBKeyHex)
	if err != nil {
		return key, false, fmt.Errorf("decode bridge_b_key: %w", err)
	}
	if len(raw) != 32 {
		return key, false, fmt.Errorf("bridge_b_key must be 32 bytes, got %d", len(raw))
	}
	copy(key[:], raw)
	return key, true, nil
}

// HasWebTunnel reports whether both WebTunnel fields are configured.
func (b BridgeConfig) HasWebTunnel() bool {
	return b.WebTunnelCoverHost != "" && b.WebTunnelSecretPath != ""
}

// HasMeek reports whether the CDN URL is configured.
func (b BridgeConfig) HasMeek() bool {
	return b.CDNURL != ""
}

// HasPeer reports whether the broker URL is configured.
func (b BridgeConfig) HasPeer() bool {
	return b.BrokerURL != ""
}

// ClientConfig is the top-level configuration the CLI loads.
type ClientConfig struct {
	Bridge BridgeConfig `yaml:"bridge"`

	// AuthorityURL is the credential authority's base URL.
	AuthorityURL string `yaml:"authority_url"`

	// TrustStorePath is where the local credential record is persisted.
	TrustStorePath string `yaml:"trust_store_path"`

	// LogLevel and LogFormat configure the ambient logger.
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// DialTimeouts carries the per-adapter handshake budgets named in the
// design: 30s for WebRTC, 10s nominal for everything else.
type DialTimeouts struct {
	WebSocket time.Duration
	WebTunnel time.Duration
	Meek      time.Duration
	Peer      time.Duration
}

// DefaultDialTimeouts returns the budgets used when a caller doesn't
// override them.
func DefaultDialTimeouts() DialTimeouts {
	return DialTimeouts{
		WebSocket: 10 * time.Second,
		WebTunnel: 10 * time.Second,
		Meek:      10 * time.Second,
		Peer:      30 * time.Second,
	}
}

// Load reads and parses a configuration file.
func Load(path string) (*ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes, applying defaults for
// unset ambient fields.
func Parse(data []byte) (*ClientConfig, error) {
	var cfg ClientConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Bridge.BridgeURL == "" {
		return nil, fmt.Errorf("config: bridge.bridge_url is required")
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
	if cfg.TrustStorePath == "" {
		cfg.TrustStorePath = "trust-store.json"
	}
	return &cfg, nil
}
