package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParse_ValidConfig(t *testing.T) {
	yamlConfig := `
bridge:
  bridge_url: "wss://bridge.example.net/ws"
  bridge_b_key: "0011223344556677889900112233445566778899001122334455667788990011"
  webtunnel_cover_host: "https://cover.example.net"
  webtunnel_secret_path: "s3cr3t"
  cdn_url: "https://cdn.example.net/meek"
  broker_url: "wss://broker.example.net/ws"
  stun_servers:
    - "stun:stun.l.google.com:19302"

authority_url: "https://authority.example.net"
trust_store_path: "./trust.json"
log_level: "debug"
log_format: "json"
`
	cfg, err := Parse([]byte(yamlConfig))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Bridge.BridgeURL != "wss://bridge.example.net/ws" {
		t.Errorf("BridgeURL = %s", cfg.Bridge.BridgeURL)
	}
	if !cfg.Bridge.HasWebTunnel() {
		t.Error("expected HasWebTunnel true")
	}
	if !cfg.Bridge.HasMeek() {
		t.Error("expected HasMeek true")
	}
	if !cfg.Bridge.HasPeer() {
		t.Error("expected HasPeer true")
	}
	key, ok, err := cfg.Bridge.BridgeBKey()
	if err != nil || !ok {
		t.Fatalf("BridgeBKey() = %v, %v, %v", key, ok, err)
	}
	if cfg.LogLevel != "debug" || cfg.LogFormat != "json" {
		t.Errorf("unexpected log settings: %+v", cfg)
	}
}

func TestParse_MissingBridgeURL(t *testing.T) {
	_, err := Parse([]byte("authority_url: https://authority.example.net\n"))
	if err == nil {
		t.Fatal("expected error for missing bridge_url")
	}
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("bridge:\n  bridge_url: wss://bridge.example.net/ws\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %s, want info", cfg.LogLevel)
	}
	if cfg.LogFormat != "text" {
		t.Errorf("LogFormat = %s, want text", cfg.LogFormat)
	}
	if cfg.TrustStorePath != "trust-store.json" {
		t.Errorf("TrustStorePath = %s, want trust-store.json", cfg.TrustStorePath)
	}
	if cfg.Bridge.HasWebTunnel() || cfg.Bridge.HasMeek() || cfg.Bridge.HasPeer() {
		t.Error("optional transports should be unset by default")
	}
}

func TestBridgeBKey_Unset(t *testing.T) {
	var b BridgeConfig
	_, ok, err := b.BridgeBKey()
	if err != nil || ok {
		t.Fatalf("BridgeBKey() = ok=%v err=%v, want ok=false err=nil", ok, err)
	}
}

func TestBridgeBKey_BadLength(t *testing.T) {
	b := BridgeConfig{BridgeBKeyHex: "aabbcc"}
	_, _, err := b.BridgeBKey()
	if err == nil {
		t.Fatal("expected error for short key")
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "bridge:\n  bridge_url: wss://bridge.example.net/ws\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Bridge.BridgeURL != "wss://bridge.example.net/ws" {
		t.Errorf("BridgeURL = %s", cfg.Bridge.BridgeURL)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil || !strings.Contains(err.Error(), "read config file") {
		t.Fatalf("expected read error, got %v", err)
	}
}
