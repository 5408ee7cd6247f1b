package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWhenMissing(t *testing.T) {
	t.Setenv("CLAWLINK_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.URL != "ws://127.0.0.1:18789/ws/gateway" {
		t.Errorf("default gateway URL = %q", cfg.Gateway.URL)
	}
	if cfg.Gateway.Role != "operator" {
		t.Errorf("default role = %q; want operator", cfg.Gateway.Role)
	}
	if cfg.Translate.StreamFamily != "auto" {
		t.Errorf("default stream family = %q; want auto", cfg.Translate.StreamFamily)
	}
	if !cfg.Reconnect.IsEnabled() {
		t.Error("reconnect disabled by default")
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clawlink.yaml")
	content := `
gateway:
  url: wss://gw.example.com/ws
  role: observer
  scopes: [read]
  rpcTimeoutSec: 90
reconnect:
  enabled: false
  maxAttempts: 3
translate:
  streamFamily: chat
relay:
  telegram:
    botToken: tg-token
    allowFrom: ["alice", "12345"]
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CLAWLINK_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.URL != "wss://gw.example.com/ws" {
		t.Errorf("gateway URL = %q", cfg.Gateway.URL)
	}
	if cfg.Gateway.Role != "observer" {
		t.Errorf("role = %q; want observer", cfg.Gateway.Role)
	}
	if got := cfg.Gateway.RPCTimeout(); got != 90*time.Second {
		t.Errorf("RPCTimeout() = %v; want 90s", got)
	}
	if cfg.Reconnect.IsEnabled() {
		t.Error("reconnect should be disabled")
	}
	if cfg.Reconnect.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d; want 3", cfg.Reconnect.MaxAttempts)
	}
	if cfg.Translate.StreamFamily != "chat" {
		t.Errorf("stream family = %q; want chat", cfg.Translate.StreamFamily)
	}
	if cfg.Relay.Telegram.BotToken != "tg-token" {
		t.Errorf("telegram bot token = %q", cfg.Relay.Telegram.BotToken)
	}
	if len(cfg.Relay.Telegram.AllowFrom) != 2 {
		t.Errorf("telegram allowFrom = %v; want two entries", cfg.Relay.Telegram.AllowFrom)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clawlink.yaml")
	if err := os.WriteFile(path, []byte("gateway:\n  url: ws://file\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CLAWLINK_CONFIG", path)
	t.Setenv("CLAWLINK_GATEWAY_URL", "ws://env")
	t.Setenv("TELEGRAM_BOT_TOKEN", "tg-env")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.URL != "ws://env" {
		t.Errorf("gateway URL = %q; want the env override", cfg.Gateway.URL)
	}
	if cfg.Relay.Telegram.BotToken != "tg-env" {
		t.Errorf("telegram bot token = %q; want the env override", cfg.Relay.Telegram.BotToken)
	}
}

func TestGatewayTimeoutDefaults(t *testing.T) {
	var g GatewayConfig
	if got := g.ConnectTimeout(); got != 30*time.Second {
		t.Errorf("ConnectTimeout() = %v; want 30s", got)
	}
	if got := g.RPCTimeout(); got != 60*time.Second {
		t.Errorf("RPCTimeout() = %v; want 60s", got)
	}
}
