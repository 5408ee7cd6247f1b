// Package config handles loading and validating the clawlink configuration.
// Config is stored at ~/.clawlink/clawlink.yaml; missing files yield
// defaults so the CLI works out of the box against a local gateway.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-yaml"
)

// Config is the top-level clawlink configuration.
type Config struct {
	Gateway   GatewayConfig   `yaml:"gateway"`
	Client    ClientConfig    `yaml:"client"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Translate TranslateConfig `yaml:"translate"`
	Journal   JournalConfig   `yaml:"journal"`
	Log       LogConfig       `yaml:"log"`
	Relay     RelayConfig     `yaml:"relay"`
	Debug     DebugConfig     `yaml:"debug"`
}

// GatewayConfig describes the gateway endpoint and requested access.
type GatewayConfig struct {
	URL               string   `yaml:"url"`
	Token             string   `yaml:"token"` // explicit token; wins over every other source
	Role              string   `yaml:"role"`
	Scopes            []string `yaml:"scopes"`
	ConnectTimeoutSec int      `yaml:"connectTimeoutSec"`
	RPCTimeoutSec     int      `yaml:"rpcTimeoutSec"`
}

// ConnectTimeout returns the handshake deadline.
func (g GatewayConfig) ConnectTimeout() time.Duration {
	if g.ConnectTimeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(g.ConnectTimeoutSec) * time.Second
}

// RPCTimeout returns the per-RPC deadline.
func (g GatewayConfig) RPCTimeout() time.Duration {
	if g.RPCTimeoutSec <= 0 {
		return 60 * time.Second
	}
	return time.Duration(g.RPCTimeoutSec) * time.Second
}

// ClientConfig identifies this installation to the gateway.
type ClientConfig struct {
	ID         string `yaml:"id"`
	Mode       string `yaml:"mode"`
	Platform   string `yaml:"platform"`
	DevicePath string `yaml:"devicePath"` // device identity file; default ~/.clawlink/device.json
}

// ReconnectConfig bounds the automatic reconnection loop.
type ReconnectConfig struct {
	Enabled            *bool `yaml:"enabled"`
	InitialIntervalSec int   `yaml:"initialIntervalSec"`
	MaxIntervalSec     int   `yaml:"maxIntervalSec"`
	MaxAttempts        int   `yaml:"maxAttempts"`
}

// IsEnabled defaults to true when unset.
func (r ReconnectConfig) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// TranslateConfig tunes the event translator.
type TranslateConfig struct {
	// StreamFamily selects which streaming family produces model output:
	// "auto" (both), "agent", or "chat".
	StreamFamily string `yaml:"streamFamily"`
}

// JournalConfig configures the local turn journal.
type JournalConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Dir        string `yaml:"dir"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	MaxRecords int    `yaml:"maxRecords"`
}

// LogConfig configures file logging.
type LogConfig struct {
	Dir        string `yaml:"dir"`
	Level      string `yaml:"level"` // debug, info, warn, error
	MaxAgeDays int    `yaml:"maxAgeDays"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
}

// RelayConfig configures the messaging relay hosts.
type RelayConfig struct {
	Telegram TelegramRelayConfig `yaml:"telegram"`
	Feishu   FeishuRelayConfig   `yaml:"feishu"`
}

// TelegramRelayConfig configures the Telegram relay.
type TelegramRelayConfig struct {
	BotToken  string   `yaml:"botToken"`
	AllowFrom []string `yaml:"allowFrom"` // usernames or numeric user ids
}

// FeishuRelayConfig configures the Feishu/Lark relay.
type FeishuRelayConfig struct {
	AppID     string   `yaml:"appId"`
	AppSecret string   `yaml:"appSecret"`
	AllowFrom []string `yaml:"allowFrom"` // open ids
}

// DebugConfig configures the local status HTTP server.
type DebugConfig struct {
	Addr string `yaml:"addr"` // e.g. "127.0.0.1:7171"; empty disables
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			URL:    "ws://127.0.0.1:18789/ws/gateway",
			Role:   "operator",
			Scopes: []string{"operator.read", "operator.write"},
		},
		Client: ClientConfig{
			ID:       "clawlink",
			Mode:     "backend",
			Platform: "linux",
		},
		Translate: TranslateConfig{StreamFamily: "auto"},
		Journal:   JournalConfig{MaxAgeDays: 30},
		Log:       LogConfig{Level: "info", MaxAgeDays: 30, MaxSizeMB: 50},
	}
}

// ConfigDir returns the clawlink state directory.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".clawlink"
	}
	return filepath.Join(home, ".clawlink")
}

// ConfigPath returns the path to the main config file.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "clawlink.yaml")
}

// Load reads and parses the config from disk. If the config file doesn't
// exist, it returns defaults.
func Load() (*Config, error) {
	cfg := Default()

	configPath := ConfigPath()
	if envPath := os.Getenv("CLAWLINK_CONFIG"); envPath != "" {
		configPath = envPath
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", configPath, err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// Save writes the config to disk.
func Save(cfg *Config) error {
	path := ConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// applyEnvOverrides merges environment variables into configuration.
// Endpoint and relay credentials may come from the environment; the
// gateway bearer token deliberately does not short-circuit here, it goes
// through ResolveToken so a stale environment value cannot shadow a
// rotated one.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CLAWLINK_GATEWAY_URL"); v != "" {
		cfg.Gateway.URL = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Relay.Telegram.BotToken = v
	}
	if v := os.Getenv("FEISHU_APP_ID"); v != "" {
		cfg.Relay.Feishu.AppID = v
	}
	if v := os.Getenv("FEISHU_APP_SECRET"); v != "" {
		cfg.Relay.Feishu.AppSecret = v
	}
}
