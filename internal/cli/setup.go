package cli

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/clawlink/clawlink/internal/bridge"
	"github.com/clawlink/clawlink/internal/bridge/conn"
	"github.com/clawlink/clawlink/internal/bridge/protocol"
	"github.com/clawlink/clawlink/internal/bridge/translate"
	"github.com/clawlink/clawlink/internal/config"
	"github.com/clawlink/clawlink/internal/identity"
	"github.com/clawlink/clawlink/internal/infra"
	httpiface "github.com/clawlink/clawlink/internal/interfaces/http"
	"github.com/clawlink/clawlink/internal/journal"
	"github.com/clawlink/clawlink/internal/keychain"
	"github.com/clawlink/clawlink/internal/system/logger"
)

// tokenFlag is the --token override shared by the session commands.
var tokenFlag string

func loadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		slog.Warn("config load warning, using defaults", "error", err)
	}
	return cfg
}

// buildLogger wires the file logger plus the in-memory capture ring used
// by the debug API. stderrTee must stay off for the chat terminal, the
// alternate screen cannot share stderr.
func buildLogger(cfg *config.Config, stderrTee bool) (*logger.Manager, *slog.Logger, *httpiface.LogBuffer, error) {
	logCfg := logger.DefaultConfig()
	if cfg.Log.Dir != "" {
		logCfg.Dir = cfg.Log.Dir
	}
	if cfg.Log.MaxAgeDays > 0 {
		logCfg.MaxAgeDays = cfg.Log.MaxAgeDays
	}
	if cfg.Log.MaxSizeMB > 0 {
		logCfg.MaxSizeMB = cfg.Log.MaxSizeMB
	}
	logCfg.Level = parseLevel(cfg.Log.Level)
	if infra.IsTruthyEnv("CLAWLINK_DEBUG") {
		logCfg.Level = slog.LevelDebug
	}
	logCfg.StderrEnabled = stderrTee

	mgr, err := logger.New(logCfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}

	buffer := httpiface.NewLogBuffer(256)
	log := slog.New(httpiface.NewCaptureHandler(mgr.NewSlogHandler(), buffer))
	slog.SetDefault(log)
	return mgr, log, buffer, nil
}

// discardLogger suppresses warnings for read-only inspection paths.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// resolveToken picks the gateway token: the --token flag wins, then the
// config file, the system keychain, the shared gateway credentials file
// and finally the environment.
func resolveToken(cfg *config.Config) string {
	store := keychain.New()
	return config.Resolve(
		config.Static(tokenFlag),
		config.Static(cfg.Gateway.Token),
		store.GatewayToken,
		config.FileToken(config.CredentialsPath()),
		config.Env(config.TokenEnvVar),
	)
}

// loadIdentity reads the device identity. A missing identity is not fatal,
// the bridge falls back to token-only auth.
func loadIdentity(cfg *config.Config, log *slog.Logger) *identity.Identity {
	path := cfg.Client.DevicePath
	if path == "" {
		path = identity.DefaultPath()
	}
	id, err := identity.Load(path)
	if err != nil {
		if err != identity.ErrNoIdentity {
			log.Warn("device identity unreadable", "path", path, "error", err)
		}
		return nil
	}
	return id
}

// openJournal opens the turn journal when enabled. A nil journal is a
// valid no-op sink.
func openJournal(cfg *config.Config, log *slog.Logger) *journal.Journal {
	if !cfg.Journal.Enabled {
		return nil
	}
	j, err := journal.Open(journal.Config{
		Dir:        cfg.Journal.Dir,
		MaxAgeDays: cfg.Journal.MaxAgeDays,
		MaxRecords: cfg.Journal.MaxRecords,
	}, log)
	if err != nil {
		log.Warn("journal unavailable", "error", err)
		return nil
	}
	return j
}

// buildBridge assembles a bridge from config, credentials and identity.
func buildBridge(cfg *config.Config, log *slog.Logger) (*bridge.Bridge, *journal.Journal) {
	j := openJournal(cfg, log)

	policy := conn.DefaultReconnectPolicy()
	policy.Enabled = cfg.Reconnect.IsEnabled()
	if cfg.Reconnect.InitialIntervalSec > 0 {
		policy.InitialInterval = time.Duration(cfg.Reconnect.InitialIntervalSec) * time.Second
	}
	if cfg.Reconnect.MaxIntervalSec > 0 {
		policy.MaxInterval = time.Duration(cfg.Reconnect.MaxIntervalSec) * time.Second
	}
	if cfg.Reconnect.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.Reconnect.MaxAttempts
	}

	b := bridge.New(bridge.Options{
		URL:      cfg.Gateway.URL,
		Token:    resolveToken(cfg),
		Identity: loadIdentity(cfg, log),
		Client: protocol.ClientInfo{
			ID:       cfg.Client.ID,
			Version:  version,
			Platform: cfg.Client.Platform,
			Mode:     cfg.Client.Mode,
		},
		Role:           cfg.Gateway.Role,
		Scopes:         cfg.Gateway.Scopes,
		ConnectTimeout: cfg.Gateway.ConnectTimeout(),
		RPCTimeout:     cfg.Gateway.RPCTimeout(),
		Reconnect:      policy,
		StreamFamily:   translate.Family(cfg.Translate.StreamFamily),
		Logger:         log,
		Journal:        j,
	})
	return b, j
}
