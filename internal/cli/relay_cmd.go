package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/clawlink/clawlink/internal/config"
	"github.com/clawlink/clawlink/internal/infra"
	httpiface "github.com/clawlink/clawlink/internal/interfaces/http"
	"github.com/clawlink/clawlink/internal/relay"
	"github.com/clawlink/clawlink/internal/relay/feishu"
	"github.com/clawlink/clawlink/internal/relay/telegram"
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run a messaging relay in front of the bridge",
	Long: `Run a long-lived relay that forwards chat messages to the agent and
replies with its answers. The relay keeps one bridge session open and
serializes turns across chat participants.`,
}

var relayTelegramCmd = &cobra.Command{
	Use:   "telegram",
	Short: "Relay Telegram chats to the agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRelay(func(cfg *config.Config, runner *relay.Runner, deps relayDeps) error {
			t := telegram.New(telegram.Config{
				BotToken:  cfg.Relay.Telegram.BotToken,
				AllowFrom: cfg.Relay.Telegram.AllowFrom,
			}, runner, deps.log)
			return t.Run(deps.ctx)
		})
	},
}

var relayFeishuCmd = &cobra.Command{
	Use:   "feishu",
	Short: "Relay Feishu/Lark chats to the agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRelay(func(cfg *config.Config, runner *relay.Runner, deps relayDeps) error {
			f := feishu.New(feishu.Config{
				AppID:     cfg.Relay.Feishu.AppID,
				AppSecret: cfg.Relay.Feishu.AppSecret,
				AllowFrom: cfg.Relay.Feishu.AllowFrom,
			}, runner, deps.log)
			return f.Run(deps.ctx)
		})
	},
}

func init() {
	relayCmd.AddCommand(relayTelegramCmd)
	relayCmd.AddCommand(relayFeishuCmd)
	relayCmd.PersistentFlags().StringVar(&tokenFlag, "token", "", "Gateway token (overrides config and keychain)")
}

type relayDeps struct {
	ctx context.Context
	log *slog.Logger
}

// runRelay builds the bridge, starts the session and the debug server,
// then hands control to the surface-specific loop until a signal arrives.
func runRelay(run func(cfg *config.Config, runner *relay.Runner, deps relayDeps) error) error {
	cfg := loadConfig()
	infra.PrintBanner(version)

	mgr, log, buffer, err := buildLogger(cfg, true)
	if err != nil {
		return err
	}
	defer mgr.Close()

	b, j := buildBridge(cfg, log)
	defer b.Dispose()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	if cfg.Debug.Addr != "" {
		srv := httpiface.NewServer(httpiface.Options{
			Addr:      cfg.Debug.Addr,
			Version:   version,
			Logger:    log,
			LogBuffer: buffer,
			Journal:   j,
			Snapshot:  b.Snapshot,
		})
		go func() {
			if err := srv.Start(ctx); err != nil {
				log.Error("debug server error", "error", err)
			}
		}()
	}

	key, err := b.StartSession(ctx, "")
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	log.Info("bridge session ready", "session", key)

	runner := relay.NewRunner(b, log)
	err = run(cfg, runner, relayDeps{ctx: ctx, log: log})
	if err == context.Canceled {
		return nil
	}
	return err
}
