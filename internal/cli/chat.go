package cli

import (
	"context"

	"github.com/spf13/cobra"

	httpiface "github.com/clawlink/clawlink/internal/interfaces/http"
	"github.com/clawlink/clawlink/internal/tui"
)

var chatPrompt string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open an interactive chat session with the agent",
	Long: `Open the chat terminal against the configured gateway.

The session connects on startup, streams assistant output as it arrives
and surfaces permission requests inline. Slash commands are available,
see /help.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatPrompt, "prompt", "p", "", "Send this prompt as soon as the session starts")
	chatCmd.Flags().StringVar(&tokenFlag, "token", "", "Gateway token (overrides config and keychain)")
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()

	mgr, log, buffer, err := buildLogger(cfg, false)
	if err != nil {
		return err
	}
	defer mgr.Close()

	b, j := buildBridge(cfg, log)
	defer b.Dispose()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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

	return tui.Run(tui.Options{
		Bridge:  b,
		Version: version,
		Prompt:  chatPrompt,
	})
}
