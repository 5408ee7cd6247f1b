package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/clawlink/clawlink/internal/bridge/message"
)

var sendTimeout time.Duration

var sendCmd = &cobra.Command{
	Use:   "send <prompt>",
	Short: "Send one prompt and print the reply",
	Long: `Send a single prompt to the agent, stream the reply to stdout and
exit once the turn completes. Suitable for scripting:

  clawlink send "summarize the open pull requests"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 5*time.Minute, "Give up after this long")
	sendCmd.Flags().StringVar(&tokenFlag, "token", "", "Gateway token (overrides config and keychain)")
}

func runSend(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	prompt := strings.Join(args, " ")

	mgr, log, _, err := buildLogger(cfg, false)
	if err != nil {
		return err
	}
	defer mgr.Close()

	b, _ := buildBridge(cfg, log)
	defer b.Dispose()

	var (
		failMu     sync.Mutex
		turnFailed string
	)
	b.OnMessage(func(msg message.Message) {
		switch msg.Type {
		case message.TypeModelOutput:
			fmt.Print(msg.TextDelta)

		case message.TypeToolCall:
			fmt.Fprintf(os.Stderr, "[tool] %s\n", msg.ToolName)

		case message.TypePermissionRequest:
			// One-shot runs are unattended; deny and let the agent continue.
			fmt.Fprintf(os.Stderr, "[denied] %s\n", msg.Reason)
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := b.RespondToPermission(ctx, msg.ID, false); err != nil {
				log.Warn("permission response failed", "error", err)
			}

		case message.TypeStatus:
			if msg.Status == message.StatusError {
				failMu.Lock()
				turnFailed = msg.Detail
				failMu.Unlock()
			}
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	if _, err := b.StartSession(ctx, prompt); err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	if !b.WaitForResponseComplete(ctx, sendTimeout) {
		return fmt.Errorf("timed out after %s waiting for the reply", sendTimeout)
	}
	fmt.Println()

	failMu.Lock()
	defer failMu.Unlock()
	if turnFailed != "" {
		return fmt.Errorf("turn failed: %s", turnFailed)
	}
	return nil
}
