package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	buildDate = "unknown"
	gitCommit = "unknown"
)

// SetBuildInfo sets version info injected at build time.
func SetBuildInfo(v, date, commit string) {
	version = v
	buildDate = date
	gitCommit = commit
}

var rootCmd = &cobra.Command{
	Use:   "clawlink",
	Short: "clawlink - bridge your terminal and chat apps to an agent gateway",
	Long: `clawlink - bridge your terminal and chat apps to an agent gateway

Connects to an OpenClaw-compatible gateway over WebSocket, authenticates
with a device identity and re-exposes the agent's event stream as a chat
session. Talk to it from the terminal, a one-shot prompt, or Telegram and
Feishu relays.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("clawlink %s\n", version)
		fmt.Printf("  build:  %s\n", buildDate)
		fmt.Printf("  commit: %s\n", gitCommit)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(relayCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(journalCmd)
}

// Execute runs the root cobra command.
func Execute() error {
	return rootCmd.Execute()
}
