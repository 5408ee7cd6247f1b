package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/clawlink/clawlink/internal/system/logger"
)

var logsTailLines int

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Inspect and manage log files",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLogsTail(cmd, args)
	},
}

var logsTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print the last lines of the newest log file",
	RunE:  runLogsTail,
}

var logsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List log files",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := resolveLogDir()
		files, err := logger.ListLogFiles(dir)
		if err != nil {
			return fmt.Errorf("list log files: %w", err)
		}
		if len(files) == 0 {
			fmt.Printf("No log files found in %s\n", dir)
			return nil
		}

		var total int64
		for _, f := range files {
			total += f.Size
		}
		fmt.Printf("Log files (%d, total %.1f MB):\n\n", len(files), float64(total)/1024/1024)
		for _, f := range files {
			fmt.Printf("  %-32s  %8.2f MB  %s\n", f.Name, float64(f.Size)/1024/1024, f.ModTime.Local().Format("2006-01-02 15:04:05"))
		}
		fmt.Printf("\nLog directory: %s\n", dir)
		return nil
	},
}

var logsCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove log files past the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()

		logCfg := logger.DefaultConfig()
		if cfg.Log.Dir != "" {
			logCfg.Dir = cfg.Log.Dir
		}
		if cfg.Log.MaxAgeDays > 0 {
			logCfg.MaxAgeDays = cfg.Log.MaxAgeDays
		}
		logCfg.StderrEnabled = false

		mgr, err := logger.New(logCfg)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		defer mgr.Close()

		removed, err := mgr.Cleanup()
		if err != nil {
			return fmt.Errorf("cleanup logs: %w", err)
		}
		if removed == 0 {
			fmt.Println("No expired log files to clean.")
		} else {
			fmt.Printf("Removed %d expired log files (older than %d days)\n", removed, logCfg.MaxAgeDays)
		}
		return nil
	},
}

func init() {
	logsCmd.AddCommand(logsTailCmd)
	logsCmd.AddCommand(logsListCmd)
	logsCmd.AddCommand(logsCleanCmd)
	logsCmd.PersistentFlags().IntVarP(&logsTailLines, "lines", "n", 100, "Number of lines to print")
}

func runLogsTail(cmd *cobra.Command, args []string) error {
	dir := resolveLogDir()
	files, err := logger.ListLogFiles(dir)
	if err != nil {
		return fmt.Errorf("list log files: %w", err)
	}
	if len(files) == 0 {
		fmt.Printf("No log files found in %s\n", dir)
		return nil
	}

	lines, err := logger.TailFile(files[0].Path, logsTailLines)
	if err != nil {
		return fmt.Errorf("tail %s: %w", files[0].Name, err)
	}
	for _, line := range lines {
		fmt.Println(line)
	}
	return nil
}

func resolveLogDir() string {
	cfg := loadConfig()
	if strings.TrimSpace(cfg.Log.Dir) != "" {
		return cfg.Log.Dir
	}
	return logger.DefaultConfig().Dir
}
