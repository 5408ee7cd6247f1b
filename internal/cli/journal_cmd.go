package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/clawlink/clawlink/internal/journal"
)

var journalLimit int

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Show recent bridge activity",
	Long: `Print the local turn journal: prompts sent, turns completed,
permissions resolved and connection events. The journal is written only
when journal.enabled is set in the config.`,
	RunE: runJournal,
}

func init() {
	journalCmd.Flags().IntVarP(&journalLimit, "limit", "l", 30, "Number of records to show")
}

func runJournal(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()

	j, err := journal.Open(journal.Config{
		Dir:        cfg.Journal.Dir,
		MaxAgeDays: cfg.Journal.MaxAgeDays,
		MaxRecords: cfg.Journal.MaxRecords,
	}, discardLogger())
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer j.Close()

	records, err := j.Recent(journalLimit)
	if err != nil {
		return fmt.Errorf("read journal: %w", err)
	}
	if len(records) == 0 {
		fmt.Println("Journal is empty.")
		return nil
	}

	for _, r := range records {
		line := fmt.Sprintf("  %s  %-10s", r.At.Local().Format("2006-01-02 15:04:05"), r.Kind)
		if r.SessionKey != "" {
			line += "  " + r.SessionKey
		}
		if r.Detail != "" {
			line += "  " + r.Detail
		}
		fmt.Println(line)
	}
	return nil
}
