package cmd

import (
	"fmt"
	"time"

	"github.com/FluidXR/questlink/internal/config"
	"github.com/FluidXR/questlink/internal/journal"

	"github.com/spf13/cobra"
)

var (
	eventsLimit int
	eventsPrune bool
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show recent connection events from the journal",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		db, err := journal.Open(config.ConfigDir())
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer db.Close()

		if eventsPrune {
			cutoff := time.Now().Add(-time.Duration(cfg.JournalRetentionHours) * time.Hour)
			n, err := db.Prune(cutoff)
			if err != nil {
				return err
			}
			fmt.Printf("Pruned %d events older than %dh.\n", n, cfg.JournalRetentionHours)
		}

		events, err := db.Recent(eventsLimit)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			fmt.Println("No events recorded.")
			return nil
		}
		for _, e := range events {
			mode := ""
			if e.Mode != "" {
				mode = fmt.Sprintf(" [%s]", e.Mode)
			}
			fmt.Printf("%s  %-12s%s  %s\n",
				e.Time.Format("2006-01-02 15:04:05"), e.Type, mode, e.Message)
		}
		return nil
	},
}

func init() {
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 50, "Maximum number of events to show")
	eventsCmd.Flags().BoolVar(&eventsPrune, "prune", false, "Delete events older than the retention window first")
	rootCmd.AddCommand(eventsCmd)
}
