package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/FluidXR/questlink/internal/config"
	"github.com/FluidXR/questlink/internal/conn"
	"github.com/FluidXR/questlink/internal/journal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var watchCmd = &cobra.Command{
	Use:               "watch",
	Short:             "Run the connection loops until interrupted",
	PersistentPreRunE: requireADB(),
	Long: `Runs both background loops: the detection tick, which re-derives the
connection state every few seconds, and the heartbeat monitor, which probes
the active path and fails over after sustained failures. Events are
appended to the on-disk journal. Stop with Ctrl-C.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logger := newLogger()
		defer logger.Sync()

		manager, client := buildManager(cfg, logger)

		db, err := journal.Open(config.ConfigDir())
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer db.Close()

		record := func(e conn.Event) {
			if err := db.Append(e); err != nil {
				logger.Warn("journal append failed", zap.Error(err))
			}
		}
		manager.OnEvent(record)

		monitorInterval := time.Duration(cfg.MonitorIntervalSeconds) * time.Second
		monitor := conn.NewMonitor(manager, client, logger.Named("monitor"), monitorInterval)
		monitor.OnEvent(record)
		monitor.SetFallbackCallback(func(mode string) {
			logger.Info("fallback completed", zap.String("active_mode", mode))
		})
		if cfg.AutoFallback {
			monitor.Start()
			defer monitor.Stop()
		}

		if _, err := db.Prune(time.Now().Add(-time.Duration(cfg.JournalRetentionHours) * time.Hour)); err != nil {
			logger.Warn("journal prune failed", zap.Error(err))
		}

		checkInterval := time.Duration(cfg.CheckIntervalSeconds) * time.Second
		if checkInterval <= 0 {
			checkInterval = 5 * time.Second
		}
		ticker := time.NewTicker(checkInterval)
		defer ticker.Stop()

		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

		fmt.Printf("Watching headset connection (detect every %s, heartbeat every %s). Ctrl-C to stop.\n",
			checkInterval, monitorInterval)

		lastMessage := ""
		runPass := func() {
			st := manager.CheckAndUpdate()
			if st.UserMessage != "" && st.UserMessage != lastMessage {
				fmt.Println(st.UserMessage)
				lastMessage = st.UserMessage
			}
			// Persist a newly learned wireless address for next run.
			if st.WirelessIP != "" && st.WirelessIP != cfg.WirelessIP {
				cfg.WirelessIP = st.WirelessIP
				cfg.WirelessPort = st.WirelessPort
				if err := config.Save(cfg); err != nil {
					logger.Warn("could not persist wireless address", zap.Error(err))
				}
			}
		}

		runPass()
		for {
			select {
			case <-sigs:
				fmt.Println("\nStopping.")
				return nil
			case <-ticker.C:
				runPass()
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
