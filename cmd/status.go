package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/FluidXR/questlink/internal/config"

	"github.com/spf13/cobra"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:               "status",
	Short:             "Run one detection pass and print the connection state",
	PersistentPreRunE: requireADB(),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logger := newLogger()
		defer logger.Sync()

		manager, _ := buildManager(cfg, logger)
		st := manager.CheckAndUpdate()

		// Persist a newly learned wireless address for next run.
		if st.WirelessIP != "" && st.WirelessIP != cfg.WirelessIP {
			cfg.WirelessIP = st.WirelessIP
			cfg.WirelessPort = st.WirelessPort
			if err := config.Save(cfg); err != nil {
				logger.Warn("could not persist wireless address")
			}
		}

		if statusJSON {
			out, err := json.MarshalIndent(st, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		}
		printStatus(st)
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the raw status snapshot as JSON")
	rootCmd.AddCommand(statusCmd)
}
