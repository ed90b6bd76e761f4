package cmd

import (
	"fmt"
	"time"

	"github.com/FluidXR/questlink/internal/adb"
	"github.com/FluidXR/questlink/internal/config"
	"github.com/FluidXR/questlink/internal/discovery"

	"github.com/spf13/cobra"
)

var scanTimeoutMS int

var scanCmd = &cobra.Command{
	Use:               "scan",
	Short:             "Scan the local /24 for the headset (slow)",
	PersistentPreRunE: requireADB(),
	Long: `Probes every host on the local subnet for an open adb port and verifies
hits by connecting. This takes many seconds and opens connections to
unknown hosts; it never runs automatically.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logger := newLogger()
		defer logger.Sync()

		client := adb.NewClient(logger.Named("adb"))
		disc := discovery.NewDiscoverer(client, logger.Named("discovery"))

		fmt.Println("Scanning local network, this can take a while...")
		ip, ok := disc.ScanNetwork(time.Duration(scanTimeoutMS) * time.Millisecond)
		if !ok {
			return fmt.Errorf("no headset found on the local network")
		}
		fmt.Printf("Headset found at %s\n", ip)

		cfg.WirelessIP = ip
		if err := config.Save(cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		fmt.Println("Address saved.")
		return nil
	},
}

func init() {
	scanCmd.Flags().IntVar(&scanTimeoutMS, "probe-timeout", 500, "Per-host probe timeout in milliseconds")
	rootCmd.AddCommand(scanCmd)
}
