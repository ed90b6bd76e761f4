package cmd

import (
	"fmt"
	"strings"

	"github.com/FluidXR/questlink/internal/adb"
	"github.com/FluidXR/questlink/internal/config"
	"github.com/FluidXR/questlink/internal/discovery"

	"github.com/spf13/cobra"
)

var discoverSave bool

var discoverCmd = &cobra.Command{
	Use:               "discover",
	Short:             "Find the headset's wireless address",
	PersistentPreRunE: requireADB(),
	Long: `Tries the cheap discovery methods in order: asking the headset directly
over USB, mdns service discovery, then re-validating the saved address.
For a full subnet scan use 'questlink scan'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logger := newLogger()
		defer logger.Sync()

		client := adb.NewClient(logger.Named("adb"))
		disc := discovery.NewDiscoverer(client, logger.Named("discovery"))
		if cfg.WirelessIP != "" {
			disc.SetSavedAddress(cfg.WirelessIP)
		}

		usbSerial := findUSBSerial(client)
		ip, ok := disc.AutoDiscover(usbSerial)
		if !ok {
			return fmt.Errorf("could not discover the headset's wireless address")
		}
		fmt.Printf("Headset wireless address: %s\n", ip)

		if discoverSave {
			cfg.WirelessIP = ip
			if err := config.Save(cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			fmt.Println("Saved.")
		}
		return nil
	},
}

// findUSBSerial returns the first wired online device serial, if any.
func findUSBSerial(client *adb.Client) string {
	devices, err := client.Devices()
	if err != nil {
		return ""
	}
	for _, d := range devices {
		if !strings.Contains(d.Serial, ":") && d.IsOnline() {
			return d.Serial
		}
	}
	return ""
}

func init() {
	discoverCmd.Flags().BoolVar(&discoverSave, "save", false, "Persist the discovered address to the config file")
	rootCmd.AddCommand(discoverCmd)
}
