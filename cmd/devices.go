package cmd

import (
	"fmt"

	"github.com/FluidXR/questlink/internal/adb"

	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:               "devices",
	Short:             "List devices visible to adb",
	PersistentPreRunE: requireADB(),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()
		defer logger.Sync()

		client := adb.NewClient(logger.Named("adb"))
		devices, err := client.Devices()
		if err != nil {
			return err
		}

		if len(devices) == 0 {
			fmt.Println("No devices connected.")
			return nil
		}

		for _, d := range devices {
			status := d.State
			if !d.IsOnline() {
				status = "OFFLINE"
			}
			fmt.Printf("%-24s %s  [%s] [%s]\n", d.Serial, d.Model, d.ConnType, status)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}
