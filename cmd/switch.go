package cmd

import (
	"fmt"

	"github.com/FluidXR/questlink/internal/config"

	"github.com/spf13/cobra"
)

var switchCmd = &cobra.Command{
	Use:               "switch <usb|wireless>",
	Short:             "Manually switch the active connection path",
	Args:              cobra.ExactArgs(1),
	PersistentPreRunE: requireADB(),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := args[0]
		if target != "usb" && target != "wireless" {
			return fmt.Errorf("unknown mode %q, expected usb or wireless", target)
		}

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logger := newLogger()
		defer logger.Sync()

		manager, _ := buildManager(cfg, logger)
		// Probe both paths first so the switch has fresh reachability.
		manager.CheckAndUpdate()

		var ok bool
		if target == "usb" {
			ok = manager.SwitchToUSB()
		} else {
			ok = manager.SwitchToWireless()
		}
		st := manager.Status()
		if !ok {
			if st.UserMessage != "" {
				return fmt.Errorf("could not switch to %s: %s", target, st.UserMessage)
			}
			return fmt.Errorf("could not switch to %s: path not reachable", target)
		}
		fmt.Printf("Active path is now %s (%s).\n", st.Mode, st.ActiveSerial)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(switchCmd)
}
