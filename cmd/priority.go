package cmd

import (
	"fmt"

	"github.com/FluidXR/questlink/internal/config"
	"github.com/FluidXR/questlink/internal/conn"

	"github.com/spf13/cobra"
)

var priorityCmd = &cobra.Command{
	Use:   "priority [usb_first|wireless_first|auto]",
	Short: "Show or set the path priority",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		if len(args) == 0 {
			fmt.Println(cfg.Priority)
			return nil
		}

		p, ok := conn.ParsePriority(args[0])
		if !ok {
			return fmt.Errorf("unknown priority %q, expected usb_first, wireless_first or auto", args[0])
		}
		cfg.Priority = string(p)
		if err := config.Save(cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		fmt.Printf("Priority set to %s.\n", p)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(priorityCmd)
}
