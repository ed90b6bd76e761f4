package cmd

import (
	"fmt"
	"strconv"

	"github.com/FluidXR/questlink/internal/config"
	"github.com/FluidXR/questlink/internal/conn"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage questlink configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		fmt.Printf("Config file: %s\n\n", config.ConfigPath())
		fmt.Printf("Priority:              %s\n", cfg.Priority)
		wireless := "(not set)"
		if cfg.WirelessIP != "" {
			wireless = fmt.Sprintf("%s:%d", cfg.WirelessIP, cfg.WirelessPort)
		}
		fmt.Printf("Wireless address:      %s\n", wireless)
		fmt.Printf("Auto-enable wireless:  %v\n", cfg.AutoEnableWireless)
		fmt.Printf("Auto fallback:         %v\n", cfg.AutoFallback)
		fmt.Printf("Check interval:        %ds\n", cfg.CheckIntervalSeconds)
		fmt.Printf("Monitor interval:      %ds\n", cfg.MonitorIntervalSeconds)
		fmt.Printf("Journal retention:     %dh\n", cfg.JournalRetentionHours)
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.DefaultConfig()
		if err := config.Save(cfg); err != nil {
			return err
		}
		fmt.Printf("Config created at %s\n", config.ConfigPath())
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Settable keys: priority, wireless_ip, wireless_port,
auto_enable_wireless, auto_fallback, check_interval_seconds,
monitor_interval_seconds, journal_retention_hours.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		switch key {
		case "priority":
			if _, ok := conn.ParsePriority(value); !ok {
				return fmt.Errorf("invalid priority %q", value)
			}
			cfg.Priority = value
		case "wireless_ip":
			cfg.WirelessIP = value
		case "wireless_port":
			port, err := strconv.Atoi(value)
			if err != nil || port <= 0 || port > 65535 {
				return fmt.Errorf("invalid port %q", value)
			}
			cfg.WirelessPort = port
		case "auto_enable_wireless", "auto_fallback":
			b, err := strconv.ParseBool(value)
			if err != nil {
				return fmt.Errorf("invalid boolean %q", value)
			}
			if key == "auto_enable_wireless" {
				cfg.AutoEnableWireless = b
			} else {
				cfg.AutoFallback = b
			}
		case "check_interval_seconds", "monitor_interval_seconds", "journal_retention_hours":
			n, err := strconv.Atoi(value)
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid value %q", value)
			}
			switch key {
			case "check_interval_seconds":
				cfg.CheckIntervalSeconds = n
			case "monitor_interval_seconds":
				cfg.MonitorIntervalSeconds = n
			case "journal_retention_hours":
				cfg.JournalRetentionHours = n
			}
		default:
			return fmt.Errorf("unknown key %q", key)
		}

		if err := config.Save(cfg); err != nil {
			return err
		}
		fmt.Printf("%s = %s\n", key, value)
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file path",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(config.ConfigPath())
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}
