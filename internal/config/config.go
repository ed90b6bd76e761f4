package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the persisted user settings. The connection core never reads
// this directly; the CLI loads it and wires the values in at construction.
type Config struct {
	Priority               string `yaml:"priority"`
	WirelessIP             string `yaml:"wireless_ip,omitempty"`
	WirelessPort           int    `yaml:"wireless_port"`
	AutoEnableWireless     bool   `yaml:"auto_enable_wireless"`
	AutoFallback           bool   `yaml:"auto_fallback"`
	CheckIntervalSeconds   int    `yaml:"check_interval_seconds"`
	MonitorIntervalSeconds int    `yaml:"monitor_interval_seconds"`
	JournalRetentionHours  int    `yaml:"journal_retention_hours"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Priority:               "usb_first",
		WirelessPort:           5555,
		AutoEnableWireless:     true,
		AutoFallback:           true,
		CheckIntervalSeconds:   5,
		MonitorIntervalSeconds: 5,
		JournalRetentionHours:  48,
	}
}

// ConfigDir returns the config directory path.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "questlink")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "questlink")
}

// ConfigPath returns the config file path.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// Load reads the config file, returning defaults if it doesn't exist.
func Load() (*Config, error) {
	return LoadFrom(ConfigPath())
}

// LoadFrom reads a config file from an explicit path.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.WirelessPort <= 0 {
		cfg.WirelessPort = 5555
	}
	return cfg, nil
}

// Save writes the config to disk.
func Save(cfg *Config) error {
	return SaveTo(cfg, ConfigPath())
}

// SaveTo writes the config to an explicit path.
func SaveTo(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
