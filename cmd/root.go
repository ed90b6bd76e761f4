package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Version of QuestLink.
const Version = "0.2.0"

var verbose bool

var rootCmd = &cobra.Command{
	Use:     "questlink",
	Short:   "Keep a Meta Quest headset connected over USB and wireless ADB",
	Version: Version,
	Long: `QuestLink maintains a single logical link to a Quest headset across two
physical transports: the USB tether and wireless ADB. It detects which
paths are present, opportunistically enables wireless mode, probes each
path for liveness, and fails over automatically when the active one dies.`,
}

var adbInstallHint = map[string]string{
	"darwin":  "brew install android-platform-tools",
	"linux":   "sudo apt install android-tools-adb",
	"windows": "winget install Google.PlatformTools",
}

// requireADB returns a PersistentPreRunE that checks the adb binary exists.
func requireADB() func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if _, err := exec.LookPath("adb"); err != nil {
			hint := adbInstallHint[runtime.GOOS]
			return fmt.Errorf("adb not found in PATH, install it with: %s", hint)
		}
		return nil
	}
}

// newLogger builds the CLI logger. --verbose drops the level to debug so
// probe chatter becomes visible.
func newLogger() *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}
