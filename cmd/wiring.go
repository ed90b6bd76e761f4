package cmd

import (
	"fmt"

	"github.com/FluidXR/questlink/internal/adb"
	"github.com/FluidXR/questlink/internal/config"
	"github.com/FluidXR/questlink/internal/conn"

	"go.uber.org/zap"
)

// buildManager wires a Manager from the settings file. The manager itself
// never reads config; everything it needs is injected here.
func buildManager(cfg *config.Config, logger *zap.Logger) (*conn.Manager, *adb.Client) {
	client := adb.NewClient(logger.Named("adb"))

	opts := []conn.Option{
		conn.WithWirelessPort(cfg.WirelessPort),
		conn.WithAutoEnableWireless(cfg.AutoEnableWireless),
	}
	if p, ok := conn.ParsePriority(cfg.Priority); ok {
		opts = append(opts, conn.WithPriority(p))
	}

	manager := conn.NewManager(client, logger.Named("conn"), opts...)
	if cfg.WirelessIP != "" {
		manager.SetWirelessAddress(cfg.WirelessIP, cfg.WirelessPort)
	}
	return manager, client
}

// printStatus renders a snapshot for humans.
func printStatus(st conn.Status) {
	fmt.Printf("State:     %s\n", st.State)
	fmt.Printf("Mode:      %s\n", st.Mode)
	fmt.Printf("Priority:  %s\n", st.Priority)

	usb := "not connected"
	if st.USBConnected {
		usb = st.USBSerial
	}
	fmt.Printf("USB:       %s\n", usb)

	wireless := "not connected"
	if st.WirelessIP != "" {
		wireless = fmt.Sprintf("%s:%d", st.WirelessIP, st.WirelessPort)
		if !st.WirelessConnected {
			wireless += " (not responding)"
		}
	}
	fmt.Printf("Wireless:  %s\n", wireless)

	if st.ActiveSerial != "" {
		fmt.Printf("Active:    %s\n", st.ActiveSerial)
	}
	if st.LatencyMS >= 0 {
		fmt.Printf("Latency:   %dms (%s)\n", st.LatencyMS, st.Quality)
	}
	if len(st.CanSwitchTo) > 0 {
		fmt.Printf("Can switch to: %v\n", st.CanSwitchTo)
	}
	if st.UserMessage != "" {
		fmt.Printf("\n%s\n", st.UserMessage)
	}
}
