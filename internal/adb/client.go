package adb

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout bounds adb invocations that have no tighter deadline.
const DefaultTimeout = 10 * time.Second

// Client wraps ADB command-line calls. Every invocation carries an explicit
// timeout; a call that expires returns ErrTimeout rather than blocking.
type Client struct {
	logger *zap.Logger
}

// NewClient creates a new ADB client.
func NewClient(logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{logger: logger}
}

// Installed reports whether the adb binary is available in PATH.
func (c *Client) Installed() bool {
	_, err := exec.LookPath("adb")
	return err == nil
}

// Run executes an adb command and returns its trimmed stdout.
// Timeout expiry yields ErrTimeout, a missing binary ErrNotInstalled,
// and a nonzero exit ErrCommandFailed.
func (c *Client) Run(args []string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "adb", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		c.logger.Warn("adb timed out", zap.Strings("args", args), zap.Duration("timeout", timeout))
		return "", fmt.Errorf("%w: adb %s", ErrTimeout, strings.Join(args, " "))
	}
	if err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) && errors.Is(execErr.Err, exec.ErrNotFound) {
			return "", ErrNotInstalled
		}
		c.logger.Warn("adb command failed",
			zap.Strings("args", args),
			zap.String("stderr", strings.TrimSpace(stderr.String())))
		return "", fmt.Errorf("%w: adb %s: %s", ErrCommandFailed, strings.Join(args, " "), strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// Shell runs a shell command on the given device.
func (c *Client) Shell(serial string, timeout time.Duration, argv ...string) (string, error) {
	args := append([]string{"-s", serial, "shell"}, argv...)
	return c.Run(args, timeout)
}

// Devices returns all devices visible to adb. A total failure returns an
// empty list with the error; callers polling for presence treat that as
// "nothing attached".
func (c *Client) Devices() ([]Device, error) {
	out, err := c.Run([]string{"devices", "-l"}, DefaultTimeout)
	if err != nil {
		return nil, fmt.Errorf("adb devices: %w", err)
	}
	return parseDeviceList(out), nil
}

// Connect connects to a wireless ADB device.
func (c *Client) Connect(ip string, port int) error {
	addr := fmt.Sprintf("%s:%d", ip, port)
	out, err := c.Run([]string{"connect", addr}, DefaultTimeout)
	if err != nil {
		return fmt.Errorf("adb connect %s: %w", addr, err)
	}
	lower := strings.ToLower(out)
	// "connected to" and "already connected to" both count.
	if strings.Contains(lower, "connected") && !strings.Contains(lower, "unable") {
		return nil
	}
	return fmt.Errorf("%w: adb connect %s: %s", ErrCommandFailed, addr, strings.TrimSpace(out))
}

// Disconnect drops a wireless ADB connection. An empty ip disconnects all
// wireless connections.
func (c *Client) Disconnect(ip string, port int) error {
	args := []string{"disconnect"}
	if ip != "" {
		args = append(args, fmt.Sprintf("%s:%d", ip, port))
	}
	if _, err := c.Run(args, 5*time.Second); err != nil {
		return fmt.Errorf("adb disconnect: %w", err)
	}
	return nil
}

// EnableWireless restarts adbd on the device in TCP listen mode. The device
// drops its USB session briefly while the listener restarts.
func (c *Client) EnableWireless(serial string, port int) error {
	if IsWirelessSerial(serial) {
		return fmt.Errorf("%w: tcpip on wireless serial %s", ErrCommandFailed, serial)
	}
	c.logger.Info("enabling wireless adb", zap.String("serial", serial), zap.Int("port", port))
	out, err := c.Run([]string{"-s", serial, "tcpip", fmt.Sprintf("%d", port)}, DefaultTimeout)
	if err != nil {
		return fmt.Errorf("adb tcpip: %w", err)
	}
	// tcpip usually prints "restarting in TCP mode" but some builds are
	// silent and still switch modes.
	if out == "" || strings.Contains(strings.ToLower(out), "restarting") {
		return nil
	}
	return fmt.Errorf("%w: adb tcpip: %s", ErrCommandFailed, strings.TrimSpace(out))
}

var (
	routeSrcRe  = regexp.MustCompile(`src\s+(\d+\.\d+\.\d+\.\d+)`)
	inetRe      = regexp.MustCompile(`inet\s+(\d+\.\d+\.\d+\.\d+)`)
	inetAddrRe  = regexp.MustCompile(`inet addr:(\d+\.\d+\.\d+\.\d+)`)
	wlanRouteRe = regexp.MustCompile(`wlan0`)
)

// WirelessAddress asks the device (over an existing connection, normally
// USB) for the IP of its wlan0 interface. Tries ip route, then ip addr,
// then ifconfig for older Android builds.
func (c *Client) WirelessAddress(serial string) (string, error) {
	out, err := c.Shell(serial, 5*time.Second, "ip", "route")
	if err == nil {
		for _, line := range strings.Split(out, "\n") {
			if !wlanRouteRe.MatchString(line) || !strings.Contains(line, "src") {
				continue
			}
			if m := routeSrcRe.FindStringSubmatch(line); m != nil {
				c.logger.Debug("device ip via ip route", zap.String("ip", m[1]))
				return m[1], nil
			}
		}
	}

	out, err = c.Shell(serial, 5*time.Second, "ip", "addr", "show", "wlan0")
	if err == nil {
		if m := inetRe.FindStringSubmatch(out); m != nil {
			c.logger.Debug("device ip via ip addr", zap.String("ip", m[1]))
			return m[1], nil
		}
	}

	out, err = c.Shell(serial, 5*time.Second, "ifconfig", "wlan0")
	if err == nil {
		if m := inetAddrRe.FindStringSubmatch(out); m != nil {
			c.logger.Debug("device ip via ifconfig", zap.String("ip", m[1]))
			return m[1], nil
		}
	}

	if err != nil {
		return "", fmt.Errorf("wireless address lookup: %w", err)
	}
	return "", fmt.Errorf("%w: no wlan0 address reported", ErrCommandFailed)
}

// MDNSServices returns the raw output of `adb mdns services`, which lists
// devices advertising wireless debugging on the local network.
func (c *Client) MDNSServices(timeout time.Duration) (string, error) {
	out, err := c.Run([]string{"mdns", "services"}, timeout)
	if err != nil {
		return "", fmt.Errorf("adb mdns services: %w", err)
	}
	return out, nil
}

// VerifyWireless checks that ip:port is both listed by adb and answering
// shell commands. Presence in the device list alone is not proof of life.
func (c *Client) VerifyWireless(ip string, port int) bool {
	addr := fmt.Sprintf("%s:%d", ip, port)
	devices, err := c.Devices()
	if err != nil {
		return false
	}
	for _, d := range devices {
		if d.Serial != addr {
			continue
		}
		out, err := c.Shell(addr, 3*time.Second, "echo", "test")
		return err == nil && strings.Contains(out, "test")
	}
	return false
}

// parseDeviceList parses `adb devices -l` output.
func parseDeviceList(output string) []Device {
	var devices []Device
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "List of") || strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		d := Device{
			Serial: fields[0],
			State:  fields[1],
		}
		// Determine connection type
		if strings.Contains(d.Serial, ":") {
			d.ConnType = WiFi
		} else {
			d.ConnType = USB
		}
		// Parse key:value pairs
		for _, f := range fields[2:] {
			parts := strings.SplitN(f, ":", 2)
			if len(parts) != 2 {
				continue
			}
			switch parts[0] {
			case "model":
				d.Model = parts[1]
			case "product":
				d.Product = parts[1]
			case "device":
				d.DeviceName = parts[1]
			case "transport_id":
				d.TransportID = parts[1]
			}
		}
		devices = append(devices, d)
	}
	return devices
}
