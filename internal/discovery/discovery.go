// Package discovery finds the headset's wireless address without trusting
// cached values. Auto-discovery is cheap enough for periodic use; the full
// subnet scan is an explicit user action only.
package discovery

import (
	"fmt"
	"net"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/FluidXR/questlink/internal/adb"
)

// DefaultPort is the adb wireless listen port probed during discovery.
const DefaultPort = 5555

const scanWorkers = 50

// Driver is the transport surface discovery needs from ADB.
type Driver interface {
	Devices() ([]adb.Device, error)
	Connect(ip string, port int) error
	Disconnect(ip string, port int) error
	WirelessAddress(serial string) (string, error)
	MDNSServices(timeout time.Duration) (string, error)
	VerifyWireless(ip string, port int) bool
}

var addrRe = regexp.MustCompile(`(\d+\.\d+\.\d+\.\d+):(\d+)`)

// serviceIdentifiers mark mdns entries advertised by a headset.
var serviceIdentifiers = []string{"quest", "hollywood", "eureka", "seacliff", "monterey", "pacific"}

// Discoverer learns the headset's wireless IP. It never mutates connection
// state; it only reports candidate addresses.
type Discoverer struct {
	driver Driver
	logger *zap.Logger

	mu             sync.Mutex
	savedIP        string
	lastDiscovered string
}

// NewDiscoverer creates a Discoverer.
func NewDiscoverer(driver Driver, logger *zap.Logger) *Discoverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{driver: driver, logger: logger}
}

// SetSavedAddress seeds the saved-address fallback, typically from the
// settings file.
func (d *Discoverer) SetSavedAddress(ip string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.savedIP = ip
}

// LastDiscovered returns the most recently discovered IP, if any.
func (d *Discoverer) LastDiscovered() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastDiscovered
}

// AutoDiscover tries each cheap discovery method in order and stops at the
// first hit: direct USB query, mdns, then re-validating the saved address
// with a real probe. Returns false when nothing answered.
func (d *Discoverer) AutoDiscover(usbSerial string) (string, bool) {
	d.logger.Info("discovering headset wireless address")

	if usbSerial != "" {
		if ip, err := d.driver.WirelessAddress(usbSerial); err == nil && ip != "" {
			d.logger.Info("address found via usb query", zap.String("ip", ip))
			d.remember(ip)
			return ip, true
		}
	}

	if ip := d.mdnsLookup(); ip != "" {
		d.remember(ip)
		return ip, true
	}

	d.mu.Lock()
	saved := d.savedIP
	d.mu.Unlock()
	if saved != "" && d.driver.VerifyWireless(saved, DefaultPort) {
		d.logger.Info("saved address re-validated", zap.String("ip", saved))
		d.remember(saved)
		return saved, true
	}

	d.logger.Warn("could not discover headset wireless address")
	return "", false
}

// mdnsLookup asks adb for locally advertised wireless-debugging services
// and pattern-matches headset names.
func (d *Discoverer) mdnsLookup() string {
	out, err := d.driver.MDNSServices(5 * time.Second)
	if err != nil {
		d.logger.Debug("mdns lookup failed", zap.Error(err))
		return ""
	}
	for _, line := range strings.Split(out, "\n") {
		lower := strings.ToLower(line)
		matched := false
		for _, id := range serviceIdentifiers {
			if strings.Contains(lower, id) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		if m := addrRe.FindStringSubmatch(line); m != nil {
			d.logger.Info("address found via mdns", zap.String("ip", m[1]))
			return m[1]
		}
	}
	return ""
}

func (d *Discoverer) remember(ip string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastDiscovered = ip
}

// ScanNetwork probes every host on the local /24 for an open adb port and
// verifies each hit by actually connecting and checking the device list.
// Takes many seconds even with parallel probes; run only on explicit user
// request.
func (d *Discoverer) ScanNetwork(probeTimeout time.Duration) (string, bool) {
	if probeTimeout <= 0 {
		probeTimeout = 500 * time.Millisecond
	}

	localIP := localAddress()
	if localIP == "" {
		d.logger.Error("could not determine local IP for scan")
		return "", false
	}
	parts := strings.Split(localIP, ".")
	if len(parts) != 4 {
		return "", false
	}
	prefix := strings.Join(parts[:3], ".")
	d.logger.Info("scanning network for adb devices", zap.String("subnet", prefix+".0/24"))

	hosts := make(chan string)
	var open []string
	var openMu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < scanWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ip := range hosts {
				conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", ip, DefaultPort), probeTimeout)
				if err != nil {
					continue
				}
				conn.Close()
				openMu.Lock()
				open = append(open, ip)
				openMu.Unlock()
			}
		}()
	}
	for i := 2; i < 255; i++ {
		hosts <- fmt.Sprintf("%s.%d", prefix, i)
	}
	close(hosts)
	wg.Wait()

	if len(open) == 0 {
		d.logger.Warn("no adb port found on network scan")
		return "", false
	}
	d.logger.Info("open adb ports found", zap.Strings("hosts", open))

	// An open port is not necessarily a headset: connect and check the
	// device list before trusting it.
	for _, ip := range open {
		if err := d.driver.Connect(ip, DefaultPort); err != nil {
			continue
		}
		devices, err := d.driver.Devices()
		if err != nil {
			continue
		}
		addr := fmt.Sprintf("%s:%d", ip, DefaultPort)
		found := false
		for _, dev := range devices {
			if dev.Serial == addr {
				found = true
				break
			}
		}
		if found {
			d.logger.Info("verified headset on network", zap.String("ip", ip))
			d.remember(ip)
			return ip, true
		}
		_ = d.driver.Disconnect(ip, DefaultPort)
	}

	d.logger.Warn("no headset found on network scan")
	return "", false
}

// localAddress finds this machine's LAN IP by opening a UDP socket toward a
// public address; no packet is sent.
func localAddress() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err == nil {
		defer conn.Close()
		if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
			return addr.IP.String()
		}
	}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, a := range addrs {
		if ipnet, ok := a.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
			return ipnet.IP.String()
		}
	}
	return ""
}
