package discovery

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FluidXR/questlink/internal/adb"
)

type fakeDriver struct {
	wirelessIP     string
	wirelessErr    error
	mdnsOutput     string
	mdnsErr        error
	verifyOK       map[string]bool
	devices        []adb.Device
	usbQueryCalled bool
	mdnsCalled     bool
	verifyCalled   bool
}

func (f *fakeDriver) Devices() ([]adb.Device, error) { return f.devices, nil }
func (f *fakeDriver) Connect(ip string, port int) error {
	return errors.New("refused")
}
func (f *fakeDriver) Disconnect(ip string, port int) error { return nil }
func (f *fakeDriver) WirelessAddress(serial string) (string, error) {
	f.usbQueryCalled = true
	return f.wirelessIP, f.wirelessErr
}
func (f *fakeDriver) MDNSServices(timeout time.Duration) (string, error) {
	f.mdnsCalled = true
	return f.mdnsOutput, f.mdnsErr
}
func (f *fakeDriver) VerifyWireless(ip string, port int) bool {
	f.verifyCalled = true
	return f.verifyOK[ip]
}

func TestAutoDiscover_USBQueryWins(t *testing.T) {
	driver := &fakeDriver{wirelessIP: "192.168.1.50"}
	d := NewDiscoverer(driver, nil)

	ip, ok := d.AutoDiscover("1WMHH812345678")
	require.True(t, ok)
	assert.Equal(t, "192.168.1.50", ip)
	assert.Equal(t, "192.168.1.50", d.LastDiscovered())
	// First hit stops the chain.
	assert.False(t, driver.mdnsCalled)
}

func TestAutoDiscover_FallsBackToMDNS(t *testing.T) {
	driver := &fakeDriver{
		wirelessErr: errors.New("no wlan0 address"),
		mdnsOutput: `List of discovered mdns services
adb-1WMHH812345678-QuEsT3	_adb-tls-connect._tcp	192.168.1.77:5555
adb-9A14-pixel	_adb-tls-connect._tcp	192.168.1.12:5555`,
	}
	d := NewDiscoverer(driver, nil)

	ip, ok := d.AutoDiscover("1WMHH812345678")
	require.True(t, ok)
	assert.Equal(t, "192.168.1.77", ip)
}

func TestAutoDiscover_SkipsUSBWithoutSerial(t *testing.T) {
	driver := &fakeDriver{
		mdnsOutput: "adb-hollywood-device	_adb-tls-connect._tcp	10.0.0.9:5555",
	}
	d := NewDiscoverer(driver, nil)

	ip, ok := d.AutoDiscover("")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.9", ip)
	assert.False(t, driver.usbQueryCalled)
}

func TestAutoDiscover_RevalidatesSavedAddress(t *testing.T) {
	driver := &fakeDriver{
		wirelessErr: errors.New("unreachable"),
		verifyOK:    map[string]bool{"192.168.1.90": true},
	}
	d := NewDiscoverer(driver, nil)
	d.SetSavedAddress("192.168.1.90")

	ip, ok := d.AutoDiscover("1WMHH812345678")
	require.True(t, ok)
	assert.Equal(t, "192.168.1.90", ip)
	assert.True(t, driver.verifyCalled)
}

func TestAutoDiscover_SavedAddressMustAnswer(t *testing.T) {
	// A saved address that fails its probe is not returned: cached values
	// are never trusted unverified.
	driver := &fakeDriver{
		wirelessErr: errors.New("unreachable"),
		verifyOK:    map[string]bool{},
	}
	d := NewDiscoverer(driver, nil)
	d.SetSavedAddress("192.168.1.90")

	_, ok := d.AutoDiscover("")
	assert.False(t, ok)
	assert.True(t, driver.verifyCalled)
}

func TestAutoDiscover_NothingFound(t *testing.T) {
	driver := &fakeDriver{wirelessErr: errors.New("unreachable")}
	d := NewDiscoverer(driver, nil)

	_, ok := d.AutoDiscover("1WMHH812345678")
	assert.False(t, ok)
	assert.Empty(t, d.LastDiscovered())
}

func TestMDNSLookup_IgnoresUnrelatedServices(t *testing.T) {
	driver := &fakeDriver{
		mdnsOutput: `adb-9A14-pixel	_adb-tls-connect._tcp	192.168.1.12:5555
some-printer	_ipp._tcp	192.168.1.3:631`,
	}
	d := NewDiscoverer(driver, nil)
	assert.Empty(t, d.mdnsLookup())
}
