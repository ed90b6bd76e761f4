package conn

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FluidXR/questlink/internal/adb"
)

// fakeDriver scripts the transport for manager tests. shellOK decides which
// serials answer the echo probe.
type fakeDriver struct {
	mu           sync.Mutex
	devices      []adb.Device
	devicesErr   error
	shellOK      map[string]bool
	enableErr    error
	connectErr   error
	wirelessIP   string
	wirelessErr  error
	enableCalls  int
	connectCalls int
	panicOnList  bool
}

func (f *fakeDriver) Devices() ([]adb.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicOnList {
		panic("device list exploded")
	}
	return append([]adb.Device(nil), f.devices...), f.devicesErr
}

func (f *fakeDriver) Shell(serial string, _ time.Duration, argv ...string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.shellOK[serial] {
		return "ping", nil
	}
	return "", errors.New("device not responding")
}

func (f *fakeDriver) EnableWireless(serial string, port int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enableCalls++
	return f.enableErr
}

func (f *fakeDriver) Connect(ip string, port int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	return f.connectErr
}

func (f *fakeDriver) WirelessAddress(serial string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.wirelessIP, f.wirelessErr
}

func (f *fakeDriver) setShellOK(serial string, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.shellOK == nil {
		f.shellOK = map[string]bool{}
	}
	f.shellOK[serial] = ok
}

func usbQuest(serial string) adb.Device {
	return adb.Device{Serial: serial, State: "device", Model: "Quest_3", ConnType: adb.USB}
}

func wirelessDevice(addr string) adb.Device {
	return adb.Device{Serial: addr, State: "device", ConnType: adb.WiFi}
}

func newTestManager(driver *fakeDriver, opts ...Option) *Manager {
	m := NewManager(driver, nil, opts...)
	m.settleDelay = 0
	return m
}

func TestCheckAndUpdate_USBOnly(t *testing.T) {
	driver := &fakeDriver{
		devices: []adb.Device{usbQuest("ABC123")},
		shellOK: map[string]bool{"ABC123": true},
	}
	m := newTestManager(driver, WithAutoEnableWireless(false))

	st := m.CheckAndUpdate()
	assert.Equal(t, StateConnectedUSB, st.State)
	assert.Equal(t, "usb", st.Mode)
	assert.Equal(t, "ABC123", st.ActiveSerial)
	assert.True(t, st.USBConnected)
	assert.False(t, st.WirelessConnected)
}

func TestCheckAndUpdate_ActiveIffConnected(t *testing.T) {
	driver := &fakeDriver{
		devices: []adb.Device{usbQuest("ABC123")},
		shellOK: map[string]bool{"ABC123": true},
	}
	m := newTestManager(driver, WithAutoEnableWireless(false))

	// Active path is set exactly when some state other than disconnected
	// holds, across arbitrary tick sequences.
	for i := 0; i < 3; i++ {
		st := m.CheckAndUpdate()
		assert.Equal(t, st.State != StateDisconnected, st.ActiveSerial != "", "tick %d", i)
	}

	driver.setShellOK("ABC123", false)
	for i := 0; i < 3; i++ {
		st := m.CheckAndUpdate()
		assert.Equal(t, StateDisconnected, st.State)
		assert.Empty(t, st.ActiveSerial)
		assert.Equal(t, QualityUnknown, st.Quality)
	}
}

func TestCheckAndUpdate_TieBreakByPriority(t *testing.T) {
	const usb = "ABC123"
	const wireless = "192.168.1.50:5555"

	tests := []struct {
		priority Priority
		want     string
	}{
		{PriorityUSBFirst, usb},
		{PriorityWirelessFirst, wireless},
		{PriorityAuto, wireless},
	}
	for _, tt := range tests {
		t.Run(string(tt.priority), func(t *testing.T) {
			driver := &fakeDriver{
				devices: []adb.Device{usbQuest(usb), wirelessDevice(wireless)},
				shellOK: map[string]bool{usb: true, wireless: true},
			}
			m := newTestManager(driver, WithPriority(tt.priority))

			// Idempotent under no underlying change.
			for i := 0; i < 3; i++ {
				st := m.CheckAndUpdate()
				require.Equal(t, StateConnectedBoth, st.State, "tick %d", i)
				assert.Equal(t, tt.want, st.ActiveSerial, "tick %d", i)
			}
		})
	}
}

func TestCheckAndUpdate_AutoEnableWireless(t *testing.T) {
	// USB present and live, no wireless known, auto-enable on: the full
	// enable sequence runs and ends dual-path with wireless active.
	const usb = "ABC123"
	const addr = "192.168.1.50:5555"

	driver := &fakeDriver{
		devices:    []adb.Device{usbQuest(usb)},
		shellOK:    map[string]bool{usb: true, addr: true},
		wirelessIP: "192.168.1.50",
	}
	m := newTestManager(driver, WithPriority(PriorityAuto))

	st := m.CheckAndUpdate()
	assert.Equal(t, StateConnectedBoth, st.State)
	assert.Equal(t, "wireless", st.Mode)
	assert.Equal(t, addr, st.ActiveSerial)
	assert.Equal(t, "192.168.1.50", st.WirelessIP)
	assert.Equal(t, 1, driver.enableCalls)
	assert.Equal(t, 1, driver.connectCalls)

	events := m.Events(false)
	require.NotEmpty(t, events)
	assert.Equal(t, EventConnected, events[0].Type)
}

func TestCheckAndUpdate_EnableFailureDoesNotAbortPass(t *testing.T) {
	const usb = "ABC123"
	driver := &fakeDriver{
		devices:   []adb.Device{usbQuest(usb)},
		shellOK:   map[string]bool{usb: true},
		enableErr: errors.New("adb command failed: not found"),
	}
	m := newTestManager(driver)

	st := m.CheckAndUpdate()
	// Enable failed but USB detection still completed.
	assert.Equal(t, StateConnectedUSB, st.State)
	assert.Equal(t, usb, st.ActiveSerial)
}

func TestCheckAndUpdate_WirelessAddressSurvivesFailedProbe(t *testing.T) {
	const usb = "ABC123"
	const addr = "192.168.1.50:5555"
	driver := &fakeDriver{
		devices: []adb.Device{usbQuest(usb), wirelessDevice(addr)},
		shellOK: map[string]bool{usb: true, addr: true},
	}
	m := newTestManager(driver, WithPriority(PriorityAuto))
	m.CheckAndUpdate()

	// Wireless dies: the address stays known, reachability does not.
	driver.setShellOK(addr, false)
	st := m.CheckAndUpdate()
	assert.Equal(t, StateConnectedUSB, st.State)
	assert.Equal(t, "192.168.1.50", st.WirelessIP)
	assert.False(t, st.WirelessConnected)
	assert.Equal(t, usb, st.ActiveSerial)
}

func TestCheckAndUpdate_AmbiguousUSBYieldsNoCandidate(t *testing.T) {
	// Two unidentified wired devices: neither matches the model list and
	// the only-device fallback does not apply.
	driver := &fakeDriver{
		devices: []adb.Device{
			{Serial: "AAA", State: "device", Model: "Pixel_8"},
			{Serial: "BBB", State: "device", Model: "Galaxy_S24"},
		},
		shellOK: map[string]bool{"AAA": true, "BBB": true},
	}
	m := newTestManager(driver, WithAutoEnableWireless(false))

	st := m.CheckAndUpdate()
	assert.Equal(t, StateDisconnected, st.State)
	assert.Empty(t, st.USBSerial)
}

func TestCheckAndUpdate_SoleUnidentifiedDeviceIsCandidate(t *testing.T) {
	driver := &fakeDriver{
		devices: []adb.Device{{Serial: "AAA", State: "device", Model: "Pixel_8"}},
		shellOK: map[string]bool{"AAA": true},
	}
	m := newTestManager(driver, WithAutoEnableWireless(false))

	st := m.CheckAndUpdate()
	assert.Equal(t, StateConnectedUSB, st.State)
	assert.Equal(t, "AAA", st.USBSerial)
}

func TestCheckAndUpdate_PanicContained(t *testing.T) {
	driver := &fakeDriver{panicOnList: true}
	m := newTestManager(driver)

	var st Status
	assert.NotPanics(t, func() { st = m.CheckAndUpdate() })
	assert.Contains(t, st.UserMessage, "Connection check error")
}

func TestCheckAndUpdate_NoSwitchedEventWhenModeUnchanged(t *testing.T) {
	// Under usb_first with USB active, wireless coming up or dropping
	// changes the state but not the active transport; neither transition
	// is a switch.
	const usb = "ABC123"
	const addr = "192.168.1.50:5555"
	driver := &fakeDriver{
		devices: []adb.Device{usbQuest(usb)},
		shellOK: map[string]bool{usb: true},
	}
	m := newTestManager(driver, WithPriority(PriorityUSBFirst), WithAutoEnableWireless(false))

	st := m.CheckAndUpdate()
	require.Equal(t, StateConnectedUSB, st.State)
	require.Len(t, m.Events(false), 1) // the connected event

	// Wireless comes up alongside USB.
	driver.mu.Lock()
	driver.devices = []adb.Device{usbQuest(usb), wirelessDevice(addr)}
	driver.mu.Unlock()
	driver.setShellOK(addr, true)

	st = m.CheckAndUpdate()
	require.Equal(t, StateConnectedBoth, st.State)
	require.Equal(t, "usb", st.Mode)
	assert.Len(t, m.Events(false), 1, "no event for a backup path appearing")

	// Wireless drops again.
	driver.setShellOK(addr, false)
	st = m.CheckAndUpdate()
	require.Equal(t, StateConnectedUSB, st.State)
	require.Equal(t, "usb", st.Mode)

	for _, e := range m.Events(false) {
		assert.NotEqual(t, EventSwitched, e.Type, "active mode never changed")
	}
}

func TestSwitchToUSB_FailsWhenUnreachable(t *testing.T) {
	m := newTestManager(&fakeDriver{})

	assert.False(t, m.SwitchToUSB())
	st := m.Status()
	assert.Empty(t, st.ActiveSerial)
	assert.Empty(t, m.Events(false))
}

func TestSwitchBetweenPaths(t *testing.T) {
	const usb = "ABC123"
	const addr = "192.168.1.50:5555"
	driver := &fakeDriver{
		devices: []adb.Device{usbQuest(usb), wirelessDevice(addr)},
		shellOK: map[string]bool{usb: true, addr: true},
	}
	m := newTestManager(driver, WithPriority(PriorityUSBFirst))
	m.CheckAndUpdate()
	require.Equal(t, usb, m.ActiveSerial())

	require.True(t, m.SwitchToWireless())
	assert.Equal(t, addr, m.ActiveSerial())
	assert.Equal(t, "wireless", m.Status().Mode)

	require.True(t, m.SwitchToUSB())
	assert.Equal(t, usb, m.ActiveSerial())

	events := m.Events(false)
	var switched int
	for _, e := range events {
		if e.Type == EventSwitched {
			switched++
		}
	}
	assert.Equal(t, 2, switched)
}

func TestSwitchToWireless_AttemptsEnableFirst(t *testing.T) {
	const usb = "ABC123"
	const addr = "192.168.1.50:5555"
	driver := &fakeDriver{
		devices:    []adb.Device{usbQuest(usb)},
		shellOK:    map[string]bool{usb: true, addr: true},
		wirelessIP: "192.168.1.50",
	}
	m := newTestManager(driver, WithAutoEnableWireless(false))
	m.CheckAndUpdate()
	require.Equal(t, StateConnectedUSB, m.Status().State)

	// Wireless is down, so the switch runs the enable sequence itself.
	assert.True(t, m.SwitchToWireless())
	assert.Equal(t, addr, m.ActiveSerial())
	assert.Equal(t, 1, driver.enableCalls)
}

func TestSetPriority(t *testing.T) {
	const usb = "ABC123"
	const addr = "192.168.1.50:5555"
	driver := &fakeDriver{
		devices: []adb.Device{usbQuest(usb), wirelessDevice(addr)},
		shellOK: map[string]bool{usb: true, addr: true},
	}
	m := newTestManager(driver, WithPriority(PriorityUSBFirst))
	m.CheckAndUpdate()
	require.Equal(t, usb, m.ActiveSerial())

	// Invalid values are rejected with no mutation.
	assert.False(t, m.SetPriority(Priority("bogus")))
	assert.Equal(t, PriorityUSBFirst, m.Status().Priority)
	assert.Equal(t, usb, m.ActiveSerial())

	// A valid change re-resolves the active path without a detection pass.
	assert.True(t, m.SetPriority(PriorityWirelessFirst))
	assert.Equal(t, addr, m.ActiveSerial())
}

func TestHandleDisconnection(t *testing.T) {
	const usb = "ABC123"
	const addr = "192.168.1.50:5555"

	t.Run("falls back to surviving path", func(t *testing.T) {
		driver := &fakeDriver{
			devices: []adb.Device{usbQuest(usb), wirelessDevice(addr)},
			shellOK: map[string]bool{usb: true, addr: true},
		}
		m := newTestManager(driver, WithPriority(PriorityUSBFirst))
		m.CheckAndUpdate()

		m.HandleDisconnection("usb")
		st := m.Status()
		assert.Equal(t, StateConnectedWireless, st.State)
		assert.Equal(t, addr, st.ActiveSerial)

		events := m.Events(false)
		require.NotEmpty(t, events)
		assert.Equal(t, EventSwitched, events[len(events)-1].Type)
	})

	t.Run("no backup means disconnected", func(t *testing.T) {
		driver := &fakeDriver{
			devices: []adb.Device{usbQuest(usb)},
			shellOK: map[string]bool{usb: true},
		}
		m := newTestManager(driver, WithAutoEnableWireless(false))
		m.CheckAndUpdate()

		m.HandleDisconnection("usb")
		st := m.Status()
		assert.Equal(t, StateDisconnected, st.State)
		assert.Empty(t, st.ActiveSerial)

		events := m.Events(false)
		require.NotEmpty(t, events)
		assert.Equal(t, EventDisconnected, events[len(events)-1].Type)
	})
}

func TestMeasureLatency(t *testing.T) {
	const usb = "ABC123"
	driver := &fakeDriver{
		devices: []adb.Device{usbQuest(usb)},
		shellOK: map[string]bool{usb: true},
	}
	m := newTestManager(driver, WithAutoEnableWireless(false))

	// No active path yet.
	_, ok := m.MeasureLatency()
	assert.False(t, ok)

	m.CheckAndUpdate()
	latency, ok := m.MeasureLatency()
	require.True(t, ok)
	assert.GreaterOrEqual(t, latency, 0)
	assert.Equal(t, latency, m.Status().LatencyMS)
	assert.NotEqual(t, QualityUnknown, m.Status().Quality)
}

func TestEvents_ClearOnRead(t *testing.T) {
	const usb = "ABC123"
	driver := &fakeDriver{
		devices: []adb.Device{usbQuest(usb)},
		shellOK: map[string]bool{usb: true},
	}
	m := newTestManager(driver, WithAutoEnableWireless(false))
	m.CheckAndUpdate()

	require.NotEmpty(t, m.Events(true))
	assert.Empty(t, m.Events(false))
}

func TestOnEvent_Callback(t *testing.T) {
	const usb = "ABC123"
	driver := &fakeDriver{
		devices: []adb.Device{usbQuest(usb)},
		shellOK: map[string]bool{usb: true},
	}
	m := newTestManager(driver, WithAutoEnableWireless(false))

	var got []Event
	m.OnEvent(func(e Event) { got = append(got, e) })
	m.CheckAndUpdate()

	require.NotEmpty(t, got)
	assert.Equal(t, EventConnected, got[0].Type)
}

func TestOnEvent_CallbackRunsOutsideDescriptorLock(t *testing.T) {
	// The watch loop's callback does a synchronous journal write and may
	// read the snapshot; neither must block on the descriptor lock.
	const usb = "ABC123"
	driver := &fakeDriver{
		devices: []adb.Device{usbQuest(usb)},
		shellOK: map[string]bool{usb: true},
	}
	m := newTestManager(driver, WithAutoEnableWireless(false))

	var seen []State
	m.OnEvent(func(e Event) { seen = append(seen, m.Status().State) })
	m.CheckAndUpdate()

	require.Len(t, seen, 1)
	assert.Equal(t, StateConnectedUSB, seen[0])
}
