package conn

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/FluidXR/questlink/internal/adb"
)

const (
	// DefaultWirelessPort is the adb TCP listen port.
	DefaultWirelessPort = 5555

	// wirelessSettleDelay gives the device time to restart its adbd
	// listener after a tcpip mode switch.
	wirelessSettleDelay = 2 * time.Second

	probeTimeout        = 3 * time.Second
	latencyProbeTimeout = 5 * time.Second

	managerEventCapacity = 20
)

// questIdentifiers are model/product/device strings that mark a headset.
var questIdentifiers = []string{"quest", "hollywood", "eureka", "seacliff", "monterey", "pacific"}

// Status is a copy of the connection descriptor, safe to hand to consumers.
type Status struct {
	State             State    `json:"state"`
	Mode              string   `json:"mode"`
	USBConnected      bool     `json:"usb_connected"`
	USBSerial         string   `json:"usb_serial,omitempty"`
	WirelessConnected bool     `json:"wireless_connected"`
	WirelessIP        string   `json:"wireless_ip,omitempty"`
	WirelessPort      int      `json:"wireless_port"`
	Priority          Priority `json:"priority"`
	LatencyMS         int      `json:"latency_ms"` // -1 when never measured
	Quality           Quality  `json:"quality"`
	ActiveSerial      string   `json:"active_serial,omitempty"`
	CanSwitchTo       []string `json:"can_switch_to"`
	UserMessage       string   `json:"user_message,omitempty"`
}

// Manager owns the connection descriptor and runs the
// detect -> enable -> test -> select pipeline. One instance per process,
// constructed at startup and shared with the CLI and the monitor.
//
// opMu serializes the mutating operations (detection passes, switches),
// which may block on adb. mu guards the descriptor fields only and is never
// held across I/O, so Status stays cheap even mid-detection.
type Manager struct {
	driver Driver
	logger *zap.Logger

	opMu sync.Mutex
	mu   sync.Mutex

	state             State
	priority          Priority
	usbSerial         string
	usbReachable      bool
	wirelessIP        string
	wirelessPort      int
	wirelessReachable bool
	activeSerial      string
	autoEnable        bool
	lastLatencyMS     int
	quality           Quality
	userMessage       string

	events  *EventLog
	onEvent func(Event)

	// settleDelay is the wait after a tcpip mode switch; shortened in tests.
	settleDelay time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithWirelessPort overrides the default adb TCP port.
func WithWirelessPort(port int) Option {
	return func(m *Manager) { m.wirelessPort = port }
}

// WithAutoEnableWireless controls whether a detection pass may switch the
// device into wireless mode on its own.
func WithAutoEnableWireless(enabled bool) Option {
	return func(m *Manager) { m.autoEnable = enabled }
}

// WithPriority sets the initial path priority.
func WithPriority(p Priority) Option {
	return func(m *Manager) {
		if p.Valid() {
			m.priority = p
		}
	}
}

// NewManager creates a Manager in the disconnected state.
func NewManager(driver Driver, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		driver:        driver,
		logger:        logger,
		state:         StateDisconnected,
		priority:      PriorityUSBFirst,
		wirelessPort:  DefaultWirelessPort,
		autoEnable:    true,
		lastLatencyMS: -1,
		quality:       QualityUnknown,
		events:        NewEventLog(managerEventCapacity),
		settleDelay:   wirelessSettleDelay,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnEvent registers a callback fired for every appended event. It runs on
// the goroutine that produced the event, after the descriptor lock is
// released, but while the operation lock is still held: the callback may
// read Status but must not invoke mutating Manager operations.
func (m *Manager) OnEvent(fn func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEvent = fn
}

// ========== detection pipeline ==========

// CheckAndUpdate re-derives the connection state from scratch: enumerate
// devices, opportunistically enable wireless, probe both paths, pick the
// active one. Prior reachability is never trusted; a path that fails its
// probe this pass is down no matter what it looked like last pass.
// Never returns an error: failures surface in the snapshot's user message.
func (m *Manager) CheckAndUpdate() Status {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	oldState := m.state
	oldMode := m.activeModeLocked()
	// Pessimistic reset: a stale "reachable" must not outlive a failed probe.
	m.usbReachable = false
	m.wirelessReachable = false
	autoEnable := m.autoEnable
	m.mu.Unlock()

	m.runDetection(autoEnable)

	m.mu.Lock()
	var fired []Event
	if m.state != oldState || m.activeModeLocked() != oldMode {
		fired = m.emitStateChangeLocked(oldState, oldMode)
	}
	st := m.statusLocked()
	m.mu.Unlock()
	m.notify(fired)
	return st
}

// runDetection executes one full pass. Unexpected panics are contained here
// so a bad pass degrades to an advisory message instead of taking down the
// caller's loop.
func (m *Manager) runDetection(autoEnable bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("connection check panicked", zap.Any("panic", r))
			m.mu.Lock()
			m.userMessage = fmt.Sprintf("Connection check error: %v", r)
			m.mu.Unlock()
		}
	}()

	devices, err := m.driver.Devices()
	if err != nil {
		m.logger.Warn("device enumeration failed", zap.Error(err))
		devices = nil
	}

	usbSerial := m.detectUSB(devices)
	m.adoptWirelessFromList(devices)

	m.mu.Lock()
	wirelessKnown := m.wirelessIP != ""
	m.mu.Unlock()

	enableMsg := ""
	if usbSerial != "" && autoEnable && !wirelessKnown {
		if ok, msg := m.tryEnableWireless(usbSerial); !ok {
			enableMsg = msg
		}
	}

	m.mu.Lock()
	wirelessKnown = m.wirelessIP != ""
	m.mu.Unlock()

	// Presence in the device list is not proof of life: probe both paths
	// even when they were enumerated a moment ago.
	if wirelessKnown {
		m.testWireless()
	}
	if usbSerial != "" {
		m.testUSB(usbSerial)
	}

	m.mu.Lock()
	m.updateStateLocked()
	// Keep the enable diagnostic visible; the generic state message would
	// otherwise hide why wireless never came up.
	if enableMsg != "" && !m.wirelessReachable {
		m.userMessage = enableMsg
	}
	m.mu.Unlock()
}

// detectUSB picks the USB headset candidate from the enumerated devices.
func (m *Manager) detectUSB(devices []adb.Device) string {
	for _, d := range devices {
		if strings.Contains(d.Serial, ":") {
			continue
		}
		if !d.IsOnline() {
			continue
		}
		if isQuestDevice(d, devices) {
			m.mu.Lock()
			m.usbSerial = d.Serial
			m.mu.Unlock()
			return d.Serial
		}
	}
	m.mu.Lock()
	m.usbSerial = ""
	m.mu.Unlock()
	return ""
}

// isQuestDevice checks model strings for known headset identifiers, falling
// back to "the only wired device present". With several unidentified wired
// devices attached this stays ambiguous and matches none of them.
func isQuestDevice(d adb.Device, all []adb.Device) bool {
	model := strings.ToLower(d.Model)
	product := strings.ToLower(d.Product)
	name := strings.ToLower(d.DeviceName)
	for _, id := range questIdentifiers {
		if strings.Contains(model, id) || strings.Contains(product, id) || strings.Contains(name, id) {
			return true
		}
	}
	wired := 0
	for _, other := range all {
		if !strings.Contains(other.Serial, ":") && other.IsOnline() {
			wired++
		}
	}
	return wired == 1
}

// adoptWirelessFromList picks up a wireless address that is already in the
// device list, e.g. after a manual `adb connect`. Last seen wins.
func (m *Manager) adoptWirelessFromList(devices []adb.Device) {
	for _, d := range devices {
		if !adb.IsWirelessSerial(d.Serial) {
			continue
		}
		ip, port, ok := splitAddress(d.Serial)
		if !ok {
			continue
		}
		m.logger.Debug("wireless device in list", zap.String("addr", d.Serial))
		m.mu.Lock()
		m.wirelessIP = ip
		m.wirelessPort = port
		m.mu.Unlock()
		return
	}
}

// tryEnableWireless walks the enable sequence: tcpip mode, settle delay,
// address lookup over USB, connect, probe. Any step failing aborts only
// this attempt and reports a message the UI can show as-is.
func (m *Manager) tryEnableWireless(usbSerial string) (bool, string) {
	m.mu.Lock()
	port := m.wirelessPort
	alreadyUp := m.wirelessReachable
	m.mu.Unlock()
	if alreadyUp {
		return true, ""
	}

	m.logger.Info("attempting to enable wireless adb", zap.String("serial", usbSerial))
	if err := m.driver.EnableWireless(usbSerial, port); err != nil {
		msg := "Could not enable wireless mode on the headset."
		if strings.Contains(strings.ToLower(err.Error()), "not found") ||
			strings.Contains(strings.ToLower(err.Error()), "permission denied") {
			msg = "Wireless ADB support is missing on the headset. Install it via SideQuest."
		}
		m.logger.Warn("wireless enable failed", zap.Error(err))
		return false, msg
	}

	// The device restarts adbd in TCP mode; give the listener time to come up.
	time.Sleep(m.settleDelay)

	ip, err := m.driver.WirelessAddress(usbSerial)
	if err != nil || ip == "" {
		m.logger.Warn("headset IP lookup failed", zap.Error(err))
		return false, "Could not read the headset's IP address. Check that Wi-Fi is on."
	}
	m.mu.Lock()
	m.wirelessIP = ip
	m.mu.Unlock()

	if err := m.driver.Connect(ip, port); err != nil {
		m.logger.Warn("wireless connect failed", zap.String("ip", ip), zap.Error(err))
		return false, "Wireless ADB is not accepting connections. Check the network."
	}

	if m.testWireless() {
		m.logger.Info("wireless adb enabled", zap.String("ip", ip), zap.Int("port", port))
		return true, ""
	}
	return false, "Wireless connected but not responding. Try replugging USB."
}

// ========== liveness probes ==========

// testConnection probes a path with an echo round trip. Success requires
// the echoed token in the reply; anything else counts as unreachable.
func (m *Manager) testConnection(serial string, timeout time.Duration) (int, bool) {
	start := time.Now()
	out, err := m.driver.Shell(serial, timeout, "echo", "ping")
	if err != nil || !strings.Contains(out, "ping") {
		m.logger.Debug("probe failed", zap.String("serial", serial), zap.Error(err))
		return 0, false
	}
	return int(time.Since(start).Milliseconds()), true
}

func (m *Manager) testWireless() bool {
	m.mu.Lock()
	ip, port := m.wirelessIP, m.wirelessPort
	m.mu.Unlock()
	if ip == "" {
		return false
	}

	addr := fmt.Sprintf("%s:%d", ip, port)
	latency, ok := m.testConnection(addr, probeTimeout)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.wirelessReachable = ok
	if ok {
		m.lastLatencyMS = latency
		m.updateQualityLocked(latency)
	} else {
		m.logger.Warn("wireless probe failed", zap.String("addr", addr))
	}
	return ok
}

func (m *Manager) testUSB(serial string) bool {
	_, ok := m.testConnection(serial, probeTimeout)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usbReachable = ok
	if !ok {
		m.userMessage = "USB connection lost. Reconnect the cable."
		m.logger.Warn("usb probe failed", zap.String("serial", serial))
	}
	return ok
}

func (m *Manager) updateQualityLocked(latencyMS int) {
	m.quality = QualityFor(latencyMS)
	switch m.quality {
	case QualityFair:
		m.userMessage = fmt.Sprintf("Latency is high (%dms). Wi-Fi may be struggling.", latencyMS)
	case QualityPoor:
		m.userMessage = fmt.Sprintf("Latency is very high (%dms). USB is recommended.", latencyMS)
	}
}

// ========== state derivation ==========

func (m *Manager) updateStateLocked() {
	m.state = DeriveState(m.usbReachable, m.wirelessReachable)
	switch m.state {
	case StateConnectedBoth:
		m.pickActiveLocked()
		m.userMessage = fmt.Sprintf("Connected via %s", strings.ToUpper(m.activeModeLocked()))
	case StateConnectedUSB:
		m.activeSerial = m.usbSerial
		m.userMessage = "Connected via USB"
	case StateConnectedWireless:
		m.activeSerial = m.wirelessAddrLocked()
		m.userMessage = "Connected via wireless"
	default:
		m.activeSerial = ""
		m.quality = QualityUnknown
		m.userMessage = "No headset found. Plug in USB or check wireless."
	}
}

// pickActiveLocked breaks the tie when both paths are up.
func (m *Manager) pickActiveLocked() {
	switch m.priority {
	case PriorityUSBFirst:
		m.activeSerial = m.usbSerial
	case PriorityWirelessFirst, PriorityAuto:
		m.activeSerial = m.wirelessAddrLocked()
	}
}

func (m *Manager) wirelessAddrLocked() string {
	return fmt.Sprintf("%s:%d", m.wirelessIP, m.wirelessPort)
}

func (m *Manager) activeModeLocked() string {
	switch m.state {
	case StateDisconnected:
		return "disconnected"
	case StateConnectedUSB:
		return "usb"
	case StateConnectedWireless:
		return "wireless"
	case StateConnectedBoth:
		if strings.Contains(m.activeSerial, ":") {
			return "wireless"
		}
		return "usb"
	}
	return "unknown"
}

// emitStateChangeLocked appends the event matching a state transition. A
// path coming up or dropping while the active transport stays put is not a
// switch; only an actual mode change earns a switched event.
func (m *Manager) emitStateChangeLocked(oldState State, oldMode string) []Event {
	newMode := m.activeModeLocked()
	switch {
	case m.state == StateDisconnected:
		return []Event{m.addEventLocked(EventDisconnected, "Headset disconnected", "")}
	case oldState == StateDisconnected:
		return []Event{m.addEventLocked(EventConnected, fmt.Sprintf("Headset connected via %s", strings.ToUpper(newMode)), newMode)}
	case newMode != "disconnected" && newMode != oldMode:
		return []Event{m.addEventLocked(EventSwitched, fmt.Sprintf("Switched to %s", strings.ToUpper(newMode)), newMode)}
	}
	return nil
}

func (m *Manager) addEventLocked(t EventType, message, mode string) Event {
	e := Event{Time: time.Now(), Type: t, Message: message, Mode: mode}
	m.events.Append(e)
	m.logger.Info("connection event",
		zap.String("type", string(t)),
		zap.String("message", message),
		zap.String("mode", mode))
	return e
}

// notify invokes the OnEvent callback outside the descriptor lock, so a slow
// consumer (e.g. a journal write) never blocks Status readers.
func (m *Manager) notify(events []Event) {
	if len(events) == 0 {
		return
	}
	m.mu.Lock()
	fn := m.onEvent
	m.mu.Unlock()
	if fn == nil {
		return
	}
	for _, e := range events {
		fn(e)
	}
}

// ========== public operations ==========

// SwitchToUSB manually points consumers at the USB path. Fails when USB is
// not currently reachable.
func (m *Manager) SwitchToUSB() bool {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	m.mu.Lock()
	if !m.usbReachable {
		m.mu.Unlock()
		return false
	}
	m.activeSerial = m.usbSerial
	m.userMessage = "Switched to USB"
	e := m.addEventLocked(EventSwitched, "Manually switched to USB", "usb")
	m.mu.Unlock()
	m.notify([]Event{e})
	return true
}

// SwitchToWireless manually points consumers at the wireless path. If
// wireless is down it first attempts the enable sequence over the last
// known USB path.
func (m *Manager) SwitchToWireless() bool {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	up := m.wirelessReachable
	usbSerial := m.usbSerial
	m.mu.Unlock()

	if !up {
		if usbSerial == "" {
			return false
		}
		ok, msg := m.tryEnableWireless(usbSerial)
		if !ok {
			m.mu.Lock()
			m.userMessage = msg
			m.mu.Unlock()
			return false
		}
	}

	m.mu.Lock()
	if !m.wirelessReachable {
		m.mu.Unlock()
		return false
	}
	m.activeSerial = m.wirelessAddrLocked()
	m.userMessage = "Switched to wireless"
	e := m.addEventLocked(EventSwitched, "Manually switched to wireless", "wireless")
	m.mu.Unlock()
	m.notify([]Event{e})
	return true
}

// SetPriority updates the tie-break policy. An unknown value is rejected
// with no mutation. When both paths are up the active path is re-resolved
// immediately, without a full detection pass.
func (m *Manager) SetPriority(p Priority) bool {
	if !p.Valid() {
		return false
	}
	m.opMu.Lock()
	defer m.opMu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.priority = p
	if m.state == StateConnectedBoth {
		m.pickActiveLocked()
	}
	return true
}

// SetWirelessAddress records a manually supplied wireless address. The next
// detection pass will probe it.
func (m *Manager) SetWirelessAddress(ip string, port int) {
	if port <= 0 {
		port = DefaultWirelessPort
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wirelessIP = ip
	m.wirelessPort = port
}

// HandleDisconnection reacts to a consumer noticing the active path died
// outside a detection tick: switch to the surviving path if one is marked
// reachable, otherwise drop to disconnected.
func (m *Manager) HandleDisconnection(failedMode string) {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	m.mu.Lock()

	var fired []Event
	switch failedMode {
	case "usb":
		if m.wirelessReachable {
			m.activeSerial = m.wirelessAddrLocked()
			m.state = StateConnectedWireless
			m.usbReachable = false
			m.userMessage = "USB disconnected. Switched to wireless."
			fired = append(fired, m.addEventLocked(EventSwitched, "USB disconnected. Switched to wireless.", "wireless"))
		} else {
			m.state = StateDisconnected
			m.activeSerial = ""
			m.usbReachable = false
			m.userMessage = "USB disconnected and wireless unavailable. Reconnect the headset."
			fired = append(fired, m.addEventLocked(EventDisconnected, "USB disconnected and wireless unavailable.", ""))
		}
	case "wireless":
		if m.usbReachable {
			m.activeSerial = m.usbSerial
			m.state = StateConnectedUSB
			m.wirelessReachable = false
			m.userMessage = "Wireless dropped. Switched to USB."
			fired = append(fired, m.addEventLocked(EventSwitched, "Wireless dropped. Switched to USB.", "usb"))
		} else {
			m.state = StateDisconnected
			m.activeSerial = ""
			m.wirelessReachable = false
			m.userMessage = "Connection lost on all paths."
			fired = append(fired, m.addEventLocked(EventDisconnected, "Connection lost on all paths.", ""))
		}
	}

	m.mu.Unlock()
	m.notify(fired)
}

// ActiveSerial returns the serial consumers should run adb commands
// against, or "" when disconnected.
func (m *Manager) ActiveSerial() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeSerial
}

// MeasureLatency probes the active path with the longer on-demand timeout
// and refreshes the quality rating.
func (m *Manager) MeasureLatency() (int, bool) {
	m.mu.Lock()
	serial := m.activeSerial
	m.mu.Unlock()
	if serial == "" {
		return 0, false
	}

	latency, ok := m.testConnection(serial, latencyProbeTimeout)
	if !ok {
		return 0, false
	}
	m.mu.Lock()
	m.lastLatencyMS = latency
	m.updateQualityLocked(latency)
	m.mu.Unlock()
	return latency, true
}

// Events returns the recent event log, oldest first. With clear set the
// log is emptied after the read.
func (m *Manager) Events(clear bool) []Event {
	if clear {
		return m.events.Take()
	}
	return m.events.Snapshot()
}

// Status returns a copy of the descriptor. It never touches adb, so it is
// safe to call from UI paths while a detection pass is mid-flight.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

func (m *Manager) statusLocked() Status {
	return Status{
		State:             m.state,
		Mode:              m.activeModeLocked(),
		USBConnected:      m.usbReachable,
		USBSerial:         m.usbSerial,
		WirelessConnected: m.wirelessReachable,
		WirelessIP:        m.wirelessIP,
		WirelessPort:      m.wirelessPort,
		Priority:          m.priority,
		LatencyMS:         m.lastLatencyMS,
		Quality:           m.quality,
		ActiveSerial:      m.activeSerial,
		CanSwitchTo:       m.availableSwitchesLocked(),
		UserMessage:       m.userMessage,
	}
}

func (m *Manager) availableSwitchesLocked() []string {
	switches := []string{}
	if m.usbReachable && m.wirelessReachable {
		switch m.activeModeLocked() {
		case "usb":
			switches = append(switches, "wireless")
		case "wireless":
			switches = append(switches, "usb")
		}
	}
	return switches
}

// splitAddress parses "ip:port" into its parts.
func splitAddress(addr string) (string, int, bool) {
	i := strings.LastIndex(addr, ":")
	if i < 0 {
		return "", 0, false
	}
	ip := addr[:i]
	var port int
	if _, err := fmt.Sscanf(addr[i+1:], "%d", &port); err != nil || port <= 0 {
		return "", 0, false
	}
	return ip, port, true
}
