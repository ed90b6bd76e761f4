package conn

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultMonitorInterval is the heartbeat period.
	DefaultMonitorInterval = 5 * time.Second

	// failuresBeforeFallback is how many consecutive probe failures it
	// takes to abandon the active path.
	failuresBeforeFallback = 3

	// degradedLatencyMS marks a lag spike worth surfacing. Spikes alone
	// never trigger fallback; only sustained failures do.
	degradedLatencyMS = 2000

	monitorEventCapacity = 50

	stopJoinTimeout = 2 * time.Second
)

// Monitor runs an independent heartbeat against whatever path the Manager
// currently marks active. It does no device enumeration of its own; on
// sustained failure it calls back into the Manager's switch operations.
type Monitor struct {
	manager  *Manager
	driver   Driver
	logger   *zap.Logger
	interval time.Duration

	mu                  sync.Mutex
	consecutiveFailures int
	lastLatencyMS       int
	latencyKnown        bool
	onFallback          func(mode string)
	onEvent             func(Event)
	running             bool
	done                chan struct{}
	wg                  sync.WaitGroup

	events *EventLog

	// probe is the liveness check; swapped out in tests.
	probe func(serial string) (int, bool)
}

// NewMonitor creates a Monitor. A non-positive interval falls back to the
// default heartbeat period.
func NewMonitor(manager *Manager, driver Driver, logger *zap.Logger, interval time.Duration) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}
	mo := &Monitor{
		manager:  manager,
		driver:   driver,
		logger:   logger,
		interval: interval,
		events:   NewEventLog(monitorEventCapacity),
	}
	mo.probe = mo.measureLatency
	return mo
}

// SetFallbackCallback registers a function invoked after a successful
// automatic fallback, with the mode that became active.
func (mo *Monitor) SetFallbackCallback(fn func(mode string)) {
	mo.mu.Lock()
	defer mo.mu.Unlock()
	mo.onFallback = fn
}

// OnEvent registers a callback fired for every monitor event.
func (mo *Monitor) OnEvent(fn func(Event)) {
	mo.mu.Lock()
	defer mo.mu.Unlock()
	mo.onEvent = fn
}

// Start launches the heartbeat loop. Starting a running monitor is a no-op.
func (mo *Monitor) Start() {
	mo.mu.Lock()
	defer mo.mu.Unlock()
	if mo.running {
		return
	}
	mo.running = true
	mo.done = make(chan struct{})
	mo.wg.Add(1)
	go mo.loop(mo.done)
	mo.logger.Info("connection monitor started", zap.Duration("interval", mo.interval))
}

// Stop signals the loop and waits briefly for it to exit. A loop stuck in
// an adb call may outlive the wait; shutdown proceeds without it.
func (mo *Monitor) Stop() {
	mo.mu.Lock()
	if !mo.running {
		mo.mu.Unlock()
		return
	}
	mo.running = false
	close(mo.done)
	mo.mu.Unlock()

	joined := make(chan struct{})
	go func() {
		mo.wg.Wait()
		close(joined)
	}()
	select {
	case <-joined:
	case <-time.After(stopJoinTimeout):
		mo.logger.Warn("monitor loop did not exit in time, continuing shutdown")
	}
	mo.logger.Info("connection monitor stopped")
}

// Running reports whether the heartbeat loop is active.
func (mo *Monitor) Running() bool {
	mo.mu.Lock()
	defer mo.mu.Unlock()
	return mo.running
}

func (mo *Monitor) loop(done chan struct{}) {
	defer mo.wg.Done()
	ticker := time.NewTicker(mo.interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			mo.checkHealth()
		}
	}
}

// checkHealth runs one heartbeat tick.
func (mo *Monitor) checkHealth() {
	serial := mo.manager.ActiveSerial()
	if serial == "" {
		return
	}

	latency, ok := mo.probe(serial)
	if !ok {
		mo.mu.Lock()
		mo.consecutiveFailures++
		failures := mo.consecutiveFailures
		mo.mu.Unlock()
		mo.logger.Warn("heartbeat failed",
			zap.String("serial", serial),
			zap.Int("failures", failures),
			zap.Int("threshold", failuresBeforeFallback))
		if failures >= failuresBeforeFallback {
			mo.triggerFallback()
		}
		return
	}

	mo.mu.Lock()
	recovered := mo.consecutiveFailures > 0
	mo.consecutiveFailures = 0
	mo.lastLatencyMS = latency
	mo.latencyKnown = true
	mo.mu.Unlock()

	if recovered {
		mo.addEvent(Event{
			Time:    time.Now(),
			Type:    EventRecovered,
			Message: "Connection back online",
			Details: map[string]any{"latency_ms": latency},
		})
	}
	if latency > degradedLatencyMS {
		mo.addEvent(Event{
			Time:    time.Now(),
			Type:    EventDegraded,
			Message: fmt.Sprintf("Lag spike: %dms", latency),
			Details: map[string]any{"latency_ms": latency},
		})
	}
}

// measureLatency probes the active path with the on-demand timeout.
func (mo *Monitor) measureLatency(serial string) (int, bool) {
	start := time.Now()
	out, err := mo.driver.Shell(serial, latencyProbeTimeout, "echo", "ping")
	if err != nil || !strings.Contains(out, "ping") {
		return 0, false
	}
	return int(time.Since(start).Milliseconds()), true
}

// triggerFallback abandons the active path for the surviving one, if any.
func (mo *Monitor) triggerFallback() {
	status := mo.manager.Status()

	fallbackMode := ""
	if status.Mode == "usb" && status.WirelessIP != "" {
		fallbackMode = "wireless"
	} else if status.Mode == "wireless" && status.USBSerial != "" {
		fallbackMode = "usb"
	}

	if fallbackMode == "" {
		mo.addEvent(Event{
			Time:    time.Now(),
			Type:    EventDisconnected,
			Message: "Connection lost, no backup path available",
		})
		return
	}

	mo.logger.Info("active path failed, falling back",
		zap.String("from", status.Mode),
		zap.String("to", fallbackMode))

	var success bool
	if fallbackMode == "usb" {
		success = mo.manager.SwitchToUSB()
	} else {
		success = mo.manager.SwitchToWireless()
	}

	if !success {
		mo.addEvent(Event{
			Time:    time.Now(),
			Type:    EventDisconnected,
			Message: "All paths down. Connection lost.",
		})
		return
	}

	mo.addEvent(Event{
		Time:    time.Now(),
		Type:    EventSwitched,
		Message: "Switched to " + fallbackMode,
		Mode:    fallbackMode,
	})
	mo.mu.Lock()
	mo.consecutiveFailures = 0
	fn := mo.onFallback
	mo.mu.Unlock()
	if fn != nil {
		fn(fallbackMode)
	}
}

func (mo *Monitor) addEvent(e Event) {
	mo.events.Append(e)
	mo.mu.Lock()
	fn := mo.onEvent
	mo.mu.Unlock()
	mo.logger.Info("monitor event",
		zap.String("type", string(e.Type)),
		zap.String("message", e.Message))
	if fn != nil {
		fn(e)
	}
}

// Events returns monitor events, oldest first. A zero since returns all.
func (mo *Monitor) Events(since time.Time) []Event {
	all := mo.events.Snapshot()
	if since.IsZero() {
		return all
	}
	out := make([]Event, 0, len(all))
	for _, e := range all {
		if e.Time.After(since) {
			out = append(out, e)
		}
	}
	return out
}

// LastLatency returns the most recent successful heartbeat latency.
func (mo *Monitor) LastLatency() (int, bool) {
	mo.mu.Lock()
	defer mo.mu.Unlock()
	return mo.lastLatencyMS, mo.latencyKnown
}
