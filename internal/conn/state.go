package conn

// State is the current shape of the link to the headset. Exactly one value
// holds at a time; it is re-derived from reachability on every detection
// pass rather than carried forward.
type State string

const (
	StateDisconnected      State = "disconnected"
	StateConnectedUSB      State = "connected_usb"
	StateConnectedWireless State = "connected_wireless"
	StateConnectedBoth     State = "connected_both"
	StateConnecting        State = "connecting"
)

// Priority decides which path wins when both USB and wireless are reachable.
type Priority string

const (
	PriorityUSBFirst      Priority = "usb_first"
	PriorityWirelessFirst Priority = "wireless_first"
	// PriorityAuto prefers wireless to keep load off the tethered host.
	PriorityAuto Priority = "auto"
)

// Valid reports whether p is one of the three known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityUSBFirst, PriorityWirelessFirst, PriorityAuto:
		return true
	}
	return false
}

// ParsePriority converts a user-supplied string to a Priority.
func ParsePriority(s string) (Priority, bool) {
	p := Priority(s)
	return p, p.Valid()
}

// Quality is a latency-derived rating of the active path.
type Quality string

const (
	QualityUnknown   Quality = "unknown"
	QualityPoor      Quality = "poor"
	QualityFair      Quality = "fair"
	QualityGood      Quality = "good"
	QualityExcellent Quality = "excellent"
)

// DeriveState maps the two reachability flags to a connection state.
// Kept pure so the derivation is testable without any I/O.
func DeriveState(usbReachable, wirelessReachable bool) State {
	switch {
	case usbReachable && wirelessReachable:
		return StateConnectedBoth
	case usbReachable:
		return StateConnectedUSB
	case wirelessReachable:
		return StateConnectedWireless
	default:
		return StateDisconnected
	}
}

// QualityFor classifies a round-trip latency. Boundaries are inclusive of
// the lower bound: 50ms is Good, 150ms is Fair, 500ms is Poor.
func QualityFor(latencyMS int) Quality {
	switch {
	case latencyMS < 0:
		return QualityUnknown
	case latencyMS < 50:
		return QualityExcellent
	case latencyMS < 150:
		return QualityGood
	case latencyMS < 500:
		return QualityFair
	default:
		return QualityPoor
	}
}
