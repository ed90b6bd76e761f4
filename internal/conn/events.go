package conn

import (
	"sync"
	"time"
)

// EventType classifies a connection event.
type EventType string

const (
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
	EventSwitched     EventType = "switched"
	EventDegraded     EventType = "degraded"
	EventRecovered    EventType = "recovered"
)

// Event is a human-readable connection state change, kept for UI display.
type Event struct {
	Time    time.Time      `json:"timestamp"`
	Type    EventType      `json:"type"`
	Message string         `json:"message"`
	Mode    string         `json:"mode,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// EventLog is a fixed-capacity ring of events, most-recent-last. Once full,
// appending evicts the oldest entry in O(1).
type EventLog struct {
	mu   sync.Mutex
	buf  []Event
	head int // index of oldest entry
	size int
}

// NewEventLog creates a log holding at most capacity events.
func NewEventLog(capacity int) *EventLog {
	if capacity < 1 {
		capacity = 1
	}
	return &EventLog{buf: make([]Event, capacity)}
}

// Append adds an event, evicting the oldest if the log is full.
func (l *EventLog) Append(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.size < len(l.buf) {
		l.buf[(l.head+l.size)%len(l.buf)] = e
		l.size++
		return
	}
	l.buf[l.head] = e
	l.head = (l.head + 1) % len(l.buf)
}

// Snapshot returns a copy of the events, oldest first.
func (l *EventLog) Snapshot() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

func (l *EventLog) snapshotLocked() []Event {
	out := make([]Event, 0, l.size)
	for i := 0; i < l.size; i++ {
		out = append(out, l.buf[(l.head+i)%len(l.buf)])
	}
	return out
}

// Take returns a snapshot and clears the log.
func (l *EventLog) Take() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.snapshotLocked()
	l.head = 0
	l.size = 0
	return out
}

// Len returns the number of stored events.
func (l *EventLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}
