package journal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FluidXR/questlink/internal/conn"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	j, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestAppendAndRecent(t *testing.T) {
	j := openTestDB(t)

	base := time.Now().Add(-time.Minute).Truncate(time.Second)
	for i, typ := range []conn.EventType{conn.EventConnected, conn.EventSwitched, conn.EventDegraded} {
		require.NoError(t, j.Append(conn.Event{
			Time:    base.Add(time.Duration(i) * time.Second),
			Type:    typ,
			Mode:    "wireless",
			Message: "event",
		}))
	}

	events, err := j.Recent(10)
	require.NoError(t, err)
	require.Len(t, events, 3)

	// Oldest first.
	assert.Equal(t, conn.EventConnected, events[0].Type)
	assert.Equal(t, conn.EventDegraded, events[2].Type)
	assert.Equal(t, "wireless", events[0].Mode)
	assert.True(t, events[0].Time.Before(events[2].Time))
}

func TestRecent_LimitKeepsNewest(t *testing.T) {
	j := openTestDB(t)

	base := time.Now().Add(-time.Minute).Truncate(time.Second)
	for i := 0; i < 5; i++ {
		require.NoError(t, j.Append(conn.Event{
			Time:    base.Add(time.Duration(i) * time.Second),
			Type:    conn.EventConnected,
			Message: string(rune('a' + i)),
		}))
	}

	events, err := j.Recent(2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "d", events[0].Message)
	assert.Equal(t, "e", events[1].Message)
}

func TestDetailsRoundTrip(t *testing.T) {
	j := openTestDB(t)

	require.NoError(t, j.Append(conn.Event{
		Time:    time.Now(),
		Type:    conn.EventDegraded,
		Mode:    "wireless",
		Message: "lag spike",
		Details: map[string]any{"latency_ms": 2500},
	}))

	events, err := j.Recent(1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	// JSON numbers come back as float64.
	assert.Equal(t, float64(2500), events[0].Details["latency_ms"])
}

func TestPrune(t *testing.T) {
	j := openTestDB(t)

	old := time.Now().Add(-72 * time.Hour)
	recent := time.Now()
	require.NoError(t, j.Append(conn.Event{Time: old, Type: conn.EventConnected, Message: "old"}))
	require.NoError(t, j.Append(conn.Event{Time: recent, Type: conn.EventConnected, Message: "recent"}))

	n, err := j.Prune(time.Now().Add(-48 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	events, err := j.Recent(10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "recent", events[0].Message)
}
