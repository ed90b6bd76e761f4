// Package journal persists connection events to SQLite so history survives
// restarts. The in-memory event rings stay authoritative for the UI; the
// journal only backs the `events` command.
package journal

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/FluidXR/questlink/internal/conn"
)

// DB wraps the SQLite event journal.
type DB struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the journal database.
func Open(configDir string) (*DB, error) {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dbPath := filepath.Join(configDir, "journal.db")
	sqlDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Enable WAL mode for better concurrent access
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	j := &DB{db: sqlDB, path: dbPath}
	if err := j.migrate(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return j, nil
}

// Close closes the database.
func (j *DB) Close() error {
	return j.db.Close()
}

// Path returns the path to the journal database file.
func (j *DB) Path() string {
	return j.path
}

func (j *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts INTEGER NOT NULL,
		type TEXT NOT NULL,
		mode TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL,
		details TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);
	`
	if _, err := j.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Append records a connection event.
func (j *DB) Append(e conn.Event) error {
	details := ""
	if len(e.Details) > 0 {
		if b, err := json.Marshal(e.Details); err == nil {
			details = string(b)
		}
	}
	_, err := j.db.Exec(
		`INSERT INTO events (ts, type, mode, message, details) VALUES (?, ?, ?, ?, ?)`,
		e.Time.Unix(), string(e.Type), e.Mode, e.Message, details,
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// Recent returns the newest events, oldest first, up to limit.
func (j *DB) Recent(limit int) ([]conn.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.Query(
		`SELECT ts, type, mode, message, details FROM events ORDER BY ts DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []conn.Event
	for rows.Next() {
		var ts int64
		var typ, mode, message, details string
		if err := rows.Scan(&ts, &typ, &mode, &message, &details); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e := conn.Event{
			Time:    time.Unix(ts, 0),
			Type:    conn.EventType(typ),
			Mode:    mode,
			Message: message,
		}
		if details != "" {
			var m map[string]any
			if err := json.Unmarshal([]byte(details), &m); err == nil {
				e.Details = m
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	// Reverse to oldest-first for display.
	for i, k := 0, len(events)-1; i < k; i, k = i+1, k-1 {
		events[i], events[k] = events[k], events[i]
	}
	return events, nil
}

// Prune deletes events older than the cutoff and returns how many went.
func (j *DB) Prune(before time.Time) (int64, error) {
	res, err := j.db.Exec(`DELETE FROM events WHERE ts < ?`, before.Unix())
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
