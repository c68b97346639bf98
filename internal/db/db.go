// Package db keeps an observational journal of sentinel and companion
// lifecycle events in SQLite. The journal is never read back for control
// decisions; it exists for postmortems. A nil *DB disables journaling.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite connection for the event journal.
type DB struct {
	conn *sql.DB
	path string
}

// Open opens or creates the journal database at path.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL mode lets the companion read the journal while we write it.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	db := &DB{conn: conn, path: path}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return db, nil
}

// Close checkpoints the WAL and closes the connection. Safe on a nil DB.
func (db *DB) Close() error {
	if db == nil || db.conn == nil {
		return nil
	}
	db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return db.conn.Close()
}

func (db *DB) initSchema() error {
	schema := `
	-- Sentinel lifecycle and mode transitions
	CREATE TABLE IF NOT EXISTS sentinel_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		details TEXT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Companion lifecycle events
	CREATE TABLE IF NOT EXISTS companion_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		details TEXT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_sentinel_events_timestamp ON sentinel_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_companion_events_timestamp ON companion_events(timestamp);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// Event is one row of either journal table.
type Event struct {
	ID        int64
	EventType string
	Details   string
	Timestamp time.Time
}

// LogSentinelEvent records a sentinel lifecycle event. Safe on a nil DB.
func (db *DB) LogSentinelEvent(eventType, details string) error {
	if db == nil {
		return nil
	}
	_, err := db.conn.Exec(
		`INSERT INTO sentinel_events (event_type, details, timestamp) VALUES (?, ?, ?)`,
		eventType, details, time.Now(),
	)
	return err
}

// LogCompanionEvent records a companion lifecycle event. Safe on a nil DB.
func (db *DB) LogCompanionEvent(eventType, details string) error {
	if db == nil {
		return nil
	}
	_, err := db.conn.Exec(
		`INSERT INTO companion_events (event_type, details, timestamp) VALUES (?, ?, ?)`,
		eventType, details, time.Now(),
	)
	return err
}

// RecentSentinelEvents returns the newest sentinel events, most recent first.
func (db *DB) RecentSentinelEvents(limit int) ([]Event, error) {
	return db.recent("sentinel_events", limit)
}

// RecentCompanionEvents returns the newest companion events, most recent first.
func (db *DB) RecentCompanionEvents(limit int) ([]Event, error) {
	return db.recent("companion_events", limit)
}

func (db *DB) recent(table string, limit int) ([]Event, error) {
	if db == nil {
		return nil, nil
	}
	rows, err := db.conn.Query(
		fmt.Sprintf(`SELECT id, event_type, details, timestamp FROM %s ORDER BY timestamp DESC, id DESC LIMIT ?`, table),
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.EventType, &e.Details, &e.Timestamp); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
