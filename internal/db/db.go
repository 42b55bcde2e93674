// Package db records finished download sessions in a local SQLite database.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SessionRecord is one row of the history table.
type SessionRecord struct {
	ID              int64
	SourceURL       string
	OutputPath      string
	SegmentsWritten int
	SegmentsFailed  int
	Bytes           int64
	Live            bool
	Status          string
	Error           string
	CreatedAt       time.Time
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS sessions (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    source_url       TEXT NOT NULL,
    output_path      TEXT NOT NULL DEFAULT '',
    segments_written INTEGER NOT NULL DEFAULT 0,
    segments_failed  INTEGER NOT NULL DEFAULT 0,
    bytes            INTEGER NOT NULL DEFAULT 0,
    live             INTEGER NOT NULL DEFAULT 0,
    status           TEXT NOT NULL DEFAULT '',
    error            TEXT NOT NULL DEFAULT '',
    created_at       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// DB wraps the history database. Methods are safe for concurrent use.
type DB struct {
	mu   sync.Mutex
	conn *sql.DB
}

// DefaultPath returns the per-user history location.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "hlsget", "history.db")
}

// Open opens (creating if needed) the history database at path.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := conn.Exec(createTableSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initializing database schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Insert adds one finished session and returns its row ID.
func (d *DB) Insert(rec SessionRecord) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	result, err := d.conn.Exec(`
		INSERT INTO sessions (source_url, output_path, segments_written, segments_failed, bytes, live, status, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SourceURL, rec.OutputPath, rec.SegmentsWritten, rec.SegmentsFailed,
		rec.Bytes, boolToInt(rec.Live), rec.Status, rec.Error,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting session: %w", err)
	}
	return result.LastInsertId()
}

// List returns the most recent sessions, newest first.
func (d *DB) List(limit int) ([]SessionRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := d.conn.Query(`
		SELECT id, source_url, output_path, segments_written, segments_failed, bytes, live, status, error, created_at
		FROM sessions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var records []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var live int
		if err := rows.Scan(&rec.ID, &rec.SourceURL, &rec.OutputPath, &rec.SegmentsWritten,
			&rec.SegmentsFailed, &rec.Bytes, &live, &rec.Status, &rec.Error, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		rec.Live = live != 0
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
