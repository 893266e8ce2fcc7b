// Package faultdb provides the durable, append-only store for fault records,
// backed by SQLite.
package faultdb

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite handle used by the fault store.
type DB struct {
	*sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and applies
// the standard pragmas. The schema itself is created by EnsureSchema or by
// running migrations.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	return &DB{db}, nil
}

// EnsureSchema creates the faults table if it does not exist. Production
// installs use the versioned migrations in db/migrations; this path covers
// dev mode and tests.
func (db *DB) EnsureSchema() error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS faults (
			id                   TEXT PRIMARY KEY,
			vin                  TEXT NOT NULL,
			detected_at          INTEGER NOT NULL,
			predicted_failure_km REAL NOT NULL,
			component            TEXT NOT NULL,
			severity             TEXT NOT NULL,
			raw_payload          TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_faults_vin ON faults(vin);
		CREATE INDEX IF NOT EXISTS idx_faults_detected_at ON faults(detected_at DESC);
	`)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// retryOnBusy retries a write a few times when SQLite reports contention.
// Reads go through the busy_timeout pragma instead.
func retryOnBusy(fn func() error) error {
	const maxAttempts = 5
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn()
		if err == nil || !isBusy(err) {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * 50 * time.Millisecond)
	}
	return err
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}
