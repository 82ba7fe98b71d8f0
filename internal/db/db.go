package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 1

// FileName is the ledger database file inside the base directory.
const FileName = "logsort.db"

// Init opens the run ledger at baseDir/logsort.db, creating it if needed.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.logsort.
func Init(baseDir string) (*sql.DB, error) {
	// Base directory holds the ledger and config.json; owner only
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	// MkdirAll leaves an existing directory's mode alone (best-effort)
	_ = os.Chmod(baseDir, 0700)

	// Pragmas in the DSN apply to every pooled connection
	dbPath := filepath.Join(baseDir, FileName)
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Verify WAL mode is active
	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}

	// Run migrations; the file exists from here on
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	// Set file permissions after file exists (best-effort)
	_ = os.Chmod(dbPath, 0600)

	return db, nil
}

// migrate applies schema migrations based on user_version.
func migrate(db *sql.DB) error {
	version, err := GetUserVersion(db)
	if err != nil {
		return err
	}

	// Migration 0 -> 1: runs with their skipped items and per-category outcomes
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS runs (
		  id          TEXT PRIMARY KEY,
		  started_at  INTEGER NOT NULL,
		  finished_at INTEGER,
		  mode        TEXT NOT NULL,
		  policy      TEXT NOT NULL,
		  data_root   TEXT NOT NULL,
		  output_dir  TEXT NOT NULL,
		  indexed     INTEGER NOT NULL DEFAULT 0,
		  collisions  INTEGER NOT NULL DEFAULT 0,
		  categories  INTEGER NOT NULL DEFAULT 0,
		  admitted    INTEGER NOT NULL DEFAULT 0,
		  copied      INTEGER NOT NULL DEFAULT 0,
		  skipped     INTEGER NOT NULL DEFAULT 0,
		  bytes       INTEGER NOT NULL DEFAULT 0,
		  status      TEXT NOT NULL,
		  error       TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_runs_started
		ON runs(started_at DESC, id DESC);

		CREATE TABLE IF NOT EXISTS run_skips (
		  run_id TEXT NOT NULL,
		  seq    INTEGER NOT NULL,
		  stage  TEXT NOT NULL,
		  item   TEXT NOT NULL,
		  reason TEXT NOT NULL,
		  detail TEXT,
		  PRIMARY KEY (run_id, seq)
		);

		CREATE INDEX IF NOT EXISTS idx_run_skips_reason
		ON run_skips(run_id, reason);

		CREATE TABLE IF NOT EXISTS run_categories (
		  run_id   TEXT NOT NULL,
		  seq      INTEGER NOT NULL,
		  category TEXT NOT NULL,
		  dir      TEXT,
		  refs     INTEGER NOT NULL,
		  admitted INTEGER NOT NULL,
		  copied   INTEGER NOT NULL,
		  skipped  INTEGER NOT NULL,
		  bytes    INTEGER NOT NULL,
		  excluded INTEGER NOT NULL DEFAULT 0,
		  PRIMARY KEY (run_id, seq)
		);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if err := SetUserVersion(db, 1); err != nil {
			return err
		}
	}

	return nil
}

// verifyWALMode checks that WAL mode is active (set via connection string).
func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

// GetUserVersion returns the current schema version (user_version pragma).
func GetUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

// SetUserVersion sets the schema version (user_version pragma).
func SetUserVersion(db *sql.DB, version int) error {
	_, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version))
	if err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}
