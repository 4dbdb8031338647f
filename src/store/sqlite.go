package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS reports (
		id         TEXT PRIMARY KEY,
		fault_id   TEXT NOT NULL DEFAULT '',
		base_path  TEXT NOT NULL DEFAULT '',
		records    INTEGER NOT NULL DEFAULT 0,
		degraded   INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		payload    TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_reports_fault_id ON reports(fault_id);
	CREATE INDEX IF NOT EXISTS idx_reports_created_at ON reports(created_at);
`

// SQLiteStore keeps report history in a local SQLite file.
type SQLiteStore struct {
	*sqlStore
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite store needs a database path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store dir: %w", err)
	}

	dsn := path + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(5000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s, err := newSQLStore(context.Background(), db, dialect{
		name:   "sqlite",
		schema: sqliteSchema,
		bind:   func(int) string { return "?" },
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{sqlStore: s}, nil
}
