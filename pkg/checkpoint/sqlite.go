package checkpoint

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore stores checkpoints in SQLite.
type SQLiteStore struct {
	sqlStore
}

// NewSQLiteStore opens dsn and applies the schema.
func NewSQLiteStore(ctx context.Context, dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("sqlite dsn is required")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every connection to :memory: is its own database.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &SQLiteStore{sqlStore{db: db, driver: "sqlite", now: time.Now}}
	if err := s.migrate(ctx, []string{
		`CREATE TABLE IF NOT EXISTS checkpoints (
			session_id   TEXT PRIMARY KEY,
			subject_id   TEXT NOT NULL,
			node_history TEXT NOT NULL DEFAULT '[]',
			model        TEXT NOT NULL DEFAULT '',
			version      INTEGER NOT NULL,
			created_at   INTEGER NOT NULL,
			updated_at   INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_updated ON checkpoints(updated_at)`,
		`CREATE TABLE IF NOT EXISTS checkpoint_messages (
			session_id TEXT NOT NULL REFERENCES checkpoints(session_id) ON DELETE CASCADE,
			seq        INTEGER NOT NULL,
			role       TEXT NOT NULL,
			payload    TEXT NOT NULL,
			PRIMARY KEY (session_id, seq)
		)`,
	}); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}
