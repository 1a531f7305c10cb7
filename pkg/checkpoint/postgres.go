package checkpoint

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore stores checkpoints in PostgreSQL.
type PostgresStore struct {
	sqlStore
}

// NewPostgresStore connects to dsn and applies the schema.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	s := &PostgresStore{sqlStore{db: db, driver: "postgres", numbered: true, now: time.Now}}
	if err := s.migrate(ctx, []string{
		`CREATE TABLE IF NOT EXISTS checkpoints (
			session_id   TEXT PRIMARY KEY,
			subject_id   TEXT   NOT NULL,
			node_history TEXT   NOT NULL DEFAULT '[]',
			model        TEXT   NOT NULL DEFAULT '',
			version      BIGINT NOT NULL,
			created_at   BIGINT NOT NULL,
			updated_at   BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_updated ON checkpoints(updated_at)`,
		`CREATE TABLE IF NOT EXISTS checkpoint_messages (
			session_id TEXT    NOT NULL REFERENCES checkpoints(session_id) ON DELETE CASCADE,
			seq        INTEGER NOT NULL,
			role       TEXT    NOT NULL,
			payload    TEXT    NOT NULL,
			PRIMARY KEY (session_id, seq)
		)`,
	}); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}
