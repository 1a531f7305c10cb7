package checkpoint

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Config selects and configures a store.
type Config struct {
	// Driver is one of memory, file, sqlite, postgres.
	Driver string
	DSN    string
	Dir    string
	Logger zerolog.Logger
}

// Open builds the store named by cfg.Driver. Stores backed by a database
// also implement io.Closer.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "file":
		return NewFileStore(cfg.Dir, cfg.Logger)
	case "sqlite", "sqlite3":
		return NewSQLiteStore(ctx, cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgresStore(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown checkpoint driver: %s", cfg.Driver)
	}
}
