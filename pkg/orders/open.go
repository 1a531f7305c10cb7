package orders

import (
	"context"
	"fmt"
)

// Store is a backend serving both orders and the customer directory.
type Store interface {
	Service
	Directory
}

// Config selects the order backend.
type Config struct {
	// Driver is memory or sqlite.
	Driver string
	DSN    string
}

// Open builds the store named by cfg.Driver. The SQLite store also
// implements io.Closer.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite", "sqlite3":
		return NewSQLiteStore(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown orders driver: %s", cfg.Driver)
	}
}
