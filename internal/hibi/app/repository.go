package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bdobrica/Hibi/internal/hibi/config"
	"github.com/bdobrica/Hibi/internal/hibi/journal"
	"github.com/bdobrica/Hibi/internal/hibi/pgstore"
	"github.com/bdobrica/Hibi/internal/hibi/store"
)

// Repository is a journal.Repository that can report its schema version.
type Repository interface {
	journal.Repository
	SchemaVersion(ctx context.Context) (int, error)
}

// OpenRepository opens the configured backend and applies pending
// migrations.
func OpenRepository(ctx context.Context, db config.DatabaseConfig) (Repository, error) {
	switch db.Driver {
	case "", "sqlite":
		slog.Info("opening database", "driver", "sqlite", "path", db.Path)
		s, err := store.New(db.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		return s, nil
	case "postgres":
		slog.Info("opening database", "driver", "postgres")
		s, err := pgstore.Open(ctx, db.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", db.Driver)
	}
}
