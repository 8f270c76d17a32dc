// Package statestore persists source-to-target ID mappings so interrupted
// migrations resume instead of re-creating records.
package statestore

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crm-migrate/internal/config"
	"github.com/sells-group/crm-migrate/internal/model"
)

// Store persists mapping records. Records are first-wins: once a source ID
// has a target, later Puts for the same source are ignored.
type Store interface {
	// Put records a mapping. Writing a source that already has a target is
	// a no-op, whatever the new target is.
	Put(ctx context.Context, rec model.MappingRecord) error

	// Get returns the target ID for a source, if one was ever recorded.
	Get(ctx context.Context, kind model.EntityKind, sourceID string) (string, bool, error)

	// LoadKind returns every mapping of one kind as source -> target.
	LoadKind(ctx context.Context, kind model.EntityKind) (map[string]string, error)

	// Counts returns the number of mappings per kind.
	Counts(ctx context.Context) (map[model.EntityKind]int, error)

	Close() error
}

// Open constructs the Store named by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "memory":
		return NewMemory(), nil
	case "file":
		return NewFile(cfg.Path)
	case "sqlite":
		return NewSQLite(cfg.Path)
	case "postgres":
		return NewPostgres(ctx, cfg.DatabaseURL)
	default:
		return nil, eris.Errorf("statestore: unknown driver %q", cfg.Driver)
	}
}
