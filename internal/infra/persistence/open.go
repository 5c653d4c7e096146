// Package persistence selects a domain.Persistence backend from configuration.
package persistence

import (
	"context"
	"fmt"

	"txcore/internal/config"
	"txcore/internal/infra/persistence/memory"
	"txcore/internal/infra/persistence/postgres"
	"txcore/internal/infra/persistence/sqlite"
	"txcore/pkg/domain"
)

// Driver identifies a persistence backend.
type Driver string

// Supported drivers.
const (
	DriverMemory   Driver = "memory"
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// CloseFunc releases backend resources.
type CloseFunc func() error

func noClose() error { return nil }

// Open selects a backend using cfg.Driver (default memory). The returned
// CloseFunc is never nil.
func Open(ctx context.Context, cfg config.StorageConfig) (domain.Persistence, CloseFunc, error) {
	driver := Driver(cfg.Driver)
	if driver == "" {
		driver = DriverMemory
	}
	switch driver {
	case DriverMemory:
		return memory.NewStore(), noClose, nil
	case DriverSQLite:
		s, err := sqlite.NewStore(cfg.SQLitePath)
		if err != nil {
			return nil, noClose, err
		}
		return s, s.Close, nil
	case DriverPostgres:
		s, err := postgres.NewStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, noClose, err
		}
		return s, s.Close, nil
	default:
		return nil, noClose, fmt.Errorf("unknown storage driver %s", cfg.Driver)
	}
}
