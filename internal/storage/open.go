// Package storage selects and opens the configured core.Store backend.
package storage

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/tableapi/internal/config"
	"github.com/JonMunkholm/tableapi/internal/core"
	"github.com/JonMunkholm/tableapi/internal/storage/memory"
	"github.com/JonMunkholm/tableapi/internal/storage/postgres"
	"github.com/JonMunkholm/tableapi/internal/storage/sqlite"
)

// Open returns the backend named by cfg.Driver.
func Open(ctx context.Context, cfg config.StorageConfig) (core.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory, "":
		return memory.New(), nil
	case config.DriverPostgres:
		return postgres.Open(ctx, cfg)
	case config.DriverSQLite:
		return sqlite.Open(cfg)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
