// Package sqlite implements the persistence repositories on top of
// modernc.org/sqlite.
package sqlite

import (
	"context"
	"embed"
	"fmt"
	"log/slog"

	"github.com/example/facility-booking/internal/persistence/sqlite/migration"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const migrationDir = "migrations"

// Storage bundles the connection pool with the repositories built on it.
type Storage struct {
	*RoomRepository
	*ReservationRepository

	pool      *ConnectionPool
	migration migration.MigrationConfig
	logger    *slog.Logger
}

// Open connects to the database described by cfg. Migrations are not applied
// until Migrate is called.
func Open(cfg migration.SQLiteConfig, migrationCfg migration.MigrationConfig, logger *slog.Logger) (*Storage, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := NewConnectionPool(cfg)
	if err != nil {
		return nil, err
	}
	migrationCfg.Dir = migrationDir
	return &Storage{
		RoomRepository:        NewRoomRepository(pool),
		ReservationRepository: NewReservationRepository(pool),
		pool:                  pool,
		migration:             migrationCfg,
		logger:                logger,
	}, nil
}

// Migrate applies the embedded schema migrations when enabled.
func (s *Storage) Migrate(ctx context.Context) error {
	if !s.migration.Enabled {
		s.logger.InfoContext(ctx, "schema migrations disabled")
		return nil
	}
	manager := migration.NewManager(
		migration.NewFileScanner(migrationFiles),
		migration.NewSQLiteExecutor(s.pool.DB()),
		s.migration.Dir,
		migration.WithLogger(s.logger),
		migration.WithConfig(s.migration),
	)
	if err := manager.RunMigrations(ctx); err != nil {
		return fmt.Errorf("sqlite: migrate: %w", err)
	}
	return nil
}

// Ping checks that the database is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Storage) Close() error {
	return s.pool.Close()
}
