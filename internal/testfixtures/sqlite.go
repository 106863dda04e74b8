package testfixtures

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/example/facility-booking/internal/persistence"
	"github.com/example/facility-booking/internal/persistence/sqlite"
	"github.com/example/facility-booking/internal/persistence/sqlite/migration"
)

// SQLiteHarness provides repository access backed by a migrated SQLite
// database for integration-style tests.
type SQLiteHarness struct {
	Storage      *sqlite.Storage
	Rooms        persistence.RoomRepository
	Reservations persistence.ReservationRepository

	cleanup func()
}

// Close releases resources associated with the harness.
func (h *SQLiteHarness) Close() {
	if h != nil && h.cleanup != nil {
		h.cleanup()
		h.cleanup = nil
	}
}

// NewSQLiteHarness constructs a SQLiteHarness on a private in-memory
// database. Close is registered with tb.Cleanup.
func NewSQLiteHarness(tb testing.TB) *SQLiteHarness {
	tb.Helper()
	return openHarness(tb, migration.InMemoryTestSQLiteConfig())
}

// NewFileSQLiteHarness is like NewSQLiteHarness but stores the database in a
// temporary file, for tests that need more than one connection.
func NewFileSQLiteHarness(tb testing.TB) *SQLiteHarness {
	tb.Helper()
	path := filepath.Join(tb.TempDir(), "booking.db")
	return openHarness(tb, migration.TempFileTestSQLiteConfig(path))
}

func openHarness(tb testing.TB, cfg migration.SQLiteConfig) *SQLiteHarness {
	tb.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	storage, err := sqlite.Open(cfg, migration.DefaultMigrationConfig(""), logger)
	if err != nil {
		tb.Fatalf("failed to open storage: %v", err)
	}

	if err := storage.Migrate(context.Background()); err != nil {
		_ = storage.Close()
		tb.Fatalf("failed to migrate storage: %v", err)
	}

	harness := &SQLiteHarness{
		Storage:      storage,
		Rooms:        storage,
		Reservations: storage,
		cleanup: func() {
			_ = storage.Close()
		},
	}

	tb.Cleanup(harness.Close)
	return harness
}
