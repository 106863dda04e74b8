package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/facility-booking/internal/persistence"
	"github.com/example/facility-booking/internal/persistence/sqlite/migration"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ConnectionPool owns the database handle shared by the repositories.
type ConnectionPool struct {
	db *sql.DB
}

// NewConnectionPool opens the database described by config.
func NewConnectionPool(config migration.SQLiteConfig) (*ConnectionPool, error) {
	db, err := migration.Open(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	return &ConnectionPool{db: db}, nil
}

// DB returns the underlying handle.
func (cp *ConnectionPool) DB() *sql.DB {
	return cp.db
}

func (cp *ConnectionPool) Close() error {
	if cp.db == nil {
		return nil
	}
	return cp.db.Close()
}

func (cp *ConnectionPool) Ping(ctx context.Context) error {
	return cp.db.PingContext(ctx)
}

// WithTransaction runs fn inside a transaction. The transaction commits when
// fn returns nil and rolls back on error or panic.
func (cp *ConnectionPool) WithTransaction(ctx context.Context, fn func(tx querier) error) error {
	tx, err := cp.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

// errDatabaseLocked marks lock contention that retrier retries.
var errDatabaseLocked = errors.New("sqlite: database locked")

// The driver exposes result codes only through message text.
var errorClasses = []struct {
	sentinel error
	markers  []string
}{
	{persistence.ErrDuplicate, []string{"UNIQUE constraint failed", "PRIMARY KEY constraint failed"}},
	{persistence.ErrForeignKeyViolation, []string{"FOREIGN KEY constraint failed"}},
	{persistence.ErrConstraintViolation, []string{"CHECK constraint failed", "NOT NULL constraint failed"}},
	{errDatabaseLocked, []string{"database is locked", "database table is locked", "SQLITE_BUSY"}},
}

// mapError translates driver errors into persistence sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.ErrNotFound
	}
	msg := err.Error()
	for _, class := range errorClasses {
		for _, marker := range class.markers {
			if strings.Contains(msg, marker) {
				return fmt.Errorf("%w: %v", class.sentinel, err)
			}
		}
	}
	return err
}

// retrier re-runs writes that hit a locked database, backing off
// exponentially up to maxDelay.
type retrier struct {
	attempts  int
	baseDelay time.Duration
	maxDelay  time.Duration
}

func defaultRetrier() retrier {
	return retrier{attempts: 4, baseDelay: 50 * time.Millisecond, maxDelay: time.Second}
}

// do runs fn and returns its mapped error. Only errDatabaseLocked is retried.
func (r retrier) do(ctx context.Context, fn func() error) error {
	delay := r.baseDelay
	var err error
	for attempt := 1; ; attempt++ {
		err = mapError(fn())
		if err == nil || !errors.Is(err, errDatabaseLocked) {
			return err
		}
		if attempt >= r.attempts {
			return fmt.Errorf("giving up after %d attempts: %w", attempt, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay = min(delay*2, r.maxDelay)
	}
}
