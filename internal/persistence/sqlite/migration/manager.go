package migration

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Manager orchestrates the migration process.
type Manager struct {
	scanner        FileScanner
	executor       Executor
	dir            string
	logger         *slog.Logger
	timeoutPerFile time.Duration
	verifyChecksum bool
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the structured logger used for progress reporting.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithConfig applies the timeout and checksum settings of cfg.
func WithConfig(cfg MigrationConfig) ManagerOption {
	return func(m *Manager) {
		m.timeoutPerFile = cfg.TimeoutPerFile
		m.verifyChecksum = cfg.VerifyChecksum
	}
}

// NewManager creates a Manager reading migrations from dir.
func NewManager(scanner FileScanner, executor Executor, dir string, opts ...ManagerOption) *Manager {
	m := &Manager{
		scanner:  scanner,
		executor: executor,
		dir:      dir,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "migration")
	return m
}

// RunMigrations executes all pending migrations in sequential order
func (m *Manager) RunMigrations(ctx context.Context) error {
	started := time.Now()

	status, err := m.Status(ctx)
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to determine migration status", "error", err)
		return err
	}

	if status.PendingCount == 0 {
		m.logger.InfoContext(ctx, "schema up to date", "version", status.CurrentVersion)
		return nil
	}
	m.logger.InfoContext(ctx, "applying migrations", "current_version", status.CurrentVersion, "pending", status.PendingCount)

	for i, migration := range status.PendingMigrations {
		logger := m.logger.With("version", migration.Version, "file", migration.FilePath)

		runCtx := ctx
		cancel := func() {}
		if m.timeoutPerFile > 0 {
			runCtx, cancel = context.WithTimeout(ctx, m.timeoutPerFile)
		}
		elapsed, err := m.executor.ExecuteMigration(runCtx, migration)
		cancel()
		if err != nil {
			logger.ErrorContext(ctx, "migration failed", "error", err)
			return fileError(migration.Version, migration.FilePath, "execute migration",
				fmt.Errorf("%w: %w", ErrMigrationFailed, err))
		}

		logger.InfoContext(ctx, "migration applied",
			"description", migration.Description,
			"position", fmt.Sprintf("%d/%d", i+1, status.PendingCount),
			"duration", elapsed)
	}

	m.logger.InfoContext(ctx, "all migrations applied", "count", status.PendingCount, "duration", time.Since(started))
	return nil
}

// Status reports applied and pending migrations after validating that the
// files on disk agree with the version table.
func (m *Manager) Status(ctx context.Context) (*Status, error) {
	if err := m.executor.InitializeVersionTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize version table: %w", err)
	}

	available, err := m.scanner.ScanMigrations(m.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan migrations: %w", err)
	}
	applied, err := m.executor.GetAppliedVersions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get applied versions: %w", err)
	}

	if err := m.validateSequence(available, applied); err != nil {
		return nil, fmt.Errorf("migration sequence validation failed: %w", err)
	}

	appliedSet := make(map[int]AppliedMigration, len(applied))
	status := &Status{AppliedMigrations: applied}
	for _, a := range applied {
		appliedSet[versionNumber(a.Version)] = a
		status.CurrentVersion = a.Version
	}
	for _, migration := range available {
		if _, ok := appliedSet[versionNumber(migration.Version)]; !ok {
			status.PendingMigrations = append(status.PendingMigrations, migration)
		}
	}
	status.PendingCount = len(status.PendingMigrations)
	return status, nil
}

// validateSequence rejects gaps in the available versions, applied versions
// without a file and, when enabled, edited files.
func (m *Manager) validateSequence(available []Migration, applied []AppliedMigration) error {
	files := make(map[int]Migration, len(available))
	for i, migration := range available {
		n := versionNumber(migration.Version)
		if i > 0 && n != versionNumber(available[i-1].Version)+1 {
			return fmt.Errorf("%w: missing migration version %03d in sequence", ErrVersionConflict, versionNumber(available[i-1].Version)+1)
		}
		files[n] = migration
	}

	for _, a := range applied {
		file, ok := files[versionNumber(a.Version)]
		if !ok {
			return fmt.Errorf("%w: applied migration %s not found in available migrations", ErrVersionConflict, a.Version)
		}
		if m.verifyChecksum && a.Checksum != "" && a.Checksum != file.Checksum {
			return fileError(a.Version, file.FilePath, "verify checksum", ErrChecksumMismatch)
		}
	}
	return nil
}
