package migration

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteConfig holds SQLite-specific database configuration
type SQLiteConfig struct {
	// DSN is the database file path or a "file:" URI
	DSN string

	// BusyTimeout sets how long to wait for database locks
	BusyTimeout time.Duration

	// EnableForeignKeys enables foreign key constraint checking
	EnableForeignKeys bool

	// JournalMode sets the SQLite journal mode (WAL, DELETE, TRUNCATE, etc.)
	JournalMode string

	// Synchronous sets the synchronous mode (FULL, NORMAL, OFF)
	Synchronous string

	// CacheSize sets the page cache size in KB (negative for pages)
	CacheSize int

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// MigrationConfig holds migration-specific configuration
type MigrationConfig struct {
	// Dir is the directory inside the migration fs.FS
	Dir string

	// Enabled controls whether migrations should run at startup
	Enabled bool

	// TimeoutPerFile bounds the execution time of each migration file
	TimeoutPerFile time.Duration

	// VerifyChecksum rejects applied migrations whose file content changed
	VerifyChecksum bool
}

// Open validates cfg, creates the database file if needed and returns a
// configured connection pool.
//
// PRAGMAs are passed through the DSN so that every pooled connection gets
// them, not only the first one.
func Open(cfg SQLiteConfig) (*sql.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid SQLite configuration: %w", err)
	}
	if err := cfg.createDatabaseDir(); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}
	return db, nil
}

// ConnectionString renders the DSN with the configured PRAGMAs appended as
// _pragma query parameters understood by modernc.org/sqlite.
func (cfg SQLiteConfig) ConnectionString() string {
	base, rawQuery, _ := strings.Cut(cfg.DSN, "?")
	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		query = url.Values{}
	}

	if cfg.BusyTimeout > 0 {
		query.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", cfg.BusyTimeout.Milliseconds()))
	}
	if cfg.EnableForeignKeys {
		query.Add("_pragma", "foreign_keys(1)")
	}
	if cfg.JournalMode != "" {
		query.Add("_pragma", fmt.Sprintf("journal_mode(%s)", cfg.JournalMode))
	}
	if cfg.Synchronous != "" {
		query.Add("_pragma", fmt.Sprintf("synchronous(%s)", cfg.Synchronous))
	}
	if cfg.CacheSize != 0 {
		query.Add("_pragma", fmt.Sprintf("cache_size(%d)", cfg.CacheSize))
	}

	if len(query) == 0 {
		return base
	}
	return base + "?" + query.Encode()
}

// Validate validates the SQLite configuration
func (cfg SQLiteConfig) Validate() error {
	if cfg.DSN == "" {
		return fmt.Errorf("DSN cannot be empty")
	}
	if cfg.BusyTimeout < 0 {
		return fmt.Errorf("BusyTimeout cannot be negative")
	}

	switch cfg.JournalMode {
	case "", "DELETE", "TRUNCATE", "PERSIST", "MEMORY", "WAL", "OFF":
	default:
		return fmt.Errorf("invalid journal mode: %s", cfg.JournalMode)
	}
	switch cfg.Synchronous {
	case "", "OFF", "NORMAL", "FULL", "EXTRA":
	default:
		return fmt.Errorf("invalid synchronous mode: %s", cfg.Synchronous)
	}

	if cfg.MaxOpenConns < 0 || cfg.MaxIdleConns < 0 || cfg.ConnMaxLifetime < 0 {
		return fmt.Errorf("connection pool settings cannot be negative")
	}
	return nil
}

// InMemory reports whether the DSN names a private in-memory database.
func (cfg SQLiteConfig) InMemory() bool {
	return cfg.DSN == ":memory:" || strings.Contains(cfg.DSN, "mode=memory")
}

func (cfg SQLiteConfig) createDatabaseDir() error {
	if cfg.InMemory() {
		return nil
	}
	path, _, _ := strings.Cut(strings.TrimPrefix(cfg.DSN, "file:"), "?")
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create database directory %s: %w", dir, err)
	}
	return nil
}

// DefaultSQLiteConfig returns a SQLite configuration with sensible defaults
func DefaultSQLiteConfig(dsn string) SQLiteConfig {
	return SQLiteConfig{
		DSN:               dsn,
		BusyTimeout:       5 * time.Second,
		EnableForeignKeys: true,
		JournalMode:       "WAL",
		Synchronous:       "NORMAL",
		CacheSize:         -2000,
		MaxOpenConns:      8,
		MaxIdleConns:      4,
		ConnMaxLifetime:   5 * time.Minute,
	}
}

// DefaultMigrationConfig returns a migration configuration with sensible defaults
func DefaultMigrationConfig(dir string) MigrationConfig {
	return MigrationConfig{
		Dir:            dir,
		Enabled:        true,
		TimeoutPerFile: time.Minute,
		VerifyChecksum: true,
	}
}

// InMemoryTestSQLiteConfig returns a SQLite configuration for in-memory tests.
// A single connection keeps every query on the same private database.
func InMemoryTestSQLiteConfig() SQLiteConfig {
	return SQLiteConfig{
		DSN:               ":memory:",
		BusyTimeout:       time.Second,
		EnableForeignKeys: true,
		JournalMode:       "MEMORY",
		Synchronous:       "OFF",
		MaxOpenConns:      1,
		MaxIdleConns:      1,
	}
}

// TempFileTestSQLiteConfig returns a SQLite configuration for file-based tests.
func TempFileTestSQLiteConfig(path string) SQLiteConfig {
	return SQLiteConfig{
		DSN:               path,
		BusyTimeout:       5 * time.Second,
		EnableForeignKeys: true,
		JournalMode:       "WAL",
		Synchronous:       "OFF",
		MaxOpenConns:      4,
		MaxIdleConns:      2,
		ConnMaxLifetime:   time.Minute,
	}
}
