// Package migration applies versioned SQL schema changes to SQLite databases.
//
// Migration files are read from an fs.FS, usually an embedded directory, and
// must be named {version}_{description}.sql (e.g. "001_create_rooms.sql").
// Each file runs in its own transaction together with the bookkeeping insert
// into the schema_migrations table, so a failed file leaves no trace.
//
// Example usage:
//
//	manager := migration.NewManager(
//		migration.NewFileScanner(migrationFiles),
//		migration.NewSQLiteExecutor(db),
//		"migrations",
//		migration.WithLogger(logger),
//	)
//	if err := manager.RunMigrations(ctx); err != nil {
//		return err
//	}
package migration
