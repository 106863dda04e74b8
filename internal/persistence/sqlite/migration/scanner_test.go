package migration

import (
	"errors"
	"testing"
	"testing/fstest"
)

func TestFileScanner_ScanMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/002_add_index.sql":     {Data: []byte("CREATE INDEX idx_things ON things(name);")},
		"migrations/001_create_things.sql": {Data: []byte("-- Description: Create things\nCREATE TABLE things (id TEXT PRIMARY KEY, name TEXT);")},
		"migrations/README.md":             {Data: []byte("not a migration")},
	}

	migrations, err := NewFileScanner(fsys).ScanMigrations("migrations")
	if err != nil {
		t.Fatalf("ScanMigrations returned error: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(migrations))
	}
	if migrations[0].Version != "001" || migrations[1].Version != "002" {
		t.Fatalf("expected ascending versions, got %s then %s", migrations[0].Version, migrations[1].Version)
	}
	if migrations[0].Description != "Create things" {
		t.Errorf("expected description from comment, got %q", migrations[0].Description)
	}
	if migrations[1].Description != "add index" {
		t.Errorf("expected description from filename, got %q", migrations[1].Description)
	}
	if migrations[0].Checksum == "" || migrations[0].Checksum == migrations[1].Checksum {
		t.Errorf("expected distinct checksums, got %q and %q", migrations[0].Checksum, migrations[1].Checksum)
	}
}

func TestFileScanner_RejectsMalformedFiles(t *testing.T) {
	tests := []struct {
		name string
		fsys fstest.MapFS
		want error
	}{
		{
			name: "bad filename",
			fsys: fstest.MapFS{"m/create_things.sql": {Data: []byte("CREATE TABLE t (id TEXT);")}},
			want: ErrInvalidMigrationFile,
		},
		{
			name: "comment only",
			fsys: fstest.MapFS{"m/001_empty.sql": {Data: []byte("-- nothing here\n")}},
			want: ErrInvalidMigrationFile,
		},
		{
			name: "unbalanced parentheses",
			fsys: fstest.MapFS{"m/001_broken.sql": {Data: []byte("CREATE TABLE t (id TEXT;")}},
			want: ErrInvalidMigrationFile,
		},
		{
			name: "duplicate version",
			fsys: fstest.MapFS{
				"m/001_first.sql":  {Data: []byte("CREATE TABLE a (id TEXT);")},
				"m/0001_again.sql": {Data: []byte("CREATE TABLE b (id TEXT);")},
			},
			want: ErrDuplicateVersion,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewFileScanner(tc.fsys).ScanMigrations("m")
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestSQLiteConfig_ConnectionString(t *testing.T) {
	cfg := InMemoryTestSQLiteConfig()
	got := cfg.ConnectionString()
	want := ":memory:?_pragma=busy_timeout%281000%29&_pragma=foreign_keys%281%29&_pragma=journal_mode%28MEMORY%29&_pragma=synchronous%28OFF%29"
	if got != want {
		t.Fatalf("unexpected connection string\n got: %s\nwant: %s", got, want)
	}

	if err := (SQLiteConfig{DSN: "x.db", JournalMode: "FAST"}).Validate(); err == nil {
		t.Fatal("expected invalid journal mode to be rejected")
	}
}
