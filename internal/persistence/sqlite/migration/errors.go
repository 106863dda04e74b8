package migration

import (
	"errors"
	"fmt"
)

var (
	ErrMigrationFailed      = errors.New("migration execution failed")
	ErrInvalidMigrationFile = errors.New("invalid migration file")
	ErrInvalidVersion       = errors.New("invalid migration version")
	ErrDuplicateVersion     = errors.New("duplicate migration version")
	// ErrVersionConflict reports a gap in the available versions or an applied
	// version that no longer has a file.
	ErrVersionConflict = errors.New("migration version conflict")
	// ErrChecksumMismatch reports an applied migration whose file was edited.
	ErrChecksumMismatch = errors.New("migration checksum mismatch")
)

// Error records which migration step failed. Source is the migration file for
// scanning problems and the SQL text for database failures.
type Error struct {
	Version  string
	Source   string
	Step     string
	Database bool
	Err      error
}

func (e *Error) Error() string {
	subject := "migration"
	if e.Version != "" {
		subject += " " + e.Version
	}
	if e.Database {
		return fmt.Sprintf("%s: database %s: %v", subject, e.Step, e.Err)
	}
	return fmt.Sprintf("%s (%s): %s: %v", subject, e.Source, e.Step, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func fileError(version, path, step string, err error) *Error {
	return &Error{Version: version, Source: path, Step: step, Err: err}
}

func dbError(version, query, step string, err error) *Error {
	return &Error{Version: version, Source: query, Step: step, Database: true, Err: err}
}
