package store

import (
	"database/sql"
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned on unique-constraint violations.
	ErrConflict = errors.New("already exists")

	// ErrIntegrity is returned on foreign-key violations.
	ErrIntegrity = errors.New("referenced by other records")
)

// mapErr translates driver errors into the store's sentinel errors. The
// modernc driver surfaces constraint failures as plain text, so matching is
// on the SQLite error message.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case strings.Contains(err.Error(), "UNIQUE constraint failed"):
		return ErrConflict
	case strings.Contains(err.Error(), "FOREIGN KEY constraint failed"):
		return ErrIntegrity
	default:
		return err
	}
}
