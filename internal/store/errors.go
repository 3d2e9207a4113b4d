package store

import (
	"database/sql"
	"errors"
	"fmt"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

var (
	// ErrConnection means the backing file could not be opened, written, or
	// is not open.
	ErrConnection = errors.New("store unavailable")
	// ErrNotConnected is returned by operations on a store that is not open.
	ErrNotConnected = fmt.Errorf("%w: not connected", ErrConnection)

	// ErrConstraint is the umbrella for integrity violations.
	ErrConstraint = errors.New("constraint violation")
	// ErrDuplicate means a uniqueness constraint rejected the write.
	ErrDuplicate = fmt.Errorf("%w: duplicate key", ErrConstraint)
	// ErrMissingReference means a referenced device, user, or group does not exist.
	ErrMissingReference = fmt.Errorf("%w: referenced row does not exist", ErrConstraint)

	// ErrNotFound is returned when a keyed lookup or write matches no row.
	ErrNotFound = errors.New("not found")
	// ErrAuthMismatch is returned by VerifyUser when the password is wrong.
	ErrAuthMismatch = errors.New("credentials do not match")

	// ErrTxInProgress is returned by BeginTransaction while one is open.
	ErrTxInProgress = errors.New("transaction already in progress")
	// ErrNoTransaction is returned by Commit and Rollback with none open.
	ErrNoTransaction = errors.New("no transaction in progress")

	// ErrInvalidArgument is returned for values the schema would reject,
	// such as an unknown role or alarm status.
	ErrInvalidArgument = errors.New("invalid argument")
)

// classify maps driver errors onto the store taxonomy. Errors that already
// carry a store sentinel pass through unchanged.
func classify(err error) error {
	for _, known := range []error{ErrConnection, ErrConstraint, ErrNotFound, ErrAuthMismatch,
		ErrTxInProgress, ErrNoTransaction, ErrInvalidArgument} {
		if errors.Is(err, known) {
			return err
		}
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}

	var se *msqlite.Error
	if !errors.As(err, &se) {
		return err
	}
	switch se.Code() {
	case sqlite3lib.SQLITE_CONSTRAINT_UNIQUE, sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY:
		return fmt.Errorf("%w: %w", ErrDuplicate, err)
	case sqlite3lib.SQLITE_CONSTRAINT_FOREIGNKEY:
		return fmt.Errorf("%w: %w", ErrMissingReference, err)
	}
	switch se.Code() & 0xff {
	case sqlite3lib.SQLITE_CONSTRAINT:
		return fmt.Errorf("%w: %w", ErrConstraint, err)
	case sqlite3lib.SQLITE_CANTOPEN, sqlite3lib.SQLITE_IOERR, sqlite3lib.SQLITE_FULL,
		sqlite3lib.SQLITE_READONLY, sqlite3lib.SQLITE_NOTADB, sqlite3lib.SQLITE_CORRUPT,
		sqlite3lib.SQLITE_BUSY, sqlite3lib.SQLITE_LOCKED:
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}
	return err
}
