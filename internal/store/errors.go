package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
	"modernc.org/sqlite"
)

var (
	// ErrDuplicateID is returned by Save when the record id already exists.
	ErrDuplicateID = eris.New("store: duplicate record id")
	// ErrNotFound is returned by content lookups for an unknown pointer.
	ErrNotFound = eris.New("store: not found")
	// ErrUnavailable matches any *UnavailableError via errors.Is.
	ErrUnavailable = eris.New("store: unavailable")
	// ErrCorrupt matches any *CorruptError via errors.Is.
	ErrCorrupt = eris.New("store: corrupt")
)

// CorruptError reports a stored value that could not be decoded. Retrying
// will not help.
type CorruptError struct {
	What string
	Err  error
}

func (e *CorruptError) Error() string {
	return "store: decode " + e.What + ": " + e.Err.Error()
}

func (e *CorruptError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrCorrupt) match.
func (e *CorruptError) Is(target error) bool { return target == ErrCorrupt }

// IsCorrupt reports whether err is a decode failure of stored data.
func IsCorrupt(err error) bool {
	return errors.Is(err, ErrCorrupt)
}

// UnavailableError reports that the backing database could not be reached or
// could not accept the operation. It is fatal for the document being persisted.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return "store: " + e.Op + ": unavailable: " + e.Err.Error()
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrUnavailable) match.
func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }

// IsUnavailable reports whether err is a store availability failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// classifyPostgres wraps err as unavailable unless the server answered with
// a SQL error, which is a statement problem rather than an outage.
func classifyPostgres(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) || IsCorrupt(err) {
		return eris.Wrapf(err, "postgres: %s", op)
	}
	return &UnavailableError{Op: op, Err: err}
}

// sqlite primary result codes that indicate the database file itself is
// unusable rather than the statement being wrong.
var sqliteUnavailableCodes = map[int]bool{
	5:  true, // SQLITE_BUSY
	6:  true, // SQLITE_LOCKED
	8:  true, // SQLITE_READONLY
	10: true, // SQLITE_IOERR
	13: true, // SQLITE_FULL
	14: true, // SQLITE_CANTOPEN
}

func classifySQLite(op string, err error) error {
	if err == nil {
		return nil
	}
	var sqErr *sqlite.Error
	switch {
	case IsCorrupt(err):
		return eris.Wrapf(err, "sqlite: %s", op)
	case errors.As(err, &sqErr) && sqliteUnavailableCodes[sqErr.Code()&0xff],
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, context.DeadlineExceeded),
		strings.Contains(err.Error(), "database is closed"):
		return &UnavailableError{Op: op, Err: err}
	}
	return eris.Wrapf(err, "sqlite: %s", op)
}
