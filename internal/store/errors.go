package store

import (
	"errors"
	"fmt"
)

var (
	// ErrConnect is returned when no connection could be established within
	// the retry budget.
	ErrConnect = errors.New("store: could not connect")
	// ErrColumnMismatch is returned by InsertMany when records disagree on
	// their column set.
	ErrColumnMismatch = errors.New("store: records have different columns")
	// ErrEmptyRecord is returned by the insert path for a record with no columns.
	ErrEmptyRecord = errors.New("store: empty record")
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store: closed")
	// ErrInvalidIdentifier is returned for table or column names that cannot
	// be used in a statement.
	ErrInvalidIdentifier = errors.New("store: invalid identifier")
	// ErrNoConflictKey is returned when an ON CONFLICT upsert has no key to
	// target.
	ErrNoConflictKey = errors.New("store: no conflict key")
)

// WriteError describes a failed upsert in strict mode. Row is the index of
// the failing record within the batch, or -1 when the failure was not tied
// to a row.
type WriteError struct {
	Op    string
	Table string
	Row   int
	Err   error
}

func (e *WriteError) Error() string {
	if e.Row >= 0 {
		return fmt.Sprintf("%s %s: row %d: %v", e.Op, e.Table, e.Row, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Table, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
