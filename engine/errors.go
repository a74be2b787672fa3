package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a record identifier is unknown.
	ErrNotFound = errors.New("record not found")

	// ErrAlreadyExists is returned when inserting a record with an
	// explicit identifier that is already present.
	ErrAlreadyExists = errors.New("record already exists")

	// ErrLockTimeout is returned when the writer lock could not be
	// acquired within the configured lock timeout.
	ErrLockTimeout = errors.New("lock timeout")

	// ErrInvalidQuery is returned for malformed query parameters.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrClosed is returned when the coordinator has been closed.
	ErrClosed = errors.New("engine closed")
)

// PersistenceError wraps a failure of the persistence adapter. The mutation
// it belongs to has not been applied in memory.
type PersistenceError struct {
	Op  string
	ID  uint32
	Err error
}

func (e *PersistenceError) Error() string {
	if e.ID != 0 {
		return fmt.Sprintf("persistence %s failed for record %d: %v", e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("persistence %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
