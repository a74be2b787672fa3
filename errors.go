package poigo

import (
	"errors"
	"fmt"

	"github.com/hupe1980/poigo/engine"
	"github.com/hupe1980/poigo/record"
)

var (
	// ErrNotFound is returned when a record is not found.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when inserting an identifier that is
	// already present.
	ErrAlreadyExists = errors.New("already exists")

	// ErrLockTimeout is returned when a mutation could not acquire the
	// writer lock within the configured lock timeout.
	ErrLockTimeout = errors.New("lock timeout")

	// ErrInvalidQuery is returned for malformed query parameters.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("database closed")
)

// PersistenceError indicates that the persistence adapter failed. The
// mutation it belongs to was not applied in memory.
//
// The original underlying error can be accessed via errors.Unwrap.
type PersistenceError struct {
	Op    string
	ID    uint32
	cause error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s failed for record %d", e.Op, e.ID)
}

func (e *PersistenceError) Unwrap() error { return e.cause }

// translateError normalizes engine-layer errors into the public error
// contract. Geometry validation errors (geo.ErrInvalidGeometry) pass through
// unchanged.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Not found unification.
	if errors.Is(err, engine.ErrNotFound) || errors.Is(err, record.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	if errors.Is(err, engine.ErrAlreadyExists) {
		return fmt.Errorf("%w: %w", ErrAlreadyExists, err)
	}
	if errors.Is(err, engine.ErrLockTimeout) {
		return fmt.Errorf("%w: %w", ErrLockTimeout, err)
	}
	if errors.Is(err, engine.ErrInvalidQuery) {
		return fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}
	if errors.Is(err, engine.ErrClosed) {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}

	var pe *engine.PersistenceError
	if errors.As(err, &pe) {
		return &PersistenceError{Op: pe.Op, ID: pe.ID, cause: err}
	}

	return err
}
