package objectlog

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a referenced user, group, entry or subject does not exist.
	ErrNotFound = errors.New("not found")

	// ErrForbidden is returned when a caller without administrator rights invokes an
	// admin-gated query.
	ErrForbidden = errors.New("You are not authorized to view this page")

	// ErrInvalidEntry is returned by Record for malformed input.
	ErrInvalidEntry = errors.New("invalid log entry")

	// ErrPersistence matches every *PersistenceError through errors.Is.
	ErrPersistence = errors.New("persistence failure")
)

// PersistenceError wraps a store failure. It is never recovered locally.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrPersistence) true for any PersistenceError.
func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

func persistence(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidEntry, fmt.Sprintf(format, args...))
}
