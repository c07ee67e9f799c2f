package storage

import (
	"errors"
	"fmt"
)

// Error reports a failure of the persistence layer. It is the one error class
// callers are expected to surface instead of degrading.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap annotates err with op. Errors that already are storage errors, or
// domain errors passed through a transaction callback, keep their identity.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	var pe passthrough
	if errors.As(err, &pe) {
		return err
	}
	return &Error{Op: op, Err: err}
}

// IsStorageError reports whether err originates from the persistence layer.
func IsStorageError(err error) bool {
	var se *Error
	return errors.As(err, &se)
}

// passthrough marks domain errors that may be returned from a WithTx callback
// without being reclassified as storage failures.
type passthrough interface {
	error
	DomainError()
}
