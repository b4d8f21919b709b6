package engine

import (
	"errors"
	"fmt"

	"printflow/internal/repo"
)

// PersistenceError wraps a store failure; the transaction was rolled back.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// InputError reports a malformed request argument.
type InputError struct {
	Field string
	Err   error
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *InputError) Unwrap() error { return e.Err }

func invalid(field, format string, args ...any) error {
	return &InputError{Field: field, Err: fmt.Errorf(format, args...)}
}

// persist wraps store errors, letting not-found and version conflicts through
// unchanged so callers can match them directly.
func persist(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) || errors.Is(err, repo.ErrConcurrentModification) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
