package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrNotActive is returned when a command names a task whose prompt is not open.
	ErrNotActive   = errors.New("no active prompt for this task")
	ErrUnknownTask = errors.New("unknown maintenance task")
)

// StoreError wraps a persistence failure.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}
