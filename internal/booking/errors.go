package booking

import (
	"errors"
	"fmt"
)

// The orchestration core distinguishes three failure families so callers can
// branch without inspecting error text:
//
//   - ValidationError: bad input (past date, malformed weekday, inverted
//     deadline offsets). Rejected synchronously, never persisted.
//   - AutomationError: the portal session failed (login or booking attempt).
//     Scoped to one item; siblings in the same tick still run.
//   - PersistenceError: the store failed. Aborts the current tick; nothing is
//     assumed mutated, the next tick retries the same query.

// ErrNotFound is returned when a record id does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalidState is returned when an operation targets a record whose status
// no longer permits it (e.g. confirming an already-rejected prompt).
var ErrInvalidState = errors.New("invalid state")

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

type AutomationError struct {
	Op  string
	Err error
}

func (e *AutomationError) Error() string {
	if e.Err == nil {
		return "automation: " + e.Op + " failed"
	}
	return fmt.Sprintf("automation: %s: %v", e.Op, e.Err)
}

func (e *AutomationError) Unwrap() error { return e.Err }

// IsAutomation reports whether err is (or wraps) an AutomationError.
func IsAutomation(err error) bool {
	var a *AutomationError
	return errors.As(err, &a)
}

type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsPersistence reports whether err is (or wraps) a PersistenceError.
func IsPersistence(err error) bool {
	var p *PersistenceError
	return errors.As(err, &p)
}

func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	// Keep sentinel semantics visible through the wrapper.
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidState) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
