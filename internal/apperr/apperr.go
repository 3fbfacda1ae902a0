// Package apperr holds the error taxonomy shared by every component.
// Domain packages wrap these sentinels so callers can classify failures with
// errors.Is without importing the package that produced them.
package apperr

import "errors"

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrSignatureInvalid = errors.New("signature invalid")
	ErrPaymentProvider  = errors.New("payment provider error")
	ErrPersistence      = errors.New("persistence error")
)

// Persistence wraps a storage failure so it classifies as ErrPersistence.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return &persistenceError{op: op, err: err}
}

type persistenceError struct {
	op  string
	err error
}

func (e *persistenceError) Error() string { return e.op + ": " + e.err.Error() }

func (e *persistenceError) Unwrap() []error { return []error{ErrPersistence, e.err} }
