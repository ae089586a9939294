package storage

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrNotFound is returned when no dataset exists for an id.
	ErrNotFound = errors.New("dataset not found")

	// ErrConflict is returned when a dataset changed between read and commit.
	ErrConflict = errors.New("dataset was modified concurrently")

	// ErrInvalidArgument is returned for negative paging values, blank names,
	// and similar caller mistakes.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInconsistent is returned when a backend without transactional DDL
	// could not finish cleaning up after a committed change.
	ErrInconsistent = errors.New("storage left inconsistent")
)

// Error wraps a backend failure with the store operation that hit it.
type Error struct {
	Op        string
	Err       error
	Transient bool
}

func (e *Error) Error() string { return fmt.Sprintf("storage: %s: %v", e.Op, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

// Classifier reports whether a driver error is worth retrying.
type Classifier func(error) bool

// Wrap attaches op to err. Sentinel errors keep their identity; anything
// else becomes an *Error classified by transient and the generic network
// and deadline checks. Wrap returns nil for a nil err.
func Wrap(op string, err error, transient Classifier) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	for _, s := range []error{ErrNotFound, ErrConflict, ErrInvalidArgument} {
		if errors.Is(err, s) {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	t := genericTransient(err)
	if !t && transient != nil {
		t = transient(err)
	}
	return &Error{Op: op, Err: err, Transient: t}
}

// IsTransient reports whether err is a backend failure that may succeed on
// retry. Sentinel errors are never transient.
func IsTransient(err error) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Transient
	}
	return false
}

func genericTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
