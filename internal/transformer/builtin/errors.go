// Package builtin contains the cleaning steps behind each operation type.
// Steps own the rows they are given and may filter or edit them in place.
package builtin

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownColumn is returned when a step names a column the current
	// schema does not have and the step cannot treat that as a no-op.
	ErrUnknownColumn = errors.New("unknown column")

	// ErrDuplicateColumn is returned when a step would leave two columns
	// with the same name.
	ErrDuplicateColumn = errors.New("duplicate column")
)

// ColumnError names the step and column that failed.
type ColumnError struct {
	Op     string
	Column string
	Err    error
}

func (e *ColumnError) Error() string {
	return fmt.Sprintf("%s: column %q: %v", e.Op, e.Column, e.Err)
}

func (e *ColumnError) Unwrap() error { return e.Err }
