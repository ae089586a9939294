package transformer

import (
	"errors"

	"datasets/internal/transformer/builtin"
)

var (
	// ErrUnknownColumn is returned when drop_na names a column the current
	// schema does not have.
	ErrUnknownColumn = builtin.ErrUnknownColumn

	// ErrDuplicateColumn is returned when rename_columns would produce two
	// columns with the same name.
	ErrDuplicateColumn = builtin.ErrDuplicateColumn

	// ErrInvalidOperation is returned for operations that are structurally
	// invalid: an unknown type, a missing fill value, an empty rename target.
	ErrInvalidOperation = errors.New("invalid operation")
)

// ColumnError names the operation and column that failed. It unwraps to
// ErrUnknownColumn or ErrDuplicateColumn.
type ColumnError = builtin.ColumnError
