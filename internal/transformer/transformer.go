// Package transformer applies an ordered list of cleaning operations to a
// table of rows and reports the resulting schema.
package transformer

import (
	"fmt"

	"datasets/internal/dataset"
	"datasets/internal/transformer/builtin"
)

// Step is one compiled operation. A Step owns the rows it is handed and may
// filter or edit them in place.
type Step interface {
	Apply(columns []string, rows []dataset.Row) ([]string, []dataset.Row, error)
}

// Chain is an ordered list of steps.
type Chain []Step

// Apply runs each step on the output of the previous one.
func (c Chain) Apply(columns []string, rows []dataset.Row) ([]string, []dataset.Row, error) {
	var err error
	for _, s := range c {
		if columns, rows, err = s.Apply(columns, rows); err != nil {
			return nil, nil, err
		}
	}
	return columns, rows, nil
}

// Result is the table left after all operations ran.
type Result struct {
	Columns []string
	Rows    []dataset.Row
}

// Apply validates ops, then runs them in order against a deep copy of rows.
// The inputs are never modified. On error no partial result is returned.
func Apply(columns []string, rows []dataset.Row, ops []Operation) (Result, error) {
	chain, err := Compile(ops)
	if err != nil {
		return Result{}, err
	}

	cols := make([]string, len(columns))
	copy(cols, columns)
	work := dataset.CloneRows(rows)

	for i, s := range chain {
		if cols, work, err = s.Apply(cols, work); err != nil {
			return Result{}, fmt.Errorf("operation %d (%s): %w", i, ops[i].Kind, err)
		}
	}
	if work == nil {
		work = []dataset.Row{}
	}
	return Result{Columns: cols, Rows: work}, nil
}

// Compile validates ops and turns them into a Chain.
func Compile(ops []Operation) (Chain, error) {
	chain := make(Chain, 0, len(ops))
	for i, op := range ops {
		if err := op.Validate(); err != nil {
			return nil, fmt.Errorf("operation %d: %w", i, err)
		}
		chain = append(chain, op.step())
	}
	return chain, nil
}

func (op Operation) step() Step {
	switch op.Kind {
	case KindDropNA:
		return builtin.DropNA{Columns: op.Columns}
	case KindFillNA:
		return builtin.FillNA{Columns: op.Columns, Value: op.Value}
	case KindDropColumns:
		return builtin.DropColumns{Columns: op.Columns}
	case KindRenameColumns:
		return builtin.RenameColumns{Renames: op.Renames}
	}
	panic("transformer: step for unvalidated operation " + string(op.Kind))
}
