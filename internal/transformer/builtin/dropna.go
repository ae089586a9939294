package builtin

import "datasets/internal/dataset"

// DropNA removes any row missing a value for one of Columns. A key absent
// from a row counts as missing. An empty Columns list checks every column.
type DropNA struct {
	Columns []string
}

// Apply filters rows in place.
func (d DropNA) Apply(columns []string, in []dataset.Row) ([]string, []dataset.Row, error) {
	targets := d.Columns
	if len(targets) == 0 {
		targets = columns
	} else {
		known := index(columns)
		for _, c := range targets {
			if _, ok := known[c]; !ok {
				return nil, nil, &ColumnError{Op: "drop_na", Column: c, Err: ErrUnknownColumn}
			}
		}
	}

	out := in[:0]
	for _, r := range in {
		ok := true
		for _, c := range targets {
			v, exists := r.Get(c)
			if !exists || v.IsNull() {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, r)
		}
	}
	return columns, out, nil
}

func index(columns []string) map[string]int {
	m := make(map[string]int, len(columns))
	for i, c := range columns {
		m[c] = i
	}
	return m
}
