package builtin

import "datasets/internal/dataset"

// FillNA replaces null cells in Columns with Value. Columns not in the
// schema are skipped, and keys absent from a row are never created. An empty
// Columns list fills every column.
type FillNA struct {
	Columns []string
	Value   dataset.Value
}

// Apply edits rows in place.
func (f FillNA) Apply(columns []string, in []dataset.Row) ([]string, []dataset.Row, error) {
	targets := columns
	if len(f.Columns) > 0 {
		known := index(columns)
		targets = make([]string, 0, len(f.Columns))
		for _, c := range f.Columns {
			if _, ok := known[c]; ok {
				targets = append(targets, c)
			}
		}
	}

	for i := range in {
		for _, c := range targets {
			if v, ok := in[i].Get(c); ok && v.IsNull() {
				in[i].Set(c, f.Value)
			}
		}
	}
	return columns, in, nil
}
