package builtin

import "datasets/internal/dataset"

// DropColumns removes Columns from the schema and from every row. Names not
// in the schema are ignored.
type DropColumns struct {
	Columns []string
}

// Apply edits rows in place.
func (d DropColumns) Apply(columns []string, in []dataset.Row) ([]string, []dataset.Row, error) {
	drop := make(map[string]struct{}, len(d.Columns))
	for _, c := range d.Columns {
		drop[c] = struct{}{}
	}

	kept := make([]string, 0, len(columns))
	for _, c := range columns {
		if _, ok := drop[c]; !ok {
			kept = append(kept, c)
		}
	}
	if len(kept) == len(columns) {
		return columns, in, nil
	}

	for i := range in {
		for c := range drop {
			in[i].Delete(c)
		}
	}
	return kept, in, nil
}
