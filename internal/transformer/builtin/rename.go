package builtin

import "datasets/internal/dataset"

// Rename maps one column name to another.
type Rename struct {
	Old string
	New string
}

// RenameColumns renames columns simultaneously, so {a:b, b:a} swaps them.
// Renames whose Old is not in the schema are ignored. Column positions are
// kept.
type RenameColumns struct {
	Renames []Rename
}

// Apply rebuilds every row with the new keys.
func (rc RenameColumns) Apply(columns []string, in []dataset.Row) ([]string, []dataset.Row, error) {
	known := index(columns)
	mapping := make(map[string]string, len(rc.Renames))
	for _, r := range rc.Renames {
		if _, ok := known[r.Old]; ok {
			mapping[r.Old] = r.New
		}
	}
	if len(mapping) == 0 {
		return columns, in, nil
	}

	renamed := make([]string, len(columns))
	seen := make(map[string]struct{}, len(columns))
	for i, c := range columns {
		n, ok := mapping[c]
		if !ok {
			n = c
		}
		if _, dup := seen[n]; dup {
			return nil, nil, &ColumnError{Op: "rename_columns", Column: n, Err: ErrDuplicateColumn}
		}
		seen[n] = struct{}{}
		renamed[i] = n
	}

	for i, r := range in {
		out := dataset.NewRow(r.Len())
		r.Each(func(k string, v dataset.Value) {
			if n, ok := mapping[k]; ok {
				k = n
			}
			out.Set(k, v)
		})
		in[i] = out
	}
	return renamed, in, nil
}
