package storage

import (
	"encoding/json"
	"fmt"

	"datasets/internal/dataset"
)

// DocColumns are the columns of every row collection: the position of the
// row and its JSON document.
var DocColumns = []string{"seq", "doc"}

// EncodeSchema returns the JSON text stored for a dataset's columns and
// sample.
func EncodeSchema(d dataset.Dataset) (columns, sample string, err error) {
	cols := d.Columns
	if cols == nil {
		cols = []string{}
	}
	cb, err := json.Marshal(cols)
	if err != nil {
		return "", "", fmt.Errorf("encode columns: %w", err)
	}
	smp := d.Sample
	if smp == nil {
		smp = []dataset.Row{}
	}
	sb, err := json.Marshal(smp)
	if err != nil {
		return "", "", fmt.Errorf("encode sample: %w", err)
	}
	return string(cb), string(sb), nil
}

// DecodeSchema is the inverse of EncodeSchema.
func DecodeSchema(d *dataset.Dataset, columns, sample string) error {
	if err := json.Unmarshal([]byte(columns), &d.Columns); err != nil {
		return fmt.Errorf("decode columns: %w", err)
	}
	if err := json.Unmarshal([]byte(sample), &d.Sample); err != nil {
		return fmt.Errorf("decode sample: %w", err)
	}
	if d.Sample == nil {
		d.Sample = []dataset.Row{}
	}
	return nil
}

// DecodeDoc reads one stored row document.
func DecodeDoc(doc string) (dataset.Row, error) {
	var r dataset.Row
	if err := r.UnmarshalJSON([]byte(doc)); err != nil {
		return dataset.Row{}, fmt.Errorf("decode row: %w", err)
	}
	return r, nil
}
