// Package csv turns an uploaded CSV file into a header and a list of ordered
// rows. Parsing is pure: callers hand in the raw bytes and receive a Table.
package csv

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"datasets/internal/config"
	"datasets/internal/dataset"
)

// ErrMalformedInput is returned when the input is not decodable text, has no
// header record, or contains a record the CSV grammar rejects.
var ErrMalformedInput = errors.New("csv: malformed input")

// Options configures the parser. Use DefaultOptions as the starting point;
// the zero value does not trim cells.
type Options struct {
	// Comma is the field delimiter. When zero, ',' is used.
	Comma rune

	// LazyQuotes lets a quote appear in an unquoted field and a non-doubled
	// quote appear in a quoted field.
	LazyQuotes bool

	// TrimSpace trims leading/trailing whitespace from each cell value.
	TrimSpace bool

	// NormalizeHeaders lowercases header names, folds diacritics, and maps
	// runs of non-alphanumerics to '_'.
	NormalizeHeaders bool

	// HeaderMap maps source header names (after trimming) to column names.
	// A mapped name is used as-is and is not normalized.
	HeaderMap map[string]string
}

// DefaultOptions returns comma-delimited parsing with cell trimming.
func DefaultOptions() Options {
	return Options{Comma: ',', TrimSpace: true}
}

// OptionsFrom reads parser options from a config bag. Recognized keys:
// comma (string), lazy_quotes, trim_space, normalize_headers (bool), and
// header_map (object).
func OptionsFrom(o config.Options) Options {
	def := DefaultOptions()
	opt := Options{
		Comma:            o.Rune("comma", def.Comma),
		LazyQuotes:       o.Bool("lazy_quotes", def.LazyQuotes),
		TrimSpace:        o.Bool("trim_space", def.TrimSpace),
		NormalizeHeaders: o.Bool("normalize_headers", def.NormalizeHeaders),
	}
	if m := o.StringMap("header_map"); len(m) > 0 {
		opt.HeaderMap = m
	}
	return opt
}

// Table is the parsed form of a CSV file. Every row carries exactly the keys
// in Columns, in the same order.
type Table struct {
	Columns []string
	Rows    []dataset.Row
}

// Parse decodes raw and returns its header and rows.
//
// Empty cells become null. Records shorter than the header are padded with
// null; records wider than the header fail with ErrMalformedInput. A file
// with a header and no records yields a Table with zero rows.
func Parse(raw []byte, opt Options) (*Table, error) {
	text, err := decodeInput(raw)
	if err != nil {
		return nil, err
	}

	cr := csv.NewReader(bytes.NewReader(text))
	cr.Comma = ','
	if opt.Comma != 0 {
		cr.Comma = opt.Comma
	}
	cr.LazyQuotes = opt.LazyQuotes
	cr.FieldsPerRecord = -1

	h, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: no header record", ErrMalformedInput)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrMalformedInput, err)
	}
	columns := buildHeader(h, opt)

	t := &Table{Columns: columns}
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
		}
		if len(rec) > len(columns) {
			line, _ := cr.FieldPos(0)
			return nil, fmt.Errorf("%w: line %d: %d fields, header has %d",
				ErrMalformedInput, line, len(rec), len(columns))
		}

		row := dataset.NewRow(len(columns))
		for i, col := range columns {
			if i >= len(rec) {
				row.Set(col, dataset.NullValue())
				continue
			}
			val := rec[i]
			if opt.TrimSpace {
				val = strings.TrimSpace(val)
			}
			row.Set(col, emptyToNil(val))
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// emptyToNil converts an empty string to null; all other values are strings.
func emptyToNil(s string) dataset.Value {
	if s == "" {
		return dataset.NullValue()
	}
	return dataset.StringValue(s)
}
