// Command csvprobe parses a CSV offline and prints what an upload would
// produce: the columns, the row count, the checksum, and a sample. Operations
// given with -ops are applied first, so a cleaning pipeline can be previewed
// without touching a store.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"datasets/internal/archive"
	"datasets/internal/dataset"
	"datasets/internal/datasource"
	"datasets/internal/datasource/file"
	"datasets/internal/datasource/httpds"
	csvparser "datasets/internal/parser/csv"
	"datasets/internal/transformer"
)

var (
	flagPath      = flag.String("path", "", "CSV file path, archived upload (.sz), or http(s) URL")
	flagBytes     = flag.Int64("bytes", 32<<20, "maximum input size in bytes")
	flagDelimiter = flag.String("delimiter", ",", "CSV field delimiter (single character)")
	flagNormalize = flag.Bool("normalize", false, "normalize header names (lowercase, fold diacritics, '_' separators)")
	flagSample    = flag.Int("sample", dataset.DefaultSampleSize, "number of sample rows to print")
	flagOps       = flag.String("ops", "", `JSON array of operations to apply, e.g. '[{"type":"drop_na"}]'`)
	flagLines     = flag.Bool("lines", false, "print one 'index,column' line per column instead of JSON")
)

type preview struct {
	Source    string        `json:"source"`
	Columns   []string      `json:"columns"`
	TotalRows int           `json:"total_rows"`
	Checksum  string        `json:"checksum"`
	Sample    []dataset.Row `json:"sample"`
}

func main() {
	flag.Parse()
	if err := run(context.Background(), os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "csvprobe: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, out io.Writer) error {
	if *flagPath == "" {
		return fmt.Errorf("-path is required")
	}
	opt := csvparser.DefaultOptions()
	opt.NormalizeHeaders = *flagNormalize
	if *flagDelimiter != "" {
		r, size := utf8.DecodeRuneInString(*flagDelimiter)
		if r == utf8.RuneError || size != len(*flagDelimiter) {
			return fmt.Errorf("-delimiter must be a single character, got %q", *flagDelimiter)
		}
		opt.Comma = r
	}

	var ops []transformer.Operation
	if *flagOps != "" {
		var err error
		if ops, err = transformer.DecodeOperations([]byte(*flagOps)); err != nil {
			return err
		}
	}

	raw, err := readInput(ctx, *flagPath, *flagBytes)
	if err != nil {
		return err
	}
	table, err := csvparser.Parse(raw, opt)
	if err != nil {
		return err
	}
	res, err := transformer.Apply(table.Columns, table.Rows, ops)
	if err != nil {
		return err
	}
	sum := dataset.ComputeMetadata(res.Columns, res.Rows, *flagSample)

	if *flagLines {
		for i, c := range sum.Columns {
			fmt.Fprintf(out, "%d,%s\n", i, c)
		}
		return nil
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(preview{
		Source:    *flagPath,
		Columns:   sum.Columns,
		TotalRows: sum.TotalRows,
		Checksum:  sum.Checksum,
		Sample:    sum.Sample,
	})
}

func readInput(ctx context.Context, path string, max int64) ([]byte, error) {
	switch {
	case strings.HasPrefix(path, "http://"), strings.HasPrefix(path, "https://"):
		c := httpds.NewClient(httpds.Config{MaxRetries: 2})
		return datasource.ReadAll(ctx, httpds.NewSource(c, path), max)
	case archive.IsArchived(path):
		return archive.Read(path)
	default:
		return datasource.ReadAll(ctx, file.NewLocal(path), max)
	}
}
