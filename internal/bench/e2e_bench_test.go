package bench

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"datasets/internal/dataset"
	csvparser "datasets/internal/parser/csv"
	"datasets/internal/storage"
	"datasets/internal/transformer"
)

// makeCSV builds a realistic upload of n rows where every fifth row is
// missing its age.
func makeCSV(n int) []byte {
	var sb strings.Builder
	sb.WriteString("Full Name,Age,City,Email,Joined\n")
	for i := 0; i < n; i++ {
		age := fmt.Sprint(20 + i%50)
		if i%5 == 0 {
			age = ""
		}
		fmt.Fprintf(&sb, "Person %d,%s,Město %d,p%d@example.com,2024-01-%02d\n", i, age, i%20, i, 1+i%28)
	}
	return []byte(sb.String())
}

// BenchmarkEndToEnd exercises the in-memory hot path of ingest followed by
// process: parse, clean, summarize, and encode rows for a bulk copy into a
// fake store.
//
// Run with:
//
//	go test -run=^$ -bench ^BenchmarkEndToEnd$ -cpuprofile cpu.out -memprofile mem.out -count=1 ./internal/bench
func BenchmarkEndToEnd(b *testing.B) {
	ctx := context.Background()
	raw := makeCSV(5000)
	opt := csvparser.DefaultOptions()
	opt.NormalizeHeaders = true
	ops := []transformer.Operation{
		transformer.DropNA("age"),
		transformer.DropColumns("email"),
		transformer.RenameColumns(transformer.Rename{Old: "full_name", New: "name"}),
	}
	copyFn := func(_ context.Context, _ []string, rows [][]any) (int64, error) {
		return int64(len(rows)), nil
	}

	b.SetBytes(int64(len(raw)))
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		table, err := csvparser.Parse(raw, opt)
		if err != nil {
			b.Fatalf("Parse: %v", err)
		}
		res, err := transformer.Apply(table.Columns, table.Rows, ops)
		if err != nil {
			b.Fatalf("Apply: %v", err)
		}
		sum := dataset.ComputeMetadata(res.Columns, res.Rows, dataset.DefaultSampleSize)
		n, err := storage.CopyRows(ctx, res.Rows, storage.DefaultBatchSize, copyFn)
		if err != nil {
			b.Fatalf("CopyRows: %v", err)
		}
		if int(n) != sum.TotalRows || sum.TotalRows != 4000 {
			b.Fatalf("copied %d rows, summary %d, want 4000", n, sum.TotalRows)
		}
	}
}
