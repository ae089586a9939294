package file

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"datasets/internal/datasource"
)

func writeCSV(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write test file: %v", err)
	}
	return p
}

// TestLocalOpen covers success, missing file, and pre-canceled context.
func TestLocalOpen(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		path      func(t *testing.T) string
		cancelled bool
		limit     int64
		wantErrIs error
		want      string
	}{
		{
			name: "reads_content",
			path: func(t *testing.T) string { return writeCSV(t, "people.csv", "name\nJane\n") },
			want: "name\nJane\n",
		},
		{
			name:      "missing_file",
			path:      func(t *testing.T) string { return filepath.Join(t.TempDir(), "missing.csv") },
			wantErrIs: os.ErrNotExist,
		},
		{
			name:      "pre_canceled_context",
			path:      func(t *testing.T) string { return writeCSV(t, "x.csv", "a") },
			cancelled: true,
			wantErrIs: context.Canceled,
		},
		{
			name:      "over_limit",
			path:      func(t *testing.T) string { return writeCSV(t, "big.csv", "0123456789") },
			limit:     4,
			wantErrIs: datasource.ErrTooLarge,
		},
	}

	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if c.cancelled {
				cancel()
			}

			got, err := datasource.ReadAll(ctx, NewLocal(c.path(t)), c.limit)
			if c.wantErrIs != nil {
				if !errors.Is(err, c.wantErrIs) {
					t.Fatalf("err = %v, want %v", err, c.wantErrIs)
				}
				return
			}
			if err != nil {
				t.Fatalf("ReadAll: %v", err)
			}
			if string(got) != c.want {
				t.Fatalf("content = %q, want %q", got, c.want)
			}
		})
	}
}

func TestLocalName(t *testing.T) {
	t.Parallel()

	if got := NewLocal("/data/in/people.csv").Name(); got != "people.csv" {
		t.Fatalf("Name = %q, want people.csv", got)
	}
}

// BenchmarkLocalOpen_Success measures the steady-state cost of opening a small file.
func BenchmarkLocalOpen_Success(b *testing.B) {
	p := filepath.Join(b.TempDir(), "data.csv")
	if err := os.WriteFile(p, []byte("payload"), 0o644); err != nil {
		b.Fatalf("write test file: %v", err)
	}
	src := NewLocal(p)
	ctx := context.Background()

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		rc, err := src.Open(ctx)
		if err != nil {
			b.Fatal(err)
		}
		_ = rc.Close()
	}
}
