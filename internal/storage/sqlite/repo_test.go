package sqlite

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"datasets/internal/storage"
	"datasets/internal/storage/storagetest"
)

func openTemp(t *testing.T) storage.Store {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "datasets.db") + "?_pragma=busy_timeout(5000)"
	r, closeFn, err := NewRepository(context.Background(), Config{DSN: dsn, BatchSize: 100, SampleSize: 10})
	if err != nil {
		t.Fatalf("NewRepository: %v", err)
	}
	return &wrappedRepo{Repository: r, closeFn: closeFn}
}

func TestStoreConformance(t *testing.T) {
	storagetest.Run(t, openTemp)
}

func TestDialect(t *testing.T) {
	t.Parallel()

	d := dialect{}
	if got := d.Quote(`we"ird`); got != `"we""ird"` {
		t.Fatalf("Quote = %s", got)
	}
	if got := d.Page(20, 10); got != "LIMIT 10 OFFSET 20" {
		t.Fatalf("Page = %s", got)
	}
	if ddl := d.CreateMetaTable("datasets"); !strings.HasPrefix(ddl, `CREATE TABLE IF NOT EXISTS "datasets" (`) {
		t.Fatalf("CreateMetaTable = %s", ddl)
	}
	if d.Transient(context.Canceled) {
		t.Fatalf("non-driver error classified transient")
	}
}

func TestOpen_ClampsBatchSize(t *testing.T) {
	t.Parallel()

	dsn := "file:" + filepath.Join(t.TempDir(), "clamp.db")
	r, closeFn, err := NewRepository(context.Background(), Config{DSN: dsn, BatchSize: 1 << 20})
	if err != nil {
		t.Fatalf("NewRepository: %v", err)
	}
	defer closeFn()
	if got, want := r.BatchSize(), 32766/2; got != want {
		t.Fatalf("BatchSize = %d, want %d", got, want)
	}
}
