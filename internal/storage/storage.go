// Package storage defines the document-store contract used by the ingest
// service and a small factory that maps a storage kind to a backend.
//
// A store keeps one metadata record per dataset and one row collection per
// dataset. Backends register themselves at init; import
// datasets/internal/storage/all to enable every built-in backend.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"datasets/internal/dataset"
)

// Store persists dataset metadata and the rows behind it.
//
// Every method that mutates a dataset does so in a single transaction: on
// error nothing is applied. Methods return ErrNotFound for unknown ids and
// *Error for backend failures.
type Store interface {
	// CreateDataset assigns an id and collection, stores rows in order, and
	// writes meta with Version 1. meta must already carry the summary of rows.
	CreateDataset(ctx context.Context, meta dataset.Dataset, rows []dataset.Row) (*dataset.Dataset, error)

	GetDataset(ctx context.Context, id string) (*dataset.Dataset, error)

	// ListDatasets returns datasets ordered by creation time, then id.
	ListDatasets(ctx context.Context, skip, limit int) ([]dataset.Dataset, error)

	// SearchDatasets is ListDatasets restricted to datasets whose name or
	// description contains query, case-insensitively.
	SearchDatasets(ctx context.Context, query string, skip, limit int) ([]dataset.Dataset, error)

	// CountDatasets counts the datasets SearchDatasets would page over. An
	// empty query counts everything.
	CountDatasets(ctx context.Context, query string) (int, error)

	// UpdateMetadata merges patch, refreshes UpdatedAt, and bumps Version.
	UpdateMetadata(ctx context.Context, id string, patch dataset.Patch) (*dataset.Dataset, error)

	// DeleteDataset removes the collection and the metadata record.
	DeleteDataset(ctx context.Context, id string) error

	// FetchRows returns all rows in storage order.
	FetchRows(ctx context.Context, id string) ([]dataset.Row, error)

	// FetchRowsPage returns rows [skip, skip+limit) in storage order.
	FetchRowsPage(ctx context.Context, id string, skip, limit int) ([]dataset.Row, error)

	// ReplaceRows swaps the stored rows for rows, keeping the schema, and
	// recomputes the row count, sample, and checksum.
	ReplaceRows(ctx context.Context, id string, rows []dataset.Row) (*dataset.Dataset, error)

	// CommitProcess replaces the rows and writes summary, provided the
	// stored Version still equals expectedVersion. Otherwise ErrConflict.
	CommitProcess(ctx context.Context, id string, expectedVersion int64, rows []dataset.Row, summary dataset.Summary) (*dataset.Dataset, error)

	Ping(ctx context.Context) error
	Close()
}

// Config selects and configures a backend.
type Config struct {
	// Kind is the registered backend name: postgres, sqlite, mssql, mysql.
	Kind string

	// DSN is passed to the backend driver.
	DSN string

	// BatchSize is the number of rows per bulk insert. Backends clamp it to
	// their parameter limits. Default 500.
	BatchSize int

	// SampleSize is the sample length ReplaceRows keeps. Default
	// dataset.DefaultSampleSize.
	SampleSize int
}

// DefaultBatchSize is used when Config.BatchSize is zero.
const DefaultBatchSize = 500

// WithDefaults fills zero fields.
func (c Config) WithDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.SampleSize <= 0 {
		c.SampleSize = dataset.DefaultSampleSize
	}
	return c
}

// Factory opens a Store for cfg.
type Factory func(ctx context.Context, cfg Config) (Store, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under kind. Registering the same kind
// twice replaces the earlier factory.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[kind] = f
}

// New opens the backend registered for cfg.Kind.
func New(ctx context.Context, cfg Config) (Store, error) {
	mu.RLock()
	f, ok := factories[cfg.Kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg.WithDefaults())
}

// ListKinds returns the registered kinds, sorted.
func ListKinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
