// Package sqlite implements a SQLite-backed storage.Store using
// modernc.org/sqlite through database/sql. SQLite has no bulk-load API like
// Postgres COPY; multi-row INSERTs inside one transaction keep loads fast.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"datasets/internal/storage"
	"datasets/internal/storage/sqldoc"
)

// Repository is a SQLite-backed storage.Store.
type Repository struct {
	*sqldoc.Store
}

// NewRepository opens a SQLite database and returns a Repository plus a
// Close function for cleanup.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, nil, fmt.Errorf("sqlite: DSN must not be empty")
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// One connection: SQLite allows a single writer, and ":memory:"
	// databases live only as long as their connection.
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	st, err := sqldoc.Open(ctx, db, dialect{}, storage.Config{
		Kind:       "sqlite",
		BatchSize:  cfg.BatchSize,
		SampleSize: cfg.SampleSize,
	})
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	closeFn := func() { _ = db.Close() }
	return &Repository{Store: st}, closeFn, nil
}
