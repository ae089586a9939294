// Package mssql implements a Microsoft SQL Server storage.Store on top of
// go-mssqldb. Row collections are loaded with the driver's bulk copy API
// inside the same transaction as the metadata write.
package mssql

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"

	"datasets/internal/storage"
	"datasets/internal/storage/sqldoc"
)

// Config holds MSSQL store configuration.
type Config struct {
	DSN        string
	BatchSize  int
	SampleSize int
}

// Repository is an MSSQL-backed storage.Store.
type Repository struct {
	*sqldoc.Store
}

// NewRepository constructs a Repository and returns a Close function for cleanup.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	if _, err := msdsn.Parse(cfg.DSN); err != nil {
		return nil, nil, fmt.Errorf("mssql dsn: %w", err)
	}
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("sql.Open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping: %w", err)
	}
	st, err := sqldoc.Open(ctx, db, dialect{}, storage.Config{
		Kind:       "mssql",
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
