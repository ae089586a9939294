// Package mysql implements a MySQL storage.Store using go-sql-driver/mysql.
//
// MySQL DDL is not transactional, so a row collection is created before the
// transaction that writes its rows and metadata, and dropped after the
// metadata delete commits.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"datasets/internal/storage"
	"datasets/internal/storage/sqldoc"
)

// Config holds MySQL store configuration.
type Config struct {
	DSN        string
	BatchSize  int
	SampleSize int
}

// Repository is a MySQL-backed storage.Store.
type Repository struct {
	*sqldoc.Store
}

// NewRepository validates the DSN, opens a pool, and returns a Close function.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	mc, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("mysql dsn: %w", err)
	}
	// Sample and doc columns are LONGTEXT; large INSERT batches need room.
	if mc.MaxAllowedPacket == 0 {
		mc.MaxAllowedPacket = 64 << 20
	}
	connector, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, nil, fmt.Errorf("mysql connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping: %w", err)
	}
	st, err := sqldoc.Open(ctx, db, dialect{}, storage.Config{
		Kind:       "mysql",
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
