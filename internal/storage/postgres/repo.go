// Package postgres implements a Postgres storage.Store using pgx v5. Row
// collections are loaded with COPY inside the transaction that writes the
// metadata, so a failed load leaves nothing behind.
//
// Row documents and the metadata columns/sample fields are stored as json,
// not jsonb: json keeps the key order of the original document.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"datasets/internal/dataset"
	"datasets/internal/storage"
)

// MetaTable is the name of the metadata table.
const MetaTable = "datasets"

// Config holds Postgres store configuration.
type Config struct {
	DSN        string // connection string for pgxpool
	BatchSize  int    // rows per COPY call
	SampleSize int    // sample length kept by ReplaceRows
}

// Repository is a Postgres-backed storage.Store.
type Repository struct {
	pool  *pgxpool.Pool
	cfg   Config
	clock storage.Clock
}

var createMeta = `CREATE TABLE IF NOT EXISTS ` + pgIdent(MetaTable) + ` (
  id              text        NOT NULL PRIMARY KEY,
  name            text        NOT NULL,
  description     text        NOT NULL,
  source          text        NOT NULL,
  columns         json        NOT NULL,
  total_rows      bigint      NOT NULL,
  sample          json        NOT NULL,
  collection_name text        NOT NULL,
  file_path       text        NOT NULL,
  checksum        text        NOT NULL,
  version         bigint      NOT NULL,
  created_at      timestamptz NOT NULL,
  updated_at      timestamptz NOT NULL
)`

const selectMeta = `id, name, description, source, columns::text, total_rows, sample::text,
  collection_name, file_path, checksum, version, created_at, updated_at`

// NewRepository constructs a Repository and returns a Close function for cleanup.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("pgxpool: %w", err)
	}
	sc := storage.Config{BatchSize: cfg.BatchSize, SampleSize: cfg.SampleSize}.WithDefaults()
	cfg.BatchSize, cfg.SampleSize = sc.BatchSize, sc.SampleSize

	r := &Repository{pool: pool, cfg: cfg}
	if _, err := pool.Exec(ctx, createMeta); err != nil {
		pool.Close()
		return nil, nil, r.wrap("bootstrap", err)
	}
	closeFn := func() { pool.Close() }
	return r, closeFn, nil
}

// transient reports connection-class failures, serialization failures, and
// deadlocks, plus anything pgx knows was never sent.
func transient(err error) bool {
	if pgconn.SafeToRetry(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		code := pgErr.SQLState()
		return strings.HasPrefix(code, "08") || code == "40001" || code == "40P01"
	}
	return false
}

func (r *Repository) wrap(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Detail != "" {
		err = fmt.Errorf("%w (%s)", err, pgErr.Detail)
	}
	return storage.Wrap("postgres "+op, err, transient)
}

func scanMeta(row pgx.Row) (*dataset.Dataset, error) {
	var (
		d               dataset.Dataset
		columns, sample string
		totalRows       int64
	)
	err := row.Scan(&d.ID, &d.Name, &d.Description, &d.Source, &columns, &totalRows, &sample,
		&d.Collection, &d.FilePath, &d.Checksum, &d.Version, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := storage.DecodeSchema(&d, columns, sample); err != nil {
		return nil, err
	}
	d.TotalRows = int(totalRows)
	d.CreatedAt = d.CreatedAt.UTC()
	d.UpdatedAt = d.UpdatedAt.UTC()
	return &d, nil
}

func notFound(id string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	return err
}

func (r *Repository) copyRows(ctx context.Context, tx pgx.Tx, table string, rows []dataset.Row) error {
	copyFn := func(ctx context.Context, columns []string, batch [][]any) (int64, error) {
		return tx.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(batch))
	}
	_, err := storage.CopyRows(ctx, rows, r.cfg.BatchSize, copyFn)
	return err
}

// CreateDataset implements storage.Store.
func (r *Repository) CreateDataset(ctx context.Context, meta dataset.Dataset, rows []dataset.Row) (*dataset.Dataset, error) {
	meta, err := storage.PrepareCreate(meta, r.clock.Now())
	if err != nil {
		return nil, err
	}
	columns, sample, err := storage.EncodeSchema(meta)
	if err != nil {
		return nil, r.wrap("create", err)
	}
	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		ddl := fmt.Sprintf("CREATE TABLE %s (seq bigint NOT NULL PRIMARY KEY, doc json NOT NULL)", pgIdent(meta.Collection))
		if _, err := tx.Exec(ctx, ddl); err != nil {
			return err
		}
		if err := r.copyRows(ctx, tx, meta.Collection, rows); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `INSERT INTO `+pgIdent(MetaTable)+` (id, name, description, source, columns,
  total_rows, sample, collection_name, file_path, checksum, version, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5::json, $6, $7::json, $8, $9, $10, $11, $12, $13)`,
			meta.ID, meta.Name, meta.Description, meta.Source, columns, int64(meta.TotalRows), sample,
			meta.Collection, meta.FilePath, meta.Checksum, meta.Version, meta.CreatedAt, meta.UpdatedAt)
		return err
	})
	if err != nil {
		return nil, r.wrap("create", err)
	}
	return &meta, nil
}

// GetDataset implements storage.Store.
func (r *Repository) GetDataset(ctx context.Context, id string) (*dataset.Dataset, error) {
	id, err := storage.CanonicalID(id)
	if err != nil {
		return nil, err
	}
	d, err := scanMeta(r.pool.QueryRow(ctx, `SELECT `+selectMeta+` FROM `+pgIdent(MetaTable)+` WHERE id = $1`, id))
	if err != nil {
		return nil, r.wrap("get", notFound(id, err))
	}
	return d, nil
}

// ListDatasets implements storage.Store.
func (r *Repository) ListDatasets(ctx context.Context, skip, limit int) ([]dataset.Dataset, error) {
	return r.SearchDatasets(ctx, "", skip, limit)
}

func searchClause(query string) (string, []any) {
	if query == "" {
		return "", nil
	}
	return ` WHERE lower(name) LIKE $1 ESCAPE '!' OR lower(description) LIKE $1 ESCAPE '!'`,
		[]any{storage.LikePattern(query)}
}

// SearchDatasets implements storage.Store.
func (r *Repository) SearchDatasets(ctx context.Context, query string, skip, limit int) ([]dataset.Dataset, error) {
	if err := storage.CheckPage(skip, limit); err != nil {
		return nil, err
	}
	out := []dataset.Dataset{}
	if limit == 0 {
		return out, nil
	}
	where, args := searchClause(query)
	rows, err := r.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM %s%s ORDER BY created_at, id LIMIT %d OFFSET %d`,
			selectMeta, pgIdent(MetaTable), where, limit, skip),
		args...)
	if err != nil {
		return nil, r.wrap("list", err)
	}
	defer rows.Close()
	for rows.Next() {
		d, err := scanMeta(rows)
		if err != nil {
			return nil, r.wrap("list", err)
		}
		out = append(out, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, r.wrap("list", err)
	}
	return out, nil
}

// CountDatasets implements storage.Store.
func (r *Repository) CountDatasets(ctx context.Context, query string) (int, error) {
	where, args := searchClause(query)
	var n int64
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM `+pgIdent(MetaTable)+where, args...).Scan(&n); err != nil {
		return 0, r.wrap("count", err)
	}
	return int(n), nil
}

func lockMeta(ctx context.Context, tx pgx.Tx, id string) (*dataset.Dataset, error) {
	d, err := scanMeta(tx.QueryRow(ctx, `SELECT `+selectMeta+` FROM `+pgIdent(MetaTable)+` WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(id, err)
	}
	return d, nil
}

func oneRow(tag pgconn.CommandTag) error {
	if tag.RowsAffected() != 1 {
		return storage.ErrConflict
	}
	return nil
}

// UpdateMetadata implements storage.Store.
func (r *Repository) UpdateMetadata(ctx context.Context, id string, patch dataset.Patch) (*dataset.Dataset, error) {
	if err := patch.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidArgument, err)
	}
	id, err := storage.CanonicalID(id)
	if err != nil {
		return nil, err
	}
	var out *dataset.Dataset
	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		d, err := lockMeta(ctx, tx, id)
		if err != nil {
			return err
		}
		prev := d.Version
		patch.Apply(d)
		d.UpdatedAt = r.clock.Now()
		d.Version++
		tag, err := tx.Exec(ctx, `UPDATE `+pgIdent(MetaTable)+`
SET name = $1, description = $2, source = $3, version = $4, updated_at = $5
WHERE id = $6 AND version = $7`,
			d.Name, d.Description, d.Source, d.Version, d.UpdatedAt, id, prev)
		if err != nil {
			return err
		}
		if err := oneRow(tag); err != nil {
			return err
		}
		out = d
		return nil
	})
	if err != nil {
		return nil, r.wrap("update", err)
	}
	return out, nil
}

// DeleteDataset implements storage.Store.
func (r *Repository) DeleteDataset(ctx context.Context, id string) error {
	id, err := storage.CanonicalID(id)
	if err != nil {
		return err
	}
	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		d, err := lockMeta(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+pgIdent(d.Collection)); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `DELETE FROM `+pgIdent(MetaTable)+` WHERE id = $1`, id)
		return err
	})
	return r.wrap("delete", err)
}

// FetchRows implements storage.Store.
func (r *Repository) FetchRows(ctx context.Context, id string) ([]dataset.Row, error) {
	return r.fetch(ctx, "fetch rows", id, "")
}

// FetchRowsPage implements storage.Store.
func (r *Repository) FetchRowsPage(ctx context.Context, id string, skip, limit int) ([]dataset.Row, error) {
	if err := storage.CheckPage(skip, limit); err != nil {
		return nil, err
	}
	if limit == 0 {
		if _, err := r.GetDataset(ctx, id); err != nil {
			return nil, err
		}
		return []dataset.Row{}, nil
	}
	return r.fetch(ctx, "fetch rows page", id, fmt.Sprintf(" LIMIT %d OFFSET %d", limit, skip))
}

func (r *Repository) fetch(ctx context.Context, op, id, page string) ([]dataset.Row, error) {
	id, err := storage.CanonicalID(id)
	if err != nil {
		return nil, err
	}
	out := []dataset.Row{}
	err = pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		var coll string
		err := tx.QueryRow(ctx, `SELECT collection_name FROM `+pgIdent(MetaTable)+` WHERE id = $1`, id).Scan(&coll)
		if err != nil {
			return notFound(id, err)
		}
		rows, err := tx.Query(ctx, `SELECT doc::text FROM `+pgIdent(coll)+` ORDER BY seq`+page)
		if err != nil {
			return err
		}
		docs, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return err
		}
		for _, doc := range docs {
			row, err := storage.DecodeDoc(doc)
			if err != nil {
				return err
			}
			out = append(out, row)
		}
		return nil
	})
	if err != nil {
		return nil, r.wrap(op, err)
	}
	return out, nil
}

// ReplaceRows implements storage.Store.
func (r *Repository) ReplaceRows(ctx context.Context, id string, rows []dataset.Row) (*dataset.Dataset, error) {
	return r.commit(ctx, "replace rows", id, -1, rows, func(d *dataset.Dataset) dataset.Summary {
		return dataset.ComputeMetadata(d.Columns, rows, r.cfg.SampleSize)
	})
}

// CommitProcess implements storage.Store.
func (r *Repository) CommitProcess(ctx context.Context, id string, expectedVersion int64, rows []dataset.Row, summary dataset.Summary) (*dataset.Dataset, error) {
	return r.commit(ctx, "commit process", id, expectedVersion, rows, func(*dataset.Dataset) dataset.Summary {
		return summary
	})
}

func (r *Repository) commit(ctx context.Context, op, id string, expectedVersion int64, rows []dataset.Row, summarize func(*dataset.Dataset) dataset.Summary) (*dataset.Dataset, error) {
	id, err := storage.CanonicalID(id)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	var out *dataset.Dataset
	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		d, err := lockMeta(ctx, tx, id)
		if err != nil {
			return err
		}
		if expectedVersion >= 0 && d.Version != expectedVersion {
			return fmt.Errorf("%w: version %d, expected %d", storage.ErrConflict, d.Version, expectedVersion)
		}
		if _, err := tx.Exec(ctx, "TRUNCATE "+pgIdent(d.Collection)); err != nil {
			return err
		}
		if err := r.copyRows(ctx, tx, d.Collection, rows); err != nil {
			return err
		}
		prev := d.Version
		summarize(d).Apply(d, r.clock.Now())
		d.Version++
		columns, sample, err := storage.EncodeSchema(*d)
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `UPDATE `+pgIdent(MetaTable)+`
SET columns = $1::json, total_rows = $2, sample = $3::json, checksum = $4, version = $5, updated_at = $6
WHERE id = $7 AND version = $8`,
			columns, int64(d.TotalRows), sample, d.Checksum, d.Version, d.UpdatedAt, id, prev)
		if err != nil {
			return err
		}
		if err := oneRow(tag); err != nil {
			return err
		}
		out = d
		return nil
	})
	if err != nil {
		return nil, r.wrap(op, err)
	}
	zerolog.Ctx(ctx).Debug().Str("dataset_id", id).Int("rows", len(rows)).
		Dur("elapsed", time.Since(start)).Msg("postgres: rows committed")
	return out, nil
}

// Ping implements storage.Store.
func (r *Repository) Ping(ctx context.Context) error {
	return r.wrap("ping", r.pool.Ping(ctx))
}

// pgIdent safely quotes a single identifier segment for Postgres.
func pgIdent(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }
