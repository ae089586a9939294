package sqldoc

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"datasets/internal/dataset"
	"datasets/internal/storage"
)

// MetaTable is the name of the metadata table.
const MetaTable = "datasets"

// Store implements storage.Store over database/sql.
type Store struct {
	db    *sql.DB
	d     Dialect
	cfg   storage.Config
	clock storage.Clock
}

var _ storage.Store = (*Store)(nil)

// Open creates the metadata table if needed and returns a Store that owns db.
func Open(ctx context.Context, db *sql.DB, d Dialect, cfg storage.Config) (*Store, error) {
	cfg = cfg.WithDefaults()
	if limit := d.MaxParams() / len(storage.DocColumns); cfg.BatchSize > limit {
		cfg.BatchSize = limit
	}
	s := &Store{db: db, d: d, cfg: cfg}
	if _, err := db.ExecContext(ctx, d.CreateMetaTable(MetaTable)); err != nil {
		return nil, s.wrap("bootstrap", err)
	}
	return s, nil
}

// BatchSize reports the effective rows per INSERT.
func (s *Store) BatchSize() int { return s.cfg.BatchSize }

func (s *Store) wrap(op string, err error) error {
	return storage.Wrap(s.d.Name()+" "+op, err, s.d.Transient)
}

func (s *Store) q(ident string) string { return s.d.Quote(ident) }

func (s *Store) selectMeta() string {
	cols := make([]string, len(metaColumns))
	for i, c := range metaColumns {
		cols[i] = s.q(c)
	}
	return strings.Join(cols, ", ")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMeta(sc scanner) (*dataset.Dataset, error) {
	var (
		d                dataset.Dataset
		columns, sample  string
		totalRows        int64
		created, updated int64
	)
	err := sc.Scan(&d.ID, &d.Name, &d.Description, &d.Source, &columns, &totalRows, &sample,
		&d.Collection, &d.FilePath, &d.Checksum, &d.Version, &created, &updated)
	if err != nil {
		return nil, err
	}
	if err := storage.DecodeSchema(&d, columns, sample); err != nil {
		return nil, err
	}
	d.TotalRows = int(totalRows)
	d.CreatedAt = time.Unix(0, created).UTC()
	d.UpdatedAt = time.Unix(0, updated).UTC()
	return &d, nil
}

func notFound(id string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	return err
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// CreateDataset implements storage.Store.
func (s *Store) CreateDataset(ctx context.Context, meta dataset.Dataset, rows []dataset.Row) (*dataset.Dataset, error) {
	meta, err := storage.PrepareCreate(meta, s.clock.Now())
	if err != nil {
		return nil, err
	}
	columns, sample, err := storage.EncodeSchema(meta)
	if err != nil {
		return nil, s.wrap("create", err)
	}

	write := func(tx *sql.Tx) error {
		if err := s.insertRows(ctx, tx, meta.Collection, rows); err != nil {
			return err
		}
		ph := make([]string, len(metaColumns))
		for i := range ph {
			ph[i] = s.d.Placeholder(i + 1)
		}
		_, err := tx.ExecContext(ctx,
			fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", s.q(MetaTable), s.selectMeta(), strings.Join(ph, ", ")),
			meta.ID, meta.Name, meta.Description, meta.Source, columns, int64(meta.TotalRows), sample,
			meta.Collection, meta.FilePath, meta.Checksum, meta.Version,
			meta.CreatedAt.UnixNano(), meta.UpdatedAt.UnixNano(),
		)
		return err
	}

	if s.d.TransactionalDDL() {
		err = s.inTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, s.d.CreateCollection(meta.Collection)); err != nil {
				return err
			}
			return write(tx)
		})
		if err != nil {
			return nil, s.wrap("create", err)
		}
		return &meta, nil
	}

	if _, err := s.db.ExecContext(ctx, s.d.CreateCollection(meta.Collection)); err != nil {
		return nil, s.wrap("create", err)
	}
	if err := s.inTx(ctx, write); err != nil {
		if _, derr := s.db.ExecContext(context.WithoutCancel(ctx), s.d.DropCollection(meta.Collection)); derr != nil {
			zerolog.Ctx(ctx).Error().Err(derr).Str("collection", meta.Collection).Msg("sqldoc: drop orphan collection")
			return nil, s.wrap("create", fmt.Errorf("%w: collection %s remains: %v (create failed: %v)",
				storage.ErrInconsistent, meta.Collection, derr, err))
		}
		return nil, s.wrap("create", err)
	}
	return &meta, nil
}

func (s *Store) insertRows(ctx context.Context, tx *sql.Tx, table string, rows []dataset.Row) error {
	if bl, ok := s.d.(BulkLoader); ok {
		copyFn := func(ctx context.Context, _ []string, batch [][]any) (int64, error) {
			return bl.BulkLoad(ctx, tx, table, batch)
		}
		_, err := storage.CopyRows(ctx, rows, s.cfg.BatchSize, copyFn)
		return err
	}
	prefix := fmt.Sprintf("INSERT INTO %s (%s, %s) VALUES ", s.q(table), s.q("seq"), s.q("doc"))
	copyFn := func(ctx context.Context, _ []string, batch [][]any) (int64, error) {
		var b strings.Builder
		b.WriteString(prefix)
		args := make([]any, 0, len(batch)*2)
		for i, r := range batch {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "(%s, %s)", s.d.Placeholder(2*i+1), s.d.Placeholder(2*i+2))
			args = append(args, r...)
		}
		res, err := tx.ExecContext(ctx, b.String(), args...)
		if err != nil {
			return 0, err
		}
		if n, err := res.RowsAffected(); err == nil {
			return n, nil
		}
		return int64(len(batch)), nil
	}
	_, err := storage.CopyRows(ctx, rows, s.cfg.BatchSize, copyFn)
	return err
}

// GetDataset implements storage.Store.
func (s *Store) GetDataset(ctx context.Context, id string) (*dataset.Dataset, error) {
	id, err := storage.CanonicalID(id)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s", s.selectMeta(), s.q(MetaTable), s.q("id"), s.d.Placeholder(1)),
		id)
	d, err := scanMeta(row)
	if err != nil {
		return nil, s.wrap("get", notFound(id, err))
	}
	return d, nil
}

// ListDatasets implements storage.Store.
func (s *Store) ListDatasets(ctx context.Context, skip, limit int) ([]dataset.Dataset, error) {
	return s.SearchDatasets(ctx, "", skip, limit)
}

func (s *Store) searchClause(query string) (string, []any) {
	if query == "" {
		return "", nil
	}
	pat := storage.LikePattern(query)
	return fmt.Sprintf(" WHERE LOWER(%s) LIKE %s ESCAPE '!' OR LOWER(%s) LIKE %s ESCAPE '!'",
		s.q("name"), s.d.Placeholder(1), s.q("description"), s.d.Placeholder(2)), []any{pat, pat}
}

// SearchDatasets implements storage.Store.
func (s *Store) SearchDatasets(ctx context.Context, query string, skip, limit int) ([]dataset.Dataset, error) {
	if err := storage.CheckPage(skip, limit); err != nil {
		return nil, err
	}
	out := []dataset.Dataset{}
	if limit == 0 {
		return out, nil
	}
	where, args := s.searchClause(query)
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s, %s %s",
			s.selectMeta(), s.q(MetaTable), where, s.q("created_at"), s.q("id"), s.d.Page(skip, limit)),
		args...)
	if err != nil {
		return nil, s.wrap("list", err)
	}
	defer rows.Close()
	for rows.Next() {
		d, err := scanMeta(rows)
		if err != nil {
			return nil, s.wrap("list", err)
		}
		out = append(out, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("list", err)
	}
	return out, nil
}

// CountDatasets implements storage.Store.
func (s *Store) CountDatasets(ctx context.Context, query string) (int, error) {
	where, args := s.searchClause(query)
	var n int64
	err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s%s", s.q(MetaTable), where), args...).Scan(&n)
	if err != nil {
		return 0, s.wrap("count", err)
	}
	return int(n), nil
}

func (s *Store) lockMeta(ctx context.Context, tx *sql.Tx, id string) (*dataset.Dataset, error) {
	row := tx.QueryRowContext(ctx,
		s.d.LockRow(s.selectMeta(), s.q(MetaTable), s.q("id")+" = "+s.d.Placeholder(1)),
		id)
	d, err := scanMeta(row)
	if err != nil {
		return nil, notFound(id, err)
	}
	return d, nil
}

// UpdateMetadata implements storage.Store.
func (s *Store) UpdateMetadata(ctx context.Context, id string, patch dataset.Patch) (*dataset.Dataset, error) {
	if err := patch.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidArgument, err)
	}
	id, err := storage.CanonicalID(id)
	if err != nil {
		return nil, err
	}
	var out *dataset.Dataset
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		d, err := s.lockMeta(ctx, tx, id)
		if err != nil {
			return err
		}
		prev := d.Version
		patch.Apply(d)
		d.UpdatedAt = s.clock.Now()
		d.Version++
		res, err := tx.ExecContext(ctx, fmt.Sprintf(
			"UPDATE %s SET %s = %s, %s = %s, %s = %s, %s = %s, %s = %s WHERE %s = %s AND %s = %s",
			s.q(MetaTable),
			s.q("name"), s.d.Placeholder(1),
			s.q("description"), s.d.Placeholder(2),
			s.q("source"), s.d.Placeholder(3),
			s.q("version"), s.d.Placeholder(4),
			s.q("updated_at"), s.d.Placeholder(5),
			s.q("id"), s.d.Placeholder(6),
			s.q("version"), s.d.Placeholder(7)),
			d.Name, d.Description, d.Source, d.Version, d.UpdatedAt.UnixNano(), id, prev)
		if err != nil {
			return err
		}
		if err := oneRow(res); err != nil {
			return err
		}
		out = d
		return nil
	})
	if err != nil {
		return nil, s.wrap("update", err)
	}
	return out, nil
}

func oneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return storage.ErrConflict
	}
	return nil
}

// DeleteDataset implements storage.Store.
func (s *Store) DeleteDataset(ctx context.Context, id string) error {
	id, err := storage.CanonicalID(id)
	if err != nil {
		return err
	}
	deleteMeta := fmt.Sprintf("DELETE FROM %s WHERE %s = %s", s.q(MetaTable), s.q("id"), s.d.Placeholder(1))

	var coll string
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		d, err := s.lockMeta(ctx, tx, id)
		if err != nil {
			return err
		}
		coll = d.Collection
		if s.d.TransactionalDDL() {
			if _, err := tx.ExecContext(ctx, s.d.DropCollection(coll)); err != nil {
				return err
			}
		}
		_, err = tx.ExecContext(ctx, deleteMeta, id)
		return err
	})
	if err != nil {
		return s.wrap("delete", err)
	}
	if s.d.TransactionalDDL() {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, s.d.DropCollection(coll)); err != nil {
		return s.wrap("delete", fmt.Errorf("%w: metadata removed but collection %s remains: %v",
			storage.ErrInconsistent, coll, err))
	}
	return nil
}

// FetchRows implements storage.Store.
func (s *Store) FetchRows(ctx context.Context, id string) ([]dataset.Row, error) {
	return s.fetch(ctx, "fetch rows", id, "")
}

// FetchRowsPage implements storage.Store.
func (s *Store) FetchRowsPage(ctx context.Context, id string, skip, limit int) ([]dataset.Row, error) {
	if err := storage.CheckPage(skip, limit); err != nil {
		return nil, err
	}
	if limit == 0 {
		if _, err := s.GetDataset(ctx, id); err != nil {
			return nil, err
		}
		return []dataset.Row{}, nil
	}
	return s.fetch(ctx, "fetch rows page", id, " "+s.d.Page(skip, limit))
}

func (s *Store) fetch(ctx context.Context, op, id, page string) ([]dataset.Row, error) {
	id, err := storage.CanonicalID(id)
	if err != nil {
		return nil, err
	}
	out := []dataset.Row{}
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		var coll string
		err := tx.QueryRowContext(ctx,
			fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s", s.q("collection_name"), s.q(MetaTable), s.q("id"), s.d.Placeholder(1)),
			id).Scan(&coll)
		if err != nil {
			return notFound(id, err)
		}
		rows, err := tx.QueryContext(ctx,
			fmt.Sprintf("SELECT %s FROM %s ORDER BY %s%s", s.q("doc"), s.q(coll), s.q("seq"), page))
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var doc string
			if err := rows.Scan(&doc); err != nil {
				return err
			}
			r, err := storage.DecodeDoc(doc)
			if err != nil {
				return err
			}
			out = append(out, r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, s.wrap(op, err)
	}
	return out, nil
}

// ReplaceRows implements storage.Store.
func (s *Store) ReplaceRows(ctx context.Context, id string, rows []dataset.Row) (*dataset.Dataset, error) {
	return s.commit(ctx, "replace rows", id, -1, rows, func(d *dataset.Dataset) dataset.Summary {
		return dataset.ComputeMetadata(d.Columns, rows, s.cfg.SampleSize)
	})
}

// CommitProcess implements storage.Store.
func (s *Store) CommitProcess(ctx context.Context, id string, expectedVersion int64, rows []dataset.Row, summary dataset.Summary) (*dataset.Dataset, error) {
	return s.commit(ctx, "commit process", id, expectedVersion, rows, func(*dataset.Dataset) dataset.Summary {
		return summary
	})
}

// commit swaps the rows and schema summary of one dataset. A negative
// expectedVersion skips the version check.
func (s *Store) commit(ctx context.Context, op, id string, expectedVersion int64, rows []dataset.Row, summarize func(*dataset.Dataset) dataset.Summary) (*dataset.Dataset, error) {
	id, err := storage.CanonicalID(id)
	if err != nil {
		return nil, err
	}
	var out *dataset.Dataset
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		d, err := s.lockMeta(ctx, tx, id)
		if err != nil {
			return err
		}
		if expectedVersion >= 0 && d.Version != expectedVersion {
			return fmt.Errorf("%w: version %d, expected %d", storage.ErrConflict, d.Version, expectedVersion)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+s.q(d.Collection)); err != nil {
			return err
		}
		if err := s.insertRows(ctx, tx, d.Collection, rows); err != nil {
			return err
		}

		prev := d.Version
		summarize(d).Apply(d, s.clock.Now())
		d.Version++
		columns, sample, err := storage.EncodeSchema(*d)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, fmt.Sprintf(
			"UPDATE %s SET %s = %s, %s = %s, %s = %s, %s = %s, %s = %s, %s = %s WHERE %s = %s AND %s = %s",
			s.q(MetaTable),
			s.q("columns"), s.d.Placeholder(1),
			s.q("total_rows"), s.d.Placeholder(2),
			s.q("sample"), s.d.Placeholder(3),
			s.q("checksum"), s.d.Placeholder(4),
			s.q("version"), s.d.Placeholder(5),
			s.q("updated_at"), s.d.Placeholder(6),
			s.q("id"), s.d.Placeholder(7),
			s.q("version"), s.d.Placeholder(8)),
			columns, int64(d.TotalRows), sample, d.Checksum, d.Version, d.UpdatedAt.UnixNano(), id, prev)
		if err != nil {
			return err
		}
		if err := oneRow(res); err != nil {
			return err
		}
		out = d
		return nil
	})
	if err != nil {
		return nil, s.wrap(op, err)
	}
	return out, nil
}

// Ping implements storage.Store.
func (s *Store) Ping(ctx context.Context) error {
	return s.wrap("ping", s.db.PingContext(ctx))
}

// Close implements storage.Store.
func (s *Store) Close() { _ = s.db.Close() }
