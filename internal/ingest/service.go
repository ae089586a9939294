// Package ingest is the orchestrator behind every dataset operation. It turns
// uploads into stored datasets, runs cleaning operations against them, and
// serves the read side, with per-dataset serialization of writers and
// retries for transient read failures.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"datasets/internal/archive"
	"datasets/internal/dataset"
	"datasets/internal/datasource"
	"datasets/internal/datasource/httpds"
	"datasets/internal/metrics"
	csvparser "datasets/internal/parser/csv"
	"datasets/internal/retry"
	"datasets/internal/storage"
	"datasets/internal/transformer"
)

// State is a step of the ingest lifecycle. Transitions are logged.
type State string

const (
	StateReceived       State = "received"
	StateParsed         State = "parsed"
	StatePersisted      State = "persisted"
	StateMetadataStored State = "metadata_stored"
	StateComplete       State = "complete"
	StateFailed         State = "failed"
)

// Config tunes a Service. Zero values get defaults in New.
type Config struct {
	// SampleSize is the number of leading rows kept on the metadata.
	SampleSize int

	// MaxUploadBytes rejects larger uploads with datasource.ErrTooLarge.
	// Zero disables the check.
	MaxUploadBytes int64

	// OpTimeout bounds each store call. Zero means no timeout.
	OpTimeout time.Duration

	// Read is the retry policy for read-only store calls.
	Read retry.Policy

	Parser csvparser.Options
}

// Upload is a raw CSV file plus its caller-supplied description.
type Upload struct {
	Data        []byte
	Filename    string
	Name        string
	Description string
	Source      string
}

// ImportRequest asks the service to fetch a CSV from URL and ingest it.
type ImportRequest struct {
	URL         string
	Name        string
	Description string
	Source      string
}

// Page is one page of datasets plus the total the query matches.
type Page struct {
	Datasets []dataset.Dataset `json:"datasets"`
	Total    int               `json:"total"`
	Skip     int               `json:"skip"`
	Limit    int               `json:"limit"`
}

// Fetcher downloads a remote file. *httpds.Client satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, url string, maxBytes int64) (*httpds.Download, error)
}

// Option customizes a Service.
type Option func(*Service)

// WithArchive keeps a compressed copy of every upload in a.
func WithArchive(a *archive.Archive) Option { return func(s *Service) { s.archive = a } }

// WithFetcher enables Import.
func WithFetcher(f Fetcher) Option { return func(s *Service) { s.fetcher = f } }

// WithLogger sets the base logger. The default is the global zerolog logger.
func WithLogger(l zerolog.Logger) Option { return func(s *Service) { s.log = l } }

// Test seams.
var (
	parseCSV      = csvparser.Parse
	applyOps      = transformer.Apply
	now           = time.Now
	archiveSave   = (*archive.Archive).Save
	archiveRemove = (*archive.Archive).Remove
)

// Service implements the dataset operations on top of a storage.Store.
type Service struct {
	store   storage.Store
	cfg     Config
	archive *archive.Archive
	fetcher Fetcher
	log     zerolog.Logger
	locks   keyedMutex
}

// New returns a Service over store.
func New(store storage.Store, cfg Config, opts ...Option) *Service {
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = dataset.DefaultSampleSize
	}
	if cfg.Parser.Comma == 0 {
		cfg.Parser = csvparser.DefaultOptions()
	}
	s := &Service{store: store, cfg: cfg, log: zerolog.Nop()}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With().Str("component", "ingest").Logger()
	return s
}

// Ping checks the store.
func (s *Service) Ping(ctx context.Context) error {
	return s.withTimeout(ctx, func(ctx context.Context) error { return s.store.Ping(ctx) })
}

// Ingest parses u, archives the raw bytes when an archive is configured, and
// stores rows and metadata in one store transaction.
func (s *Service) Ingest(ctx context.Context, u Upload) (*dataset.Dataset, error) {
	l := s.log.With().Str("op", "ingest").Str("dataset_name", u.Name).Str("filename", u.Filename).Logger()
	start := now()
	l.Info().Str("state", string(StateReceived)).Int("bytes", len(u.Data)).Msg("ingest state")

	d, err := s.ingest(ctx, l, u)
	metrics.RecordStep("ingest", "total", err, now().Sub(start))
	if err != nil {
		l.Error().Err(err).Str("state", string(StateFailed)).Str("kind", Kind(err)).Msg("ingest state")
		return nil, err
	}
	l.Info().Str("state", string(StateComplete)).Str("dataset_id", d.ID).
		Dur("elapsed", now().Sub(start)).Msg("ingest state")
	return d, nil
}

func (s *Service) ingest(ctx context.Context, l zerolog.Logger, u Upload) (*dataset.Dataset, error) {
	if strings.TrimSpace(u.Name) == "" {
		return nil, fmt.Errorf("ingest: %w: name is required", storage.ErrInvalidArgument)
	}
	if s.cfg.MaxUploadBytes > 0 && int64(len(u.Data)) > s.cfg.MaxUploadBytes {
		return nil, fmt.Errorf("ingest: %w: %d bytes, limit %d", datasource.ErrTooLarge, len(u.Data), s.cfg.MaxUploadBytes)
	}

	t0 := now()
	table, err := parseCSV(u.Data, s.cfg.Parser)
	metrics.RecordStep("ingest", "parse", err, now().Sub(t0))
	if err != nil {
		return nil, fmt.Errorf("ingest: parse: %w", err)
	}
	metrics.RecordRow("ingest", "parsed", int64(len(table.Rows)))
	l.Info().Str("state", string(StateParsed)).Int("columns", len(table.Columns)).
		Int("rows", len(table.Rows)).Msg("ingest state")

	var filePath string
	if s.archive != nil {
		t0 = now()
		filePath, err = archiveSave(s.archive, u.Filename, u.Data)
		metrics.RecordStep("ingest", "archive", err, now().Sub(t0))
		if err != nil {
			l.Warn().Err(err).Msg("archive upload failed; continuing without file_path")
			filePath = ""
		}
	}

	meta := dataset.Dataset{
		Name:        u.Name,
		Description: u.Description,
		Source:      u.Source,
		FilePath:    filePath,
	}
	dataset.ComputeMetadata(table.Columns, table.Rows, s.cfg.SampleSize).Apply(&meta, now().UTC())

	t0 = now()
	var created *dataset.Dataset
	err = s.withTimeout(ctx, func(ctx context.Context) error {
		var cerr error
		created, cerr = s.store.CreateDataset(ctx, meta, table.Rows)
		return cerr
	})
	metrics.RecordStep("ingest", "persist", err, now().Sub(t0))
	if err != nil {
		if filePath != "" {
			if rerr := archiveRemove(s.archive, filePath); rerr != nil {
				l.Warn().Err(rerr).Str("file_path", filePath).Msg("remove archived upload")
			}
		}
		return nil, fmt.Errorf("ingest: persist: %w", err)
	}
	metrics.RecordRow("ingest", "stored", int64(created.TotalRows))
	l.Info().Str("state", string(StatePersisted)).Str("dataset_id", created.ID).
		Str("collection", created.Collection).Int("rows", created.TotalRows).Msg("ingest state")
	l.Info().Str("state", string(StateMetadataStored)).Str("dataset_id", created.ID).
		Int64("version", created.Version).Msg("ingest state")
	return created, nil
}

// Import downloads req.URL and ingests it. The source defaults to the URL.
func (s *Service) Import(ctx context.Context, req ImportRequest) (*dataset.Dataset, error) {
	if s.fetcher == nil {
		return nil, ErrImportDisabled
	}
	if strings.TrimSpace(req.URL) == "" {
		return nil, fmt.Errorf("import: %w: url is required", storage.ErrInvalidArgument)
	}
	if strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("import: %w: name is required", storage.ErrInvalidArgument)
	}
	t0 := now()
	dl, err := s.fetcher.Fetch(ctx, req.URL, s.cfg.MaxUploadBytes)
	metrics.RecordStep("import", "fetch", err, now().Sub(t0))
	if err != nil {
		s.log.Error().Err(err).Str("op", "import").Str("url", req.URL).Msg("fetch failed")
		return nil, fmt.Errorf("import: %w", err)
	}
	src := req.Source
	if src == "" {
		src = req.URL
	}
	return s.Ingest(ctx, Upload{
		Data:        dl.Data,
		Filename:    dl.Filename,
		Name:        req.Name,
		Description: req.Description,
		Source:      src,
	})
}

// Process applies ops to the dataset in order and commits the new rows and
// metadata together. Operations are validated before anything is read. A
// concurrent commit from another process surfaces as storage.ErrConflict.
func (s *Service) Process(ctx context.Context, id string, ops []transformer.Operation) (*dataset.Dataset, error) {
	start := now()
	d, err := s.process(ctx, id, ops)
	metrics.RecordStep("process", "total", err, now().Sub(start))
	if err != nil {
		s.log.Error().Err(err).Str("op", "process").Str("dataset_id", id).Str("kind", Kind(err)).Msg("process failed")
		return nil, err
	}
	return d, nil
}

func (s *Service) process(ctx context.Context, id string, ops []transformer.Operation) (*dataset.Dataset, error) {
	if _, err := transformer.Compile(ops); err != nil {
		return nil, fmt.Errorf("process: %w", err)
	}
	key, err := storage.CanonicalID(id)
	if err != nil {
		return nil, fmt.Errorf("process: %w", err)
	}
	unlock := s.locks.Lock(key)
	defer unlock()

	l := s.log.With().Str("op", "process").Str("dataset_id", key).Logger()

	cur, err := s.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("process: %w", err)
	}
	var rows []dataset.Row
	err = s.read(ctx, "fetch_rows", func(ctx context.Context) error {
		var ferr error
		rows, ferr = s.store.FetchRows(ctx, key)
		return ferr
	})
	if err != nil {
		return nil, fmt.Errorf("process: load rows: %w", err)
	}

	t0 := now()
	res, err := applyOps(cur.Columns, rows, ops)
	metrics.RecordStep("process", "transform", err, now().Sub(t0))
	if err != nil {
		return nil, fmt.Errorf("process: %w", err)
	}
	summary := dataset.ComputeMetadata(res.Columns, res.Rows, s.cfg.SampleSize)

	t0 = now()
	var out *dataset.Dataset
	err = s.withTimeout(ctx, func(ctx context.Context) error {
		var cerr error
		out, cerr = s.store.CommitProcess(ctx, key, cur.Version, res.Rows, summary)
		return cerr
	})
	metrics.RecordStep("process", "commit", err, now().Sub(t0))
	if err != nil {
		return nil, fmt.Errorf("process: commit: %w", err)
	}
	metrics.RecordRow("process", "dropped", int64(len(rows)-len(res.Rows)))
	l.Info().Int("operations", len(ops)).Int("rows_before", len(rows)).Int("rows_after", out.TotalRows).
		Strs("columns", out.Columns).Int64("version", out.Version).Msg("processed")
	return out, nil
}

// Get returns the dataset metadata.
func (s *Service) Get(ctx context.Context, id string) (*dataset.Dataset, error) {
	var d *dataset.Dataset
	err := s.read(ctx, "get", func(ctx context.Context) error {
		var gerr error
		d, gerr = s.store.GetDataset(ctx, id)
		return gerr
	})
	return d, err
}

// List returns datasets in creation order with the total count.
func (s *Service) List(ctx context.Context, skip, limit int) (Page, error) {
	return s.Search(ctx, "", skip, limit)
}

// Search is List restricted to datasets whose name or description contains
// query. An empty query matches everything.
func (s *Service) Search(ctx context.Context, query string, skip, limit int) (Page, error) {
	if err := storage.CheckPage(skip, limit); err != nil {
		return Page{}, err
	}
	page := Page{Skip: skip, Limit: limit}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.read(gctx, "list", func(ctx context.Context) error {
			var err error
			if query == "" {
				page.Datasets, err = s.store.ListDatasets(ctx, skip, limit)
			} else {
				page.Datasets, err = s.store.SearchDatasets(ctx, query, skip, limit)
			}
			return err
		})
	})
	g.Go(func() error {
		return s.read(gctx, "count", func(ctx context.Context) error {
			var err error
			page.Total, err = s.store.CountDatasets(ctx, query)
			return err
		})
	})
	if err := g.Wait(); err != nil {
		return Page{}, err
	}
	if page.Datasets == nil {
		page.Datasets = []dataset.Dataset{}
	}
	return page, nil
}

// Update merges patch into the descriptive fields. An empty patch returns the
// current record unchanged.
func (s *Service) Update(ctx context.Context, id string, patch dataset.Patch) (*dataset.Dataset, error) {
	if err := patch.Validate(); err != nil {
		return nil, fmt.Errorf("update: %w: %v", storage.ErrInvalidArgument, err)
	}
	if patch.Empty() {
		return s.Get(ctx, id)
	}
	key, err := storage.CanonicalID(id)
	if err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(key)
	defer unlock()

	var d *dataset.Dataset
	err = s.withTimeout(ctx, func(ctx context.Context) error {
		var uerr error
		d, uerr = s.store.UpdateMetadata(ctx, key, patch)
		return uerr
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("op", "update").Str("dataset_id", key).Int64("version", d.Version).Msg("metadata updated")
	return d, nil
}

// Delete removes the dataset, its rows, and its archived upload.
func (s *Service) Delete(ctx context.Context, id string) error {
	key, err := storage.CanonicalID(id)
	if err != nil {
		return err
	}
	unlock := s.locks.Lock(key)
	defer unlock()

	var filePath string
	if s.archive != nil {
		if d, gerr := s.Get(ctx, key); gerr == nil {
			filePath = d.FilePath
		}
	}
	if err := s.withTimeout(ctx, func(ctx context.Context) error { return s.store.DeleteDataset(ctx, key) }); err != nil {
		return err
	}
	if filePath != "" {
		if rerr := archiveRemove(s.archive, filePath); rerr != nil {
			s.log.Warn().Err(rerr).Str("dataset_id", key).Msg("remove archived upload")
		}
	}
	s.log.Info().Str("op", "delete").Str("dataset_id", key).Msg("dataset deleted")
	return nil
}

// Rows returns rows [skip, skip+limit) in storage order.
func (s *Service) Rows(ctx context.Context, id string, skip, limit int) ([]dataset.Row, error) {
	if err := storage.CheckPage(skip, limit); err != nil {
		return nil, err
	}
	var rows []dataset.Row
	err := s.read(ctx, "fetch_rows_page", func(ctx context.Context) error {
		var ferr error
		rows, ferr = s.store.FetchRowsPage(ctx, id, skip, limit)
		return ferr
	})
	if rows == nil && err == nil {
		rows = []dataset.Row{}
	}
	return rows, err
}

// read runs a read-only store call, retrying transient failures.
func (s *Service) read(ctx context.Context, op string, fn func(context.Context) error) error {
	onRetry := func(attempt int, err error, wait time.Duration) {
		s.log.Warn().Err(err).Str("op", op).Int("attempt", attempt).Dur("backoff", wait).Msg("transient storage error, retrying")
	}
	return retry.Do(ctx, s.cfg.Read, storage.IsTransient, onRetry, func(ctx context.Context) error {
		return s.withTimeout(ctx, fn)
	})
}

func (s *Service) withTimeout(ctx context.Context, fn func(context.Context) error) error {
	if s.cfg.OpTimeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()
	err := fn(ctx)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && !storage.IsTransient(err) {
		var se *storage.Error
		if !errors.As(err, &se) {
			err = &storage.Error{Op: "timeout", Err: err, Transient: true}
		}
	}
	return err
}
