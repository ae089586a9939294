// Package httpapi exposes the dataset service over HTTP.
//
// Routes:
//
//	POST   /datasets/upload        multipart: file, name, description, source
//	POST   /datasets/import        JSON: url, name, description, source
//	GET    /datasets               ?skip=&limit=&q=
//	GET    /datasets/{id}          metadata; ETag is row checksum + version
//	PATCH  /datasets/{id}          JSON: name, description, source
//	DELETE /datasets/{id}
//	POST   /datasets/{id}/process  JSON: {"operations": [...]}
//	GET    /datasets/{id}/rows     ?skip=&limit=
//	GET    /healthz
//	GET    /metrics                when a metrics handler is configured
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"datasets/internal/dataset"
	"datasets/internal/ingest"
	"datasets/internal/transformer"
)

// DefaultLimit is the page size when a request does not set limit.
const DefaultLimit = 100

// MaxLimit caps limit on list and rows requests.
const MaxLimit = 1000

// Service is the subset of *ingest.Service the handlers call.
type Service interface {
	Ingest(ctx context.Context, u ingest.Upload) (*dataset.Dataset, error)
	Import(ctx context.Context, req ingest.ImportRequest) (*dataset.Dataset, error)
	Process(ctx context.Context, id string, ops []transformer.Operation) (*dataset.Dataset, error)
	Get(ctx context.Context, id string) (*dataset.Dataset, error)
	Search(ctx context.Context, query string, skip, limit int) (ingest.Page, error)
	Update(ctx context.Context, id string, patch dataset.Patch) (*dataset.Dataset, error)
	Delete(ctx context.Context, id string) error
	Rows(ctx context.Context, id string, skip, limit int) ([]dataset.Row, error)
	Ping(ctx context.Context) error
}

var _ Service = (*ingest.Service)(nil)

// Config controls server startup.
type Config struct {
	Addr           string
	MaxUploadBytes int64
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// Option customizes a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l zerolog.Logger) Option { return func(s *Server) { s.log = l } }

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option { return func(s *Server) { s.metrics = h } }

// Server routes HTTP requests to a Service.
type Server struct {
	cfg     Config
	svc     Service
	router  *mux.Router
	log     zerolog.Logger
	metrics http.Handler
}

// NewServer constructs a Server with all routes registered.
func NewServer(cfg Config, svc Service, opts ...Option) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 32 << 20
	}
	s := &Server{cfg: cfg, svc: svc, router: mux.NewRouter(), log: zerolog.Nop()}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With().Str("component", "httpapi").Logger()
	s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// HTTPServer returns an *http.Server for cfg.Addr. The caller owns its
// lifecycle.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
	}
}

func (s *Server) routes() {
	s.router.Use(s.logRequests)

	d := s.router.PathPrefix("/datasets").Subrouter()
	d.HandleFunc("/upload", s.handleUpload).Methods(http.MethodPost)
	d.HandleFunc("/import", s.handleImport).Methods(http.MethodPost)
	d.HandleFunc("", s.handleList).Methods(http.MethodGet)
	d.HandleFunc("/{id}", s.handleGet).Methods(http.MethodGet, http.MethodHead)
	d.HandleFunc("/{id}", s.handleUpdate).Methods(http.MethodPatch)
	d.HandleFunc("/{id}", s.handleDelete).Methods(http.MethodDelete)
	d.HandleFunc("/{id}/process", s.handleProcess).Methods(http.MethodPost)
	d.HandleFunc("/{id}/rows", s.handleRows).Methods(http.MethodGet)

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, ingest.KindNotFound, "no route for "+r.Method+" "+r.URL.Path)
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ingest.KindInvalidArgument, r.Method+" not allowed on "+r.URL.Path)
	})
}
