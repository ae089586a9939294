// Command datasets serves the dataset ingestion API. With -ingest-list it
// ingests every CSV named in a manifest and exits instead.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"datasets/internal/archive"
	"datasets/internal/config"
	"datasets/internal/datasource/httpds"
	"datasets/internal/httpapi"
	"datasets/internal/ingest"
	"datasets/internal/logger"
	"datasets/internal/metrics"
	csvparser "datasets/internal/parser/csv"
	"datasets/internal/retry"
	"datasets/internal/storage"

	// register all backends with the storage factory.
	_ "datasets/internal/storage/all"
)

// flags holds command-line overrides. Only flags the user set are applied.
type flags struct {
	cfgPath    string
	addr       string
	kind       string
	dsn        string
	logLevel   string
	metrics    string
	pushURL    string
	ingestList string
	validate   bool
	verbose    bool
}

func parseFlags(args []string, stderr io.Writer) (flags, map[string]bool, error) {
	var f flags
	fs := flag.NewFlagSet("datasets", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.cfgPath, "config", "", "service config path (.json, .yaml, .yml); defaults are used when empty")
	fs.StringVar(&f.addr, "addr", "", "HTTP listen address (overrides http.addr)")
	fs.StringVar(&f.kind, "storage-kind", "", "storage backend: postgres, sqlite, mssql, mysql")
	fs.StringVar(&f.dsn, "dsn", "", "storage DSN (overrides storage.dsn)")
	fs.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.StringVar(&f.metrics, "metrics-backend", "", "metrics backend: none, prometheus, pushgateway, datadog")
	fs.StringVar(&f.pushURL, "pushgateway-url", "", "Pushgateway base URL")
	fs.StringVar(&f.ingestList, "ingest-list", "", "ingest every CSV path or URL listed in this file, then exit")
	fs.BoolVar(&f.validate, "validate", false, "validate the configuration and exit")
	fs.BoolVar(&f.verbose, "v", false, "enable debug logs")
	if err := fs.Parse(args); err != nil {
		return f, nil, err
	}
	set := map[string]bool{}
	fs.Visit(func(fl *flag.Flag) { set[fl.Name] = true })
	return f, set, nil
}

// loadConfig applies file, then environment, then flags.
func loadConfig(f flags, set map[string]bool, lookup func(string) (string, bool)) (config.Service, error) {
	cfg := config.Default()
	if f.cfgPath != "" {
		var err error
		if cfg, err = config.Load(f.cfgPath); err != nil {
			return cfg, err
		}
	}
	if err := config.ApplyEnv(&cfg, lookup); err != nil {
		return cfg, err
	}
	if set["addr"] {
		cfg.HTTP.Addr = f.addr
	}
	if set["storage-kind"] {
		cfg.Storage.Kind = f.kind
	}
	if set["dsn"] {
		cfg.Storage.DSN = f.dsn
	}
	if set["log-level"] {
		cfg.Log.Level = f.logLevel
	}
	if f.verbose {
		cfg.Log.Level = "debug"
	}
	if set["metrics-backend"] {
		cfg.Metrics.Backend = f.metrics
	}
	if set["pushgateway-url"] {
		cfg.Metrics.PushgatewayURL = f.pushURL
	}
	return cfg, nil
}

// newStoreFn is a test seam.
var newStoreFn = storage.New

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fatalf("%v", err)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	f, set, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(f, set, os.LookupEnv)
	if err != nil {
		return err
	}

	issues := config.Validate(cfg)
	for _, iss := range issues {
		fmt.Fprintf(stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		return fmt.Errorf("configuration is invalid")
	}
	if f.validate {
		fmt.Fprintln(stdout, "configuration is valid")
		return nil
	}

	log := logger.InitGlobal(logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, Output: stderr})
	ctx = log.WithContext(ctx)

	m, err := setupMetrics(cfg.Metrics, log)
	if err != nil {
		return err
	}
	defer m.close()

	store, err := newStoreFn(ctx, storage.Config{
		Kind:       cfg.Storage.Kind,
		DSN:        cfg.Storage.DSN,
		BatchSize:  cfg.Storage.BatchSize,
		SampleSize: cfg.Ingest.SampleSize,
	})
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()
	log.Info().Str("kind", cfg.Storage.Kind).Msg("storage ready")

	svc, err := newService(cfg, store, log)
	if err != nil {
		return err
	}

	if f.ingestList != "" {
		return ingestList(ctx, svc, f.ingestList, cfg.HTTP.MaxUploadBytes, importClient(cfg), stdout)
	}
	return serve(ctx, cfg, svc, m, log)
}

func importClient(cfg config.Service) *httpds.Client {
	return httpds.NewClient(httpds.Config{
		Timeout:        cfg.Ingest.ImportTimeout.D(),
		MaxRetries:     cfg.Ingest.ImportRetries,
		InitialBackoff: cfg.Ingest.InitialBackoff.D(),
		MaxBackoff:     cfg.Ingest.MaxBackoff.D(),
	})
}

func newService(cfg config.Service, store storage.Store, log zerolog.Logger) (*ingest.Service, error) {
	opts := []ingest.Option{
		ingest.WithLogger(log),
		ingest.WithFetcher(importClient(cfg)),
	}
	if cfg.Ingest.ArchiveDir != "" {
		a, err := archive.New(cfg.Ingest.ArchiveDir)
		if err != nil {
			return nil, err
		}
		opts = append(opts, ingest.WithArchive(a))
		log.Info().Str("dir", a.Dir()).Msg("archiving uploads")
	}
	return ingest.New(store, ingest.Config{
		SampleSize:     cfg.Ingest.SampleSize,
		MaxUploadBytes: cfg.HTTP.MaxUploadBytes,
		OpTimeout:      cfg.Storage.OpTimeout.D(),
		Read: retry.Policy{
			Attempts: cfg.Ingest.ReadRetries + 1,
			Initial:  cfg.Ingest.InitialBackoff.D(),
			Max:      cfg.Ingest.MaxBackoff.D(),
		},
		Parser: csvparser.OptionsFrom(cfg.Parser.Options),
	}, opts...), nil
}

// serve runs the HTTP server until ctx is done, then shuts it down.
func serve(ctx context.Context, cfg config.Service, svc *ingest.Service, m *metricsSetup, log zerolog.Logger) error {
	opts := []httpapi.Option{httpapi.WithLogger(log)}
	if m.handler != nil {
		opts = append(opts, httpapi.WithMetricsHandler(m.handler))
	}
	srv := httpapi.NewServer(httpapi.Config{
		Addr:           cfg.HTTP.Addr,
		MaxUploadBytes: cfg.HTTP.MaxUploadBytes,
		ReadTimeout:    cfg.HTTP.ReadTimeout.D(),
		WriteTimeout:   cfg.HTTP.WriteTimeout.D(),
	}, svc, opts...).HTTPServer()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		log.Info().Msg("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	if m.pushEvery > 0 {
		g.Go(func() error {
			t := time.NewTicker(m.pushEvery)
			defer t.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-t.C:
					if err := metrics.Flush(); err != nil {
						log.Warn().Err(err).Msg("metrics flush")
					}
				}
			}
		})
	}
	return g.Wait()
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
