package config

import (
	"fmt"
	"net/url"
	"strings"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that should block startup.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is surfaced to the operator but does not block startup.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding.
//
// Path is a dotted path into the config (e.g. "storage.kind",
// "parser.options.comma"). Message is human-readable.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a single
// error in contexts that expect error.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

var knownStorage = map[string]struct{}{
	"postgres": {},
	"sqlite":   {},
	"mssql":    {},
	"mysql":    {},
}

var knownMetrics = map[string]struct{}{
	"":            {},
	"none":        {},
	"prometheus":  {},
	"pushgateway": {},
	"datadog":     {},
}

var knownParserOptions = map[string]struct{}{
	"comma":             {},
	"lazy_quotes":       {},
	"trim_space":        {},
	"normalize_headers": {},
	"header_map":        {},
}

// Validate performs static checks over a loaded Service and returns every
// issue found. It does not mutate cfg.
//
// Example:
//
//	for _, iss := range config.Validate(cfg) {
//	    fmt.Printf("%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
//	}
func Validate(cfg Service) []Issue {
	var issues []Issue
	add := func(sev IssueSeverity, path, format string, args ...any) {
		issues = append(issues, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(cfg.HTTP.Addr) == "" {
		add(SeverityError, "http.addr", "http.addr must not be empty")
	}
	if cfg.HTTP.MaxUploadBytes <= 0 {
		add(SeverityError, "http.max_upload_bytes", "must be > 0, got %d", cfg.HTTP.MaxUploadBytes)
	}
	if cfg.HTTP.ReadTimeout < 0 || cfg.HTTP.WriteTimeout < 0 {
		add(SeverityError, "http", "timeouts must not be negative")
	}

	if _, ok := knownStorage[cfg.Storage.Kind]; !ok {
		add(SeverityError, "storage.kind", "unsupported storage kind %q; want postgres, sqlite, mssql, or mysql", cfg.Storage.Kind)
	}
	if strings.TrimSpace(cfg.Storage.DSN) == "" {
		add(SeverityError, "storage.dsn", "storage.dsn must not be empty")
	}
	if cfg.Storage.BatchSize < 0 {
		add(SeverityError, "storage.batch_size", "must not be negative, got %d", cfg.Storage.BatchSize)
	} else if cfg.Storage.BatchSize > 10000 {
		add(SeverityWarning, "storage.batch_size", "%d is large; backends clamp it to their parameter limits", cfg.Storage.BatchSize)
	}
	if cfg.Storage.OpTimeout <= 0 {
		add(SeverityWarning, "storage.op_timeout", "no per-operation timeout; store calls may block indefinitely")
	}

	if cfg.Ingest.SampleSize < 0 {
		add(SeverityError, "ingest.sample_size", "must not be negative, got %d", cfg.Ingest.SampleSize)
	}
	if cfg.Ingest.ReadRetries < 0 {
		add(SeverityError, "ingest.read_retries", "must not be negative, got %d", cfg.Ingest.ReadRetries)
	}
	if cfg.Ingest.MaxBackoff > 0 && cfg.Ingest.InitialBackoff > cfg.Ingest.MaxBackoff {
		add(SeverityWarning, "ingest.initial_backoff", "initial_backoff %s exceeds max_backoff %s", cfg.Ingest.InitialBackoff, cfg.Ingest.MaxBackoff)
	}
	if cfg.Ingest.ImportRetries < 0 {
		add(SeverityError, "ingest.import_retries", "must not be negative, got %d", cfg.Ingest.ImportRetries)
	}

	for k := range cfg.Parser.Options {
		if _, ok := knownParserOptions[k]; !ok {
			add(SeverityWarning, "parser.options."+k, "unknown parser option %q is ignored", k)
		}
	}
	if v, ok := cfg.Parser.Options["comma"]; ok {
		if s, isStr := v.(string); !isStr || len([]rune(s)) != 1 || s == "\"" || s == "\n" || s == "\r" {
			add(SeverityError, "parser.options.comma", "comma must be a single character other than quote or newline")
		}
	}

	if _, ok := knownMetrics[cfg.Metrics.Backend]; !ok {
		add(SeverityError, "metrics.backend", "unknown metrics backend %q", cfg.Metrics.Backend)
	}
	switch cfg.Metrics.Backend {
	case "pushgateway":
		if u, err := url.Parse(cfg.Metrics.PushgatewayURL); err != nil || u.Scheme == "" || u.Host == "" {
			add(SeverityError, "metrics.pushgateway_url", "pushgateway backend requires an absolute URL")
		}
	case "datadog":
		if strings.TrimSpace(cfg.Metrics.DatadogAddr) == "" {
			add(SeverityWarning, "metrics.datadog_addr", "empty; the statsd client falls back to DD_AGENT_HOST")
		}
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		add(SeverityWarning, "log.level", "unknown level %q; using info", cfg.Log.Level)
	}

	return issues
}
