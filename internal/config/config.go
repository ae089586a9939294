// Package config defines the service configuration for the datasets binary.
// It is loaded from a JSON or YAML file (chosen by extension), then
// overridden by DATASETS_* environment variables, then by command-line
// flags in cmd/datasets.
//
// Example (trimmed):
//
//	{
//	  "http":    { "addr": ":8080", "max_upload_bytes": 33554432 },
//	  "storage": { "kind": "postgres", "dsn": "postgresql://...", "op_timeout": "30s" },
//	  "ingest":  { "sample_size": 10, "archive_dir": "/var/lib/datasets/uploads" },
//	  "parser":  { "options": { "comma": ",", "trim_space": true } },
//	  "log":     { "level": "info" },
//	  "metrics": { "backend": "prometheus" }
//	}
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Service is the top-level configuration object.
type Service struct {
	HTTP    HTTP    `json:"http" yaml:"http"`
	Storage Storage `json:"storage" yaml:"storage"`
	Ingest  Ingest  `json:"ingest" yaml:"ingest"`
	Parser  Parser  `json:"parser" yaml:"parser"`
	Log     Log     `json:"log" yaml:"log"`
	Metrics Metrics `json:"metrics" yaml:"metrics"`
}

// HTTP configures the API listener.
type HTTP struct {
	Addr           string   `json:"addr" yaml:"addr"`
	MaxUploadBytes int64    `json:"max_upload_bytes" yaml:"max_upload_bytes"`
	ReadTimeout    Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout   Duration `json:"write_timeout" yaml:"write_timeout"`
}

// Storage selects the document-store backend.
type Storage struct {
	// Kind is a registered backend: postgres, sqlite, mssql, mysql.
	Kind string `json:"kind" yaml:"kind"`

	// DSN is the driver connection string.
	DSN string `json:"dsn" yaml:"dsn"`

	// BatchSize is the number of rows per bulk insert.
	BatchSize int `json:"batch_size" yaml:"batch_size"`

	// OpTimeout bounds every store call made by the ingest service.
	OpTimeout Duration `json:"op_timeout" yaml:"op_timeout"`
}

// Ingest configures the orchestrator.
type Ingest struct {
	SampleSize     int      `json:"sample_size" yaml:"sample_size"`
	ReadRetries    int      `json:"read_retries" yaml:"read_retries"`
	InitialBackoff Duration `json:"initial_backoff" yaml:"initial_backoff"`
	MaxBackoff     Duration `json:"max_backoff" yaml:"max_backoff"`

	// ArchiveDir keeps a snappy-compressed copy of every upload. Empty
	// disables archiving.
	ArchiveDir string `json:"archive_dir" yaml:"archive_dir"`

	// ImportTimeout bounds URL imports; ImportRetries is the number of
	// retries for transient HTTP failures.
	ImportTimeout Duration `json:"import_timeout" yaml:"import_timeout"`
	ImportRetries int      `json:"import_retries" yaml:"import_retries"`
}

// Parser carries CSV parser options as a free-form bag. Keys: comma,
// lazy_quotes, trim_space, normalize_headers, header_map.
type Parser struct {
	Options Options `json:"options" yaml:"options"`
}

// Log configures the service logger.
type Log struct {
	Level  string `json:"level" yaml:"level"`
	Pretty bool   `json:"pretty" yaml:"pretty"`
}

// Metrics selects a metrics backend: "none", "prometheus" (scrape at
// /metrics), "pushgateway", or "datadog".
type Metrics struct {
	Backend        string `json:"backend" yaml:"backend"`
	PushgatewayURL string `json:"pushgateway_url" yaml:"pushgateway_url"`
	Job            string `json:"job" yaml:"job"`
	DatadogAddr    string `json:"datadog_addr" yaml:"datadog_addr"`
}

// Default returns the configuration used when no file is given.
func Default() Service {
	return Service{
		HTTP: HTTP{
			Addr:           ":8080",
			MaxUploadBytes: 32 << 20,
			ReadTimeout:    Duration(30 * time.Second),
			WriteTimeout:   Duration(60 * time.Second),
		},
		Storage: Storage{
			Kind:      "sqlite",
			DSN:       "file:datasets.db?_pragma=busy_timeout(5000)",
			BatchSize: 500,
			OpTimeout: Duration(30 * time.Second),
		},
		Ingest: Ingest{
			SampleSize:     10,
			ReadRetries:    3,
			InitialBackoff: Duration(100 * time.Millisecond),
			MaxBackoff:     Duration(2 * time.Second),
			ImportTimeout:  Duration(60 * time.Second),
			ImportRetries:  2,
		},
		Parser:  Parser{Options: Options{}},
		Log:     Log{Level: "info"},
		Metrics: Metrics{Backend: "prometheus", Job: "datasets"},
	}
}

// Load reads path on top of Default. Files ending in .yaml or .yml are YAML;
// everything else is JSON. Unknown fields are rejected.
func Load(path string) (Service, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("config: decode %s: %w", path, err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}
	if cfg.Parser.Options == nil {
		cfg.Parser.Options = Options{}
	}
	return cfg, nil
}

// Duration is a time.Duration written as a Go duration string ("30s") in
// config files. Bare JSON numbers are read as seconds.
type Duration time.Duration

// D returns d as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalJSON writes d as a duration string.
func (d Duration) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

// UnmarshalJSON accepts "1m30s" or a number of seconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		return d.parse(s)
	}
	var secs float64
	if err := json.Unmarshal(b, &secs); err != nil {
		return fmt.Errorf("duration: want string or seconds, got %s", b)
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}

// UnmarshalYAML accepts the same forms as UnmarshalJSON.
func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	if n.Tag == "!!int" || n.Tag == "!!float" {
		var secs float64
		if err := n.Decode(&secs); err != nil {
			return err
		}
		*d = Duration(secs * float64(time.Second))
		return nil
	}
	return d.parse(n.Value)
}

func (d *Duration) parse(s string) error {
	v, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	*d = Duration(v)
	return nil
}
