package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// EnvPrefix starts every environment override.
const EnvPrefix = "DATASETS_"

// ApplyEnv overrides cfg with DATASETS_* variables. lookup is usually
// os.LookupEnv; a nil lookup uses it.
func ApplyEnv(cfg *Service, lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	var firstErr error
	fail := func(name string, err error) {
		if firstErr == nil {
			firstErr = fmt.Errorf("config: %s%s: %w", EnvPrefix, name, err)
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				fail(name, err)
				return
			}
			*dst = n
		}
	}
	dur := func(name string, dst *Duration) {
		if v, ok := lookup(EnvPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				fail(name, err)
				return
			}
			*dst = Duration(d)
		}
	}

	str("HTTP_ADDR", &cfg.HTTP.Addr)
	if v, ok := lookup(EnvPrefix + "HTTP_MAX_UPLOAD_BYTES"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			fail("HTTP_MAX_UPLOAD_BYTES", err)
		} else {
			cfg.HTTP.MaxUploadBytes = n
		}
	}
	str("STORAGE_KIND", &cfg.Storage.Kind)
	str("STORAGE_DSN", &cfg.Storage.DSN)
	integer("STORAGE_BATCH_SIZE", &cfg.Storage.BatchSize)
	dur("STORAGE_OP_TIMEOUT", &cfg.Storage.OpTimeout)
	integer("INGEST_SAMPLE_SIZE", &cfg.Ingest.SampleSize)
	integer("INGEST_READ_RETRIES", &cfg.Ingest.ReadRetries)
	str("INGEST_ARCHIVE_DIR", &cfg.Ingest.ArchiveDir)
	str("LOG_LEVEL", &cfg.Log.Level)
	if v, ok := lookup(EnvPrefix + "LOG_PRETTY"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			fail("LOG_PRETTY", err)
		} else {
			cfg.Log.Pretty = b
		}
	}
	str("METRICS_BACKEND", &cfg.Metrics.Backend)
	str("METRICS_PUSHGATEWAY_URL", &cfg.Metrics.PushgatewayURL)
	str("METRICS_JOB", &cfg.Metrics.Job)
	str("METRICS_DATADOG_ADDR", &cfg.Metrics.DatadogAddr)
	return firstErr
}
