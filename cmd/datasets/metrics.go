package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"datasets/internal/config"
	"datasets/internal/metrics"
	"datasets/internal/metrics/datadog"
	"datasets/internal/metrics/prompush"
)

const pushInterval = 15 * time.Second

type metricsSetup struct {
	handler   http.Handler  // served at /metrics, nil when not scraping
	pushEvery time.Duration // periodic Flush, zero when not pushing
	close     func()
}

// setupMetrics installs the configured backend as the metrics package
// backend.
func setupMetrics(cfg config.Metrics, log zerolog.Logger) (*metricsSetup, error) {
	m := &metricsSetup{close: func() {}}
	switch cfg.Backend {
	case "", "none":
		log.Debug().Msg("metrics disabled")

	case "prometheus", "pushgateway":
		var (
			b   *prompush.Backend
			err error
		)
		if cfg.Backend == "pushgateway" {
			b, err = prompush.NewBackend(cfg.Job, cfg.PushgatewayURL)
			m.pushEvery = pushInterval
		} else {
			b, err = prompush.NewScrapeBackend(cfg.Job)
		}
		if err != nil {
			return nil, err
		}
		reg := b.Registry()
		if err := reg.Register(collectors.NewGoCollector()); err != nil {
			return nil, fmt.Errorf("metrics: register go collector: %w", err)
		}
		if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
			return nil, fmt.Errorf("metrics: register process collector: %w", err)
		}
		m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
		metrics.SetBackend(b)
		if cfg.Backend == "pushgateway" {
			m.close = func() {
				if err := metrics.Flush(); err != nil {
					log.Warn().Err(err).Msg("metrics: final flush")
				}
			}
		}
		log.Info().Str("backend", cfg.Backend).Str("job", cfg.Job).Str("url", cfg.PushgatewayURL).Msg("metrics enabled")

	case "datadog":
		b, err := datadog.NewBackend(datadog.Config{Addr: cfg.DatadogAddr, GlobalTags: []string{"service:datasets"}})
		if err != nil {
			return nil, err
		}
		metrics.SetBackend(b)
		m.close = func() {
			if err := b.Close(); err != nil {
				log.Warn().Err(err).Msg("metrics: close datadog client")
			}
		}
		log.Info().Str("backend", cfg.Backend).Str("addr", cfg.DatadogAddr).Msg("metrics enabled")

	default:
		return nil, fmt.Errorf("metrics: unknown backend %q", cfg.Backend)
	}
	return m, nil
}
