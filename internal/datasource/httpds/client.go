// Package httpds fetches CSV uploads from remote URLs for the import
// endpoint. Transient failures (transport errors, 429, 5xx) are retried with
// capped exponential backoff from internal/retry.
package httpds

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"datasets/internal/retry"
)

// Config configures the HTTP client.
//
// Zero values are given defaults:
//   - Timeout:        30s
//   - MaxRetries:     0
//   - InitialBackoff: 200ms
//   - MaxBackoff:     5s
type Config struct {
	// Timeout is the per-request timeout applied at the http.Client level.
	Timeout time.Duration

	// MaxRetries is the number of retry attempts after the initial request.
	MaxRetries int

	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool

	// BaseHeaders are added to every request; per-request headers win.
	BaseHeaders http.Header

	// Transport overrides the default *http.Transport.
	Transport http.RoundTripper
}

// Client wraps an http.Client with retry and backoff behavior.
type Client struct {
	httpClient  *http.Client
	policy      retry.Policy
	baseHeaders http.Header
}

// NewClient constructs a Client from Config, applying defaults for zero values.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 200 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Second
	}

	transport := cfg.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // explicitly configurable
			},
		}
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		policy: retry.Policy{
			Attempts: cfg.MaxRetries + 1,
			Initial:  cfg.InitialBackoff,
			Max:      cfg.MaxBackoff,
		},
		baseHeaders: cfg.BaseHeaders.Clone(),
	}
}

// statusError is returned for a retryable status on the final attempt.
type statusError struct {
	method, url string
	code        int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("httpds: retryable status %d from %s %s", e.code, e.method, e.url)
}

// transportError marks network failures as retryable.
type transportError struct{ err error }

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

func retryable(err error) bool {
	var se *statusError
	var te *transportError
	return errors.As(err, &se) || errors.As(err, &te)
}

// Do sends a request, retrying transport errors and retryable statuses. The
// body is a byte slice so it can be re-sent. The caller must close the
// returned response body.
func (c *Client) Do(
	ctx context.Context,
	method, url string,
	body []byte,
	headers http.Header,
) (*http.Response, error) {
	if method == "" {
		return nil, fmt.Errorf("httpds: method must not be empty")
	}
	if url == "" {
		return nil, fmt.Errorf("httpds: url must not be empty")
	}

	log := zerolog.Ctx(ctx)
	var out *http.Response
	err := retry.Do(ctx, c.policy, retryable,
		func(attempt int, err error, wait time.Duration) {
			log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", wait).Str("url", url).Msg("httpds: retrying")
		},
		func(ctx context.Context) error {
			req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
			if err != nil {
				return fmt.Errorf("httpds: build request: %w", err)
			}
			for k, vs := range c.baseHeaders {
				for _, v := range vs {
					req.Header.Add(k, v)
				}
			}
			for k, vs := range headers {
				for _, v := range vs {
					req.Header.Set(k, v)
				}
			}

			resp, err := c.httpClient.Do(req)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return &transportError{err: err}
			}
			if isRetryableStatus(resp.StatusCode) {
				_ = resp.Body.Close()
				return &statusError{method: method, url: url, code: resp.StatusCode}
			}
			out = resp
			return nil
		})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Get is a convenience wrapper over Do for HTTP GET. The caller must close
// the response body.
func (c *Client) Get(ctx context.Context, url string, headers http.Header) (*http.Response, error) {
	return c.Do(ctx, http.MethodGet, url, nil, headers)
}

// isRetryableStatus treats 429 and 5xx as transient.
func isRetryableStatus(code int) bool {
	if code == http.StatusTooManyRequests {
		return true
	}
	return code >= 500 && code <= 599
}
