package httpds

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func fastClient(retries int) *Client {
	return NewClient(Config{
		MaxRetries:     retries,
		Timeout:        2 * time.Second,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	})
}

// TestNewClient_Defaults verifies that NewClient applies defaults and sets
// TLS behavior when no custom Transport is supplied.
func TestNewClient_Defaults(t *testing.T) {
	t.Parallel()

	c := NewClient(Config{InsecureSkipVerify: true})

	if c.httpClient.Timeout <= 0 {
		t.Fatalf("expected non-zero timeout, got %v", c.httpClient.Timeout)
	}
	if c.policy.Attempts != 1 {
		t.Fatalf("expected a single attempt by default, got %d", c.policy.Attempts)
	}
	if c.policy.Initial <= 0 || c.policy.Max <= 0 {
		t.Fatalf("expected default backoff > 0, got %+v", c.policy)
	}

	transport, ok := c.httpClient.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("expected *http.Transport, got %T", c.httpClient.Transport)
	}
	if transport.TLSClientConfig == nil || !transport.TLSClientConfig.InsecureSkipVerify {
		t.Fatalf("expected InsecureSkipVerify=true when configured")
	}
}

// TestCustomTransport ensures a custom Transport is used as-is.
func TestCustomTransport(t *testing.T) {
	t.Parallel()

	custom := &http.Transport{TLSClientConfig: &tls.Config{}}
	c := NewClient(Config{Transport: custom, InsecureSkipVerify: true})

	if c.httpClient.Transport != custom {
		t.Fatalf("expected custom transport to be used")
	}
	if custom.TLSClientConfig.InsecureSkipVerify {
		t.Fatalf("Config.InsecureSkipVerify leaked into the custom transport")
	}
}

func TestDo_RetryBehaviour(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		retries   int
		statuses  []int // per attempt; last repeats
		wantHits  int32
		wantErr   bool
		wantFinal int
	}{
		{name: "success_no_retry", retries: 3, statuses: []int{200}, wantHits: 1, wantFinal: 200},
		{name: "5xx_then_success", retries: 3, statuses: []int{500, 502, 200}, wantHits: 3, wantFinal: 200},
		{name: "429_then_success", retries: 1, statuses: []int{429, 200}, wantHits: 2, wantFinal: 200},
		{name: "exhausted", retries: 2, statuses: []int{503}, wantHits: 3, wantErr: true},
		{name: "non_retryable", retries: 5, statuses: []int{400}, wantHits: 1, wantFinal: 400},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			var hits int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := int(atomic.AddInt32(&hits, 1)) - 1
				if n >= len(c.statuses) {
					n = len(c.statuses) - 1
				}
				w.WriteHeader(c.statuses[n])
			}))
			defer srv.Close()

			resp, err := fastClient(c.retries).Get(context.Background(), srv.URL, nil)
			if c.wantErr {
				if err == nil {
					resp.Body.Close()
					t.Fatalf("expected error after exhausting retries")
				}
			} else {
				if err != nil {
					t.Fatalf("Get error: %v", err)
				}
				defer resp.Body.Close()
				if resp.StatusCode != c.wantFinal {
					t.Fatalf("status = %d, want %d", resp.StatusCode, c.wantFinal)
				}
			}
			if got := atomic.LoadInt32(&hits); got != c.wantHits {
				t.Fatalf("hits = %d, want %d", got, c.wantHits)
			}
		})
	}
}

func TestDo_HeadersMerge(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "%s|%s", r.Header.Get("X-Base"), r.Header.Get("X-Req"))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseHeaders: http.Header{"X-Base": {"b"}, "X-Req": {"base"}}})
	resp, err := c.Get(context.Background(), srv.URL, http.Header{"X-Req": {"override"}})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if got := string(body); got != "b|override" {
		t.Fatalf("headers seen = %q, want b|override", got)
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := fastClient(3).Get(ctx, "http://127.0.0.1:1/", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestIsRetryableStatus(t *testing.T) {
	t.Parallel()

	for code, want := range map[int]bool{200: false, 400: false, 404: false, 429: true, 500: true, 503: true} {
		if got := isRetryableStatus(code); got != want {
			t.Fatalf("isRetryableStatus(%d) = %v, want %v", code, got, want)
		}
	}
}
