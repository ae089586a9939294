package httpds

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"datasets/internal/datasource"
)

func csvServer(body string, status int) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
}

func TestFetch_Success(t *testing.T) {
	t.Parallel()

	srv := csvServer("a,b\n1,2\n", http.StatusOK)
	defer srv.Close()

	d, err := fastClient(0).Fetch(context.Background(), srv.URL+"/exports/people.csv?x=1", 1<<10)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(d.Data) != "a,b\n1,2\n" {
		t.Fatalf("Data = %q", d.Data)
	}
	if d.Filename != "people.csv" || d.ContentType != "text/csv" {
		t.Fatalf("Download = %+v", d)
	}
}

func TestFetch_TooLarge(t *testing.T) {
	t.Parallel()

	srv := csvServer(strings.Repeat("x", 100), http.StatusOK)
	defer srv.Close()

	_, err := fastClient(0).Fetch(context.Background(), srv.URL, 10)
	if !errors.Is(err, datasource.ErrTooLarge) {
		t.Fatalf("err = %v, want ErrTooLarge", err)
	}
}

func TestFetch_NotFound(t *testing.T) {
	t.Parallel()

	srv := csvServer("nope", http.StatusNotFound)
	defer srv.Close()

	_, err := fastClient(2).Fetch(context.Background(), srv.URL, 0)
	if !errors.Is(err, ErrStatus) {
		t.Fatalf("err = %v, want ErrStatus", err)
	}
}

func TestSource_Open(t *testing.T) {
	t.Parallel()

	srv := csvServer("h\nv\n", http.StatusOK)
	defer srv.Close()

	src := NewSource(fastClient(0), srv.URL+"/data.csv")
	data, err := datasource.ReadAll(context.Background(), src, 0)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "h\nv\n" || src.Name() != "data.csv" {
		t.Fatalf("data=%q name=%q", data, src.Name())
	}
}
