package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"datasets/internal/dataset"
	"datasets/internal/ingest"
	"datasets/internal/retry"
	"datasets/internal/storage"
	_ "datasets/internal/storage/sqlite"
	"datasets/internal/transformer"
)

func newTestServer(t *testing.T, opts ...Option) *httptest.Server {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "api.db") + "?_pragma=busy_timeout(5000)"
	st, err := storage.New(context.Background(), storage.Config{Kind: "sqlite", DSN: dsn})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	t.Cleanup(st.Close)
	svc := ingest.New(st, ingest.Config{
		MaxUploadBytes: 1 << 20,
		OpTimeout:      5 * time.Second,
		Read:           retry.Policy{Attempts: 2, Initial: time.Millisecond},
	})
	srv := httptest.NewServer(NewServer(Config{MaxUploadBytes: 1 << 20}, svc, opts...).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func upload(t *testing.T, base, name, csv string) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "data.csv")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	_, _ = io.WriteString(fw, csv)
	_ = mw.WriteField("name", name)
	_ = mw.WriteField("description", "uploaded in a test")
	if err := mw.Close(); err != nil {
		t.Fatalf("multipart close: %v", err)
	}
	resp, err := http.Post(base+"/datasets/upload", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("POST upload: %v", err)
	}
	return resp
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode %T: %v", v, err)
	}
	return v
}

func wantStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, want %d; body=%s", resp.StatusCode, want, b)
	}
}

func TestAPI_Lifecycle(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)

	resp := upload(t, srv.URL, "people", "name,age\nJane,\nBob,30\n")
	wantStatus(t, resp, http.StatusCreated)
	tag := resp.Header.Get("ETag")
	created := decode[dataset.Dataset](t, resp)
	if created.TotalRows != 2 || created.Name != "people" || tag != fmt.Sprintf(`"%s-1"`, created.Checksum) {
		t.Fatalf("created = %+v, etag %s", created, tag)
	}
	item := srv.URL + "/datasets/" + created.ID

	// conditional GET
	req, _ := http.NewRequest(http.MethodGet, item, nil)
	req.Header.Set("If-None-Match", tag)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	wantStatus(t, resp, http.StatusNotModified)

	resp = do(t, http.MethodPost, item+"/process",
		`{"operations":[{"type":"drop_na","columns":["age"]},{"type":"rename_columns","rename_dict":{"name":"full_name"}}]}`)
	wantStatus(t, resp, http.StatusOK)
	processed := decode[dataset.Dataset](t, resp)
	if processed.TotalRows != 1 || processed.Columns[0] != "full_name" || processed.Version != 2 {
		t.Fatalf("processed = %+v", processed)
	}

	resp = do(t, http.MethodGet, item+"/rows?limit=10", "")
	wantStatus(t, resp, http.StatusOK)
	rows := decode[rowsPage](t, resp)
	if len(rows.Rows) != 1 || rows.Limit != 10 {
		t.Fatalf("rows = %+v", rows)
	}
	if v, _ := rows.Rows[0].Get("full_name"); v.String() != "Bob" {
		t.Fatalf("row = %v", rows.Rows[0])
	}

	resp = do(t, http.MethodPatch, item, `{"description":"cleaned"}`)
	wantStatus(t, resp, http.StatusOK)
	if d := decode[dataset.Dataset](t, resp); d.Description != "cleaned" || d.Version != 3 {
		t.Fatalf("patched = %+v", d)
	}

	resp = do(t, http.MethodGet, srv.URL+"/datasets?q=PEO", "")
	wantStatus(t, resp, http.StatusOK)
	if page := decode[ingest.Page](t, resp); page.Total != 1 || len(page.Datasets) != 1 || page.Limit != DefaultLimit {
		t.Fatalf("page = %+v", page)
	}

	resp = do(t, http.MethodDelete, item, "")
	resp.Body.Close()
	wantStatus(t, resp, http.StatusNoContent)

	resp = do(t, http.MethodGet, item, "")
	wantStatus(t, resp, http.StatusNotFound)
	if body := decode[errorBody](t, resp); body.Error.Kind != ingest.KindNotFound {
		t.Fatalf("error body = %+v", body)
	}
}

func conditionalGet(t *testing.T, url, tag string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("If-None-Match", tag)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	return resp
}

func TestAPI_ETagChangesOnEveryMutation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		csv    string
		method string
		path   string
		body   string
		check  func(d dataset.Dataset) bool
	}{
		{
			name:   "patch_name_only",
			csv:    "name,age\nJane,\nBob,30\n",
			method: http.MethodPatch,
			body:   `{"name":"renamed"}`,
			check:  func(d dataset.Dataset) bool { return d.Name == "renamed" },
		},
		{
			name:   "process_without_rows",
			csv:    "a,b\n",
			method: http.MethodPost,
			path:   "/process",
			body:   `{"operations":[{"type":"drop_columns","columns":["b"]}]}`,
			check:  func(d dataset.Dataset) bool { return len(d.Columns) == 1 && d.Columns[0] == "a" },
		},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			srv := newTestServer(t)

			resp := upload(t, srv.URL, "tagged", c.csv)
			wantStatus(t, resp, http.StatusCreated)
			oldTag := resp.Header.Get("ETag")
			created := decode[dataset.Dataset](t, resp)
			item := srv.URL + "/datasets/" + created.ID

			resp = do(t, c.method, item+c.path, c.body)
			wantStatus(t, resp, http.StatusOK)
			newTag := resp.Header.Get("ETag")
			changed := decode[dataset.Dataset](t, resp)
			if !c.check(changed) {
				t.Fatalf("mutated = %+v", changed)
			}
			if changed.Checksum != created.Checksum {
				t.Fatalf("checksum = %s, want unchanged %s", changed.Checksum, created.Checksum)
			}
			if newTag == oldTag {
				t.Fatalf("ETag = %s after mutation, want a new tag", newTag)
			}

			resp = conditionalGet(t, item, oldTag)
			wantStatus(t, resp, http.StatusOK)
			if got := decode[dataset.Dataset](t, resp); !c.check(got) {
				t.Fatalf("GET with stale tag = %+v", got)
			}

			resp = conditionalGet(t, item, newTag)
			resp.Body.Close()
			wantStatus(t, resp, http.StatusNotModified)
		})
	}
}

func TestAPI_ErrorMapping(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	resp := upload(t, srv.URL, "base", "a,b\n1,\n")
	wantStatus(t, resp, http.StatusCreated)
	d := decode[dataset.Dataset](t, resp)
	item := srv.URL + "/datasets/" + d.ID

	cases := []struct {
		name, method, url, body string
		status                  int
		kind                    string
	}{
		{"unknown_op", http.MethodPost, item + "/process", `{"operations":[{"type":"explode"}]}`, 400, ingest.KindInvalidOperation},
		{"missing_ops", http.MethodPost, item + "/process", `{}`, 400, ingest.KindInvalidArgument},
		{"unknown_column", http.MethodPost, item + "/process", `{"operations":[{"type":"drop_na","columns":["zzz"]}]}`, 422, ingest.KindUnknownColumn},
		{"duplicate_column", http.MethodPost, item + "/process", `{"operations":[{"type":"rename_columns","rename_dict":{"a":"b"}}]}`, 422, ingest.KindDuplicateColumn},
		{"bad_paging", http.MethodGet, srv.URL + "/datasets?skip=-1", "", 400, ingest.KindInvalidArgument},
		{"unknown_patch_field", http.MethodPatch, item, `{"columns":["x"]}`, 400, ingest.KindInvalidArgument},
		{"blank_name", http.MethodPatch, item, `{"name":"  "}`, 400, ingest.KindInvalidArgument},
		{"missing_dataset", http.MethodGet, srv.URL + "/datasets/" + storage.NewID(), "", 404, ingest.KindNotFound},
		{"no_route", http.MethodGet, srv.URL + "/nope", "", 404, ingest.KindNotFound},
		{"bad_method", http.MethodPut, item, `{}`, 405, ingest.KindInvalidArgument},
		{"import_disabled", http.MethodPost, srv.URL + "/datasets/import", `{"url":"http://x","name":"x"}`, 502, ingest.KindUpstream},
	}
	for _, c := range cases {
		resp := do(t, c.method, c.url, c.body)
		if resp.StatusCode != c.status {
			b, _ := io.ReadAll(resp.Body)
			t.Fatalf("%s: status = %d, want %d; body=%s", c.name, resp.StatusCode, c.status, b)
		}
		if body := decode[errorBody](t, resp); body.Error.Kind != c.kind {
			t.Fatalf("%s: kind = %q, want %q", c.name, body.Error.Kind, c.kind)
		}
	}

	resp = upload(t, srv.URL, "bad", "a\n1,2\n")
	wantStatus(t, resp, http.StatusBadRequest)
	if body := decode[errorBody](t, resp); body.Error.Kind != ingest.KindMalformedInput {
		t.Fatalf("malformed upload kind = %q", body.Error.Kind)
	}

	resp = upload(t, srv.URL, "", "a\n1\n")
	wantStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestAPI_UploadTooLarge(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	resp := upload(t, srv.URL, "big", "a\n"+strings.Repeat("x\n", 1<<20))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", resp.StatusCode)
	}
}

func TestAPI_HealthAndMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	probe := prometheus.NewCounter(prometheus.CounterOpts{Name: "probe_total", Help: "test"})
	reg.MustRegister(probe)
	probe.Inc()

	srv := newTestServer(t, WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	resp := do(t, http.MethodGet, srv.URL+"/healthz", "")
	wantStatus(t, resp, http.StatusOK)
	if body := decode[map[string]string](t, resp); body["status"] != "ok" {
		t.Fatalf("healthz = %v", body)
	}

	resp = do(t, http.MethodGet, srv.URL+"/metrics", "")
	wantStatus(t, resp, http.StatusOK)
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(b), "probe_total 1") {
		t.Fatalf("metrics body missing counter:\n%s", b)
	}
}

// stubService fails every call with err.
type stubService struct{ err error }

func (s stubService) Ingest(context.Context, ingest.Upload) (*dataset.Dataset, error) {
	return nil, s.err
}

func (s stubService) Import(context.Context, ingest.ImportRequest) (*dataset.Dataset, error) {
	return nil, s.err
}

func (s stubService) Process(context.Context, string, []transformer.Operation) (*dataset.Dataset, error) {
	return nil, s.err
}

func (s stubService) Get(context.Context, string) (*dataset.Dataset, error) {
	return nil, s.err
}

func (s stubService) Search(context.Context, string, int, int) (ingest.Page, error) {
	return ingest.Page{}, s.err
}

func (s stubService) Update(context.Context, string, dataset.Patch) (*dataset.Dataset, error) {
	return nil, s.err
}

func (s stubService) Delete(context.Context, string) error { return s.err }

func (s stubService) Rows(context.Context, string, int, int) ([]dataset.Row, error) {
	return nil, s.err
}

func (s stubService) Ping(context.Context) error { return s.err }

func TestAPI_StatusForServiceErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("commit: %w", storage.ErrConflict), http.StatusConflict},
		{&storage.Error{Op: "get", Err: errors.New("conn reset")}, http.StatusServiceUnavailable},
		{errors.New("bug"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		h := NewServer(Config{}, stubService{err: c.err}).Handler()
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/datasets/"+storage.NewID(), nil))
		if rec.Code != c.status {
			t.Fatalf("%v: status = %d, want %d", c.err, rec.Code, c.status)
		}

		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("healthz with failing ping = %d", rec.Code)
		}
	}
}

func TestPaging(t *testing.T) {
	t.Parallel()

	cases := []struct {
		query       string
		skip, limit int
		wantErr     bool
	}{
		{"", 0, DefaultLimit, false},
		{"skip=5&limit=0", 5, 0, false},
		{"limit=999999", 0, MaxLimit, false},
		{"skip=x", 0, 0, true},
		{"limit=-3", 0, 0, true},
	}
	for _, c := range cases {
		r := httptest.NewRequest(http.MethodGet, "/datasets?"+c.query, nil)
		skip, limit, err := paging(r)
		if (err != nil) != c.wantErr {
			t.Fatalf("paging(%q) err = %v, wantErr %v", c.query, err, c.wantErr)
		}
		if !c.wantErr && (skip != c.skip || limit != c.limit) {
			t.Fatalf("paging(%q) = %d,%d, want %d,%d", c.query, skip, limit, c.skip, c.limit)
		}
	}
}
