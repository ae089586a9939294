package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"datasets/internal/dataset"
	"datasets/internal/datasource"
	"datasets/internal/ingest"
	"datasets/internal/transformer"
)

var errServer = errors.New("server error")

// multipart form fields stay in memory up to this size.
const formMemory = 8 << 20

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

func statusFor(kind string) int {
	switch kind {
	case ingest.KindMalformedInput, ingest.KindInvalidOperation, ingest.KindInvalidArgument:
		return http.StatusBadRequest
	case ingest.KindUnknownColumn, ingest.KindDuplicateColumn:
		return http.StatusUnprocessableEntity
	case ingest.KindNotFound:
		return http.StatusNotFound
	case ingest.KindConflict:
		return http.StatusConflict
	case ingest.KindTooLarge:
		return http.StatusRequestEntityTooLarge
	case ingest.KindUpstream:
		return http.StatusBadGateway
	case ingest.KindStorage, ingest.KindCanceled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, detail string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Kind: kind, Detail: detail}})
}

// fail maps err to a status and error body.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := ingest.Kind(err)
	status := statusFor(kind)
	if status >= 500 {
		s.log.Error().Err(err).Str("kind", kind).Str("path", r.URL.Path).Msg("request failed")
	}
	writeError(w, status, kind, err.Error())
}

func badRequest(w http.ResponseWriter, format string, args ...any) {
	writeError(w, http.StatusBadRequest, ingest.KindInvalidArgument, fmt.Sprintf(format, args...))
}

// paging reads skip and limit. limit defaults to DefaultLimit and is capped
// at MaxLimit.
func paging(r *http.Request) (skip, limit int, err error) {
	q := r.URL.Query()
	limit = DefaultLimit
	if v := q.Get("skip"); v != "" {
		if skip, err = strconv.Atoi(v); err != nil || skip < 0 {
			return 0, 0, fmt.Errorf("skip must be a non-negative integer, got %q", v)
		}
	}
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			return 0, 0, fmt.Errorf("limit must be a non-negative integer, got %q", v)
		}
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return skip, limit, nil
}

// etag changes on every committed mutation: the version covers metadata-only
// edits and the checksum covers the rows.
func etag(d *dataset.Dataset) string {
	return fmt.Sprintf(`"%s-%d"`, d.Checksum, d.Version)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	// room for the other form fields and multipart framing
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+formMemory)
	if err := r.ParseMultipartForm(formMemory); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeError(w, http.StatusRequestEntityTooLarge, ingest.KindTooLarge, err.Error())
			return
		}
		badRequest(w, "bad multipart form: %v", err)
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	f, hdr, err := r.FormFile("file")
	if err != nil {
		badRequest(w, "missing file field: %v", err)
		return
	}
	defer f.Close()
	data, err := datasource.ReadLimited(f, s.cfg.MaxUploadBytes)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	d, err := s.svc.Ingest(r.Context(), ingest.Upload{
		Data:        data,
		Filename:    hdr.Filename,
		Name:        r.FormValue("name"),
		Description: r.FormValue("description"),
		Source:      r.FormValue("source"),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/datasets/"+d.ID)
	w.Header().Set("ETag", etag(d))
	writeJSON(w, http.StatusCreated, d)
}

type importBody struct {
	URL         string `json:"url"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Source      string `json:"source"`
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var body importBody
	if err := decodeJSON(r, &body); err != nil {
		badRequest(w, "%v", err)
		return
	}
	d, err := s.svc.Import(r.Context(), ingest.ImportRequest(body))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/datasets/"+d.ID)
	w.Header().Set("ETag", etag(d))
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	skip, limit, err := paging(r)
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	page, err := s.svc.Search(r.Context(), strings.TrimSpace(r.URL.Query().Get("q")), skip, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	d, err := s.svc.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	tag := etag(d)
	w.Header().Set("ETag", tag)
	if match := r.Header.Get("If-None-Match"); match != "" && match == tag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var patch dataset.Patch
	if err := decodeJSON(r, &patch); err != nil {
		badRequest(w, "%v", err)
		return
	}
	d, err := s.svc.Update(r.Context(), mux.Vars(r)["id"], patch)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("ETag", etag(d))
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type processBody struct {
	Operations json.RawMessage `json:"operations"`
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var body processBody
	if err := decodeJSON(r, &body); err != nil {
		badRequest(w, "%v", err)
		return
	}
	if len(body.Operations) == 0 {
		badRequest(w, "operations is required")
		return
	}
	ops, err := transformer.DecodeOperations(body.Operations)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	d, err := s.svc.Process(r.Context(), mux.Vars(r)["id"], ops)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("ETag", etag(d))
	writeJSON(w, http.StatusOK, d)
}

type rowsPage struct {
	Rows  []dataset.Row `json:"rows"`
	Skip  int           `json:"skip"`
	Limit int           `json:"limit"`
}

func (s *Server) handleRows(w http.ResponseWriter, r *http.Request) {
	skip, limit, err := paging(r)
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	rows, err := s.svc.Rows(r.Context(), mux.Vars(r)["id"], skip, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rowsPage{Rows: rows, Skip: skip, Limit: limit})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
