package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"datasets/internal/metrics"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// logRequests writes one access line per request and records its latency.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r.WithContext(s.log.WithContext(r.Context())))
		if rec.status == 0 {
			rec.status = http.StatusOK
		}

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		d := time.Since(start)
		var failed error
		if rec.status >= 500 {
			failed = errServer
		}
		metrics.RecordStep("http", r.Method+" "+route, failed, d)

		ev := s.log.Info()
		if rec.status >= 500 {
			ev = s.log.Error()
		} else if rec.status >= 400 {
			ev = s.log.Warn()
		}
		ev.Str("method", r.Method).Str("route", route).Str("path", r.URL.Path).
			Int("status", rec.status).Int("bytes", rec.bytes).Dur("elapsed", d).Msg("request")
	})
}
