// Package middleware provides HTTP middleware for metrics collection.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nadmax/nexrun/internal/metrics"
)

var recordHTTPRequest = metrics.RecordHTTPRequest

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.wroteHeader {
		sr.status = code
		sr.wroteHeader = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	sr.wroteHeader = true
	return sr.ResponseWriter.Write(b)
}

// MetricsMiddleware records method, normalized route, status and latency of
// every request.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sr, r)

		recordHTTPRequest(r.Method, normalizeEndpoint(r.URL.Path), strconv.Itoa(sr.status), time.Since(start))
	})
}

// idRoutes maps a path prefix to the trailing segments allowed after the
// ID. An empty suffix is the bare ID route.
var idRoutes = map[string][]string{
	"/api/campaigns/": {"", "stop"},
	"/api/history/":   {""},
}

// normalizeEndpoint folds IDs out of paths to keep label cardinality bounded.
func normalizeEndpoint(path string) string {
	for prefix, suffixes := range idRoutes {
		rest, ok := strings.CutPrefix(path, prefix)
		if !ok || rest == "" {
			continue
		}

		id, action, _ := strings.Cut(rest, "/")
		if id == "" {
			return path
		}
		for _, s := range suffixes {
			if action != s {
				continue
			}
			if s == "" {
				return prefix + ":id"
			}
			return prefix + ":id/" + s
		}
		return path
	}
	return path
}
