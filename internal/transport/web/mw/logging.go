package mw

import (
	"log"
	"net/http"
	"time"
)

// Recorder — приёмник метрик запросов (реализация в internal/metrics)
type Recorder interface {
	Request(method, route string, status int, d time.Duration)
}

// Logging — middleware: финиш запроса, статус, размер, длительность.
// route берётся из шаблона ServeMux, чтобы не раздувать кардинальность метрик.
func Logging(l *log.Logger, rec Recorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := RequestIDFromCtx(r.Context())
			start := time.Now()

			mw := &metaWriter{ResponseWriter: w}

			next.ServeHTTP(mw, r)

			dur := time.Since(start)
			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			l.Printf("lvl=info req_id=%s method=%s path=%q route=%q status=%d size=%d duration_ms=%d",
				reqID, r.Method, r.URL.Path, route, mw.code(), mw.size, dur.Milliseconds())
			if rec != nil {
				rec.Request(r.Method, route, mw.code(), dur)
			}
		})
	}
}
