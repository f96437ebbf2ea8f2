// Package middleware holds the HTTP middleware shared by the dashsync servers.
package middleware

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Log writes one line per request. Bodies are never logged: they carry
// session tokens.
func Log(logger *zap.SugaredLogger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(lrw, r)

			logger.Infow("request",
				"method", r.Method,
				"uri", r.RequestURI,
				"origin", r.Header.Get("Origin"),
				"status", lrw.statusCode,
				"size", lrw.size,
				"duration", time.Since(start),
				"requestId", RequestIDFrom(r.Context()),
			)
		})
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	n, err := lrw.ResponseWriter.Write(b)
	lrw.size += n
	return n, err
}
