package server

import (
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/conneroisu/hotssr/internal/ssr"
)

// recoverer turns a panic into the same opaque 500 the SSR handler sends.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			s.logger.Error(r.Context(), fmt.Errorf("panic: %v", rec), "Panic recovered",
				"method", r.Method,
				"url", r.URL.RequestURI(),
				"stack", string(debug.Stack()),
			)

			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = io.WriteString(w, ssr.ErrorBody)
		}()

		next.ServeHTTP(w, r)
	})
}

// requestLogger logs one line per request. Dev asset requests are logged at
// debug level.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		fields := []interface{}{
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
			"request_id", middleware.GetReqID(r.Context()),
			"ip", r.RemoteAddr,
		}

		quiet := strings.HasPrefix(r.URL.Path, "/@dev/") ||
			(isAsset(r.URL.Path) && status < http.StatusInternalServerError)
		if quiet {
			s.logger.Debug(r.Context(), "request", fields...)
			return
		}
		s.logger.Info(r.Context(), "request", fields...)
	})
}

// isAsset reports whether the last path segment has an extension.
func isAsset(path string) bool {
	i := strings.LastIndexByte(path, '/')
	return strings.Contains(path[i+1:], ".")
}
