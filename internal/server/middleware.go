package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/clean-dependency-project/ultiserve/internal/storage"
)

// StatusClientClosedRequest is logged for requests whose client went away
// before a response was written. Nothing is sent with it.
const StatusClientClosedRequest = 499

// logRequests logs every request once it completes and, when an access
// recorder is configured, persists it.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		elapsed := time.Since(start)
		status := ww.Status()
		switch {
		case status == 0 && r.Context().Err() != nil:
			status = StatusClientClosedRequest
		case status == 0:
			status = http.StatusOK
		}

		s.logger.Info("processed request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration_ms", elapsed.Milliseconds(),
		)

		if s.access == nil {
			return
		}
		access := &storage.Access{
			Method:     r.Method,
			Path:       r.URL.Path,
			Query:      r.URL.RawQuery,
			Status:     status,
			Bytes:      ww.BytesWritten(),
			DurationMs: elapsed.Milliseconds(),
			RemoteAddr: r.RemoteAddr,
			UserAgent:  r.UserAgent(),
		}
		if err := s.access.RecordAccess(context.WithoutCancel(r.Context()), access); err != nil {
			s.logger.Warn("failed to record access", "path", r.URL.Path, "error", err)
		}
	})
}
