package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

const correlationHeader = "X-Correlation-Id"

// CorrelationLogger returns a child logger carrying the request's
// correlation id and, when known, the acting user.
func CorrelationLogger(logger *slog.Logger, corrID, actorID string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	if actorID == "" {
		return logger.With("corrId", corrID)
	}
	return logger.With("corrId", corrID, "actorId", actorID)
}

// correlation assigns a correlation id when the caller sent none. The id is
// written back onto the request so later middleware and handlers read it
// from the same header.
func correlation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corrID := r.Header.Get(correlationHeader)
		if corrID == "" || len(corrID) > 128 {
			corrID = uuid.NewString()
			r.Header.Set(correlationHeader, corrID)
		}
		w.Header().Set(correlationHeader, corrID)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		level := slog.LevelInfo
		if ww.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		CorrelationLogger(s.logger, r.Header.Get(correlationHeader), "").Log(r.Context(), level, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		)
	})
}
