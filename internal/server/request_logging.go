package server

import (
	"net/http"
	"time"
)

type loggingResponseWriter struct {
	http.ResponseWriter
	status int
}

func (w *loggingResponseWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *loggingResponseWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(p)
}

func (w *loggingResponseWriter) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

// Flush must pass through so blob downloads stream instead of buffering.
func (w *loggingResponseWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (s *Server) withRequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rw := &loggingResponseWriter{ResponseWriter: w}
		next.ServeHTTP(rw, r)

		fields := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", r.RemoteAddr,
		}
		if r.Pattern != "" {
			fields = append(fields, "route", r.Pattern)
		}

		switch {
		case rw.Status() >= 500:
			s.log().Error("request complete", fields...)
		case rw.Status() >= 400:
			s.log().Warn("request complete", fields...)
		default:
			s.log().Info("request complete", fields...)
		}
	})
}
