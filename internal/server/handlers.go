package server

import (
	"errors"
	"net/http"
)

// writeError logs the failure and renders the plain error page. Internal
// details never reach the client.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	if err == nil {
		err = errors.New(http.StatusText(status))
	}

	fields := []any{"status", status, "error", err}
	if r != nil {
		fields = append(fields, "method", r.Method, "path", r.URL.Path, "remote_addr", r.RemoteAddr)
	}

	message := err.Error()
	switch {
	case status >= 500:
		s.log().Error("request error", fields...)
		message = "internal error"
	case status >= 400:
		s.log().Warn("request rejected", fields...)
	}

	http.Error(w, message, status)
}

// renderNotFound serves the shared "no link here" page. Every dead path
// looks identical so URLs cannot be probed for past or future tokens.
func (s *Server) renderNotFound(w http.ResponseWriter, r *http.Request) {
	s.renderPage(w, r, http.StatusNotFound, "not_found.html", nil)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}
