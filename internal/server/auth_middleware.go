package server

import (
	"net/http"

	"vrac/internal/auth"
)

// requireAdmin guards a handler with HTTP basic auth against the account
// table.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if ok {
			valid, err := auth.CheckCredentials(r.Context(), s.accounts, username, password)
			if err != nil {
				s.writeError(w, r, http.StatusInternalServerError, err)
				return
			}
			if valid {
				next.ServeHTTP(w, r)
				return
			}
		}

		w.Header().Set("WWW-Authenticate", `Basic realm="vrac", charset="UTF-8"`)
		s.writeError(w, r, http.StatusUnauthorized, nil)
	})
}
