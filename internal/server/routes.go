package server

import (
	"net/http"
)

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	// Token generation is the only admin surface.
	mux.Handle("GET /gen", s.requireAdmin(http.HandlerFunc(s.handleGenForm)))
	mux.Handle("POST /gen", s.requireAdmin(http.HandlerFunc(s.handleGenCreate)))

	// Upload and download share one path namespace.
	mux.HandleFunc("GET /f/{path}", s.handleTokenPage)
	mux.HandleFunc("POST /f/{path}", s.handleUpload)
	mux.HandleFunc("GET /f/{path}/{fileID}", s.handleDownload)

	redirectGen := func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/gen", http.StatusTemporaryRedirect)
	}
	mux.HandleFunc("GET /f", redirectGen)
	mux.HandleFunc("GET /{$}", redirectGen)

	return mux
}
