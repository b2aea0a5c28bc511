package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"vrac/internal/blobstore"
	"vrac/internal/config"
	"vrac/internal/store"
)

const (
	readHeaderTimeout = 5 * time.Second
	// Read and write timeouts stay generous: uploads and downloads of
	// large blobs legitimately take minutes.
	readTimeout  = 30 * time.Minute
	writeTimeout = 30 * time.Minute
	idleTimeout  = 60 * time.Second
)

// Server wraps the HTTP handlers for token generation, uploads and
// downloads.
type Server struct {
	addr     string
	ledger   store.TokenLedger
	accounts store.AccountStore
	backends *blobstore.Registry
	cfg      *config.Config
	uploads  *UploadService
	logger   *slog.Logger
	now      func() time.Time

	httpServer *http.Server
}

// New creates a new server instance.
func New(cfg *config.Config, ledger store.TokenLedger, accounts store.AccountStore, backends *blobstore.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		addr:     cfg.ListenAddr,
		ledger:   ledger,
		accounts: accounts,
		backends: backends,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
	s.uploads = NewUploadService(ledger, backends, logger)
	return s
}

// ListenAndServe starts the HTTP server and blocks until it stops.
func (s *Server) ListenAndServe() error {
	s.log().Info("starting server", "addr", s.addr)
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the routed handler, exposed for tests.
func (s *Server) Handler() http.Handler {
	return s.withRequestLogging(s.routes())
}

func (s *Server) log() *slog.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return slog.Default()
}
