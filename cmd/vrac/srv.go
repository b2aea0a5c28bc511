package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"vrac/internal/cleanup"
	"vrac/internal/config"
	"vrac/internal/server"
	"vrac/internal/store"
)

const shutdownTimeout = 10 * time.Second

func newSrvCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "srv",
		Short: "Run the vrac server with the retention sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.Default()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger.Info("opening database", "path", cfg.DBPath)
			st, err := store.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer st.Close()

			backends, err := buildRegistry(ctx, cfg, logger)
			if err != nil {
				return err
			}

			sweeper := cleanup.New(st, backends, cfg.Cleanup.Interval, logger.With("component", "cleanup"))
			go sweeper.Run(ctx)

			srv := server.New(cfg, st, st, backends, logger.With("component", "server"))

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}

			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}
