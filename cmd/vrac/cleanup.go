package main

import (
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"vrac/internal/cleanup"
	"vrac/internal/config"
	"vrac/internal/store"
)

func newCleanupCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Run one retention sweep and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.Default()

			st, err := store.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer st.Close()

			backends, err := buildRegistry(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}

			sweeper := cleanup.New(st, backends, cfg.Cleanup.Interval, logger)
			return sweeper.Cycle(cmd.Context(), time.Now())
		},
	}
}
