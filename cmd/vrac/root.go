package main

import (
	"github.com/spf13/cobra"

	"vrac/internal/config"
)

func newRootCmd() *cobra.Command {
	var configPath string
	var logLevel string
	cfg := &config.Config{}

	cmd := &cobra.Command{
		Use:          "vrac",
		Short:        "Vrac serves single-use, path-addressed file upload links",
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			*cfg = *loaded
			return configureLogger(logLevel)
		},
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to TOML config file (default $VRAC_CONFIG)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")

	cmd.AddCommand(
		newSrvCmd(cfg),
		newMigrateCmd(cfg),
		newCleanupCmd(cfg),
		newUserCmd(cfg),
	)

	return cmd
}
