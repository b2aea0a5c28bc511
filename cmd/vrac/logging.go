package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

const logLevelEnvKey = "VRAC_LOG_LEVEL"

// configureLogger installs the default slog logger. The flag wins over
// the environment; an empty selection means info.
func configureLogger(flagLevel string) error {
	raw := strings.TrimSpace(flagLevel)
	if raw == "" {
		raw = strings.TrimSpace(os.Getenv(logLevelEnvKey))
	}

	level := slog.LevelInfo
	if raw != "" {
		if strings.EqualFold(raw, "warning") {
			raw = "warn"
		}
		if err := level.UnmarshalText([]byte(raw)); err != nil {
			return fmt.Errorf("invalid log level %q", raw)
		}
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return nil
}
