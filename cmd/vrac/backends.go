package main

import (
	"context"
	"fmt"
	"log/slog"

	"vrac/internal/blobstore"
	"vrac/internal/config"
)

// buildRegistry constructs every enabled blob backend from the config.
func buildRegistry(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*blobstore.Registry, error) {
	var backends []blobstore.Backend

	if cfg.Storage.Local.Enabled {
		local, err := blobstore.NewLocalFS(cfg.Storage.Local.Root, logger)
		if err != nil {
			return nil, fmt.Errorf("local storage: %w", err)
		}
		backends = append(backends, local)
	}

	if cfg.Storage.S3.Enabled {
		s3Backend, err := blobstore.NewS3(ctx, blobstore.S3Options{
			Endpoint:        cfg.Storage.S3.Endpoint,
			Region:          cfg.Storage.S3.Region,
			Bucket:          cfg.Storage.S3.Bucket,
			AccessKeyID:     cfg.Storage.S3.AccessKeyID,
			SecretAccessKey: cfg.Storage.S3.SecretAccessKey,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("s3 storage: %w", err)
		}
		backends = append(backends, s3Backend)
	}

	return blobstore.NewRegistry(backends...), nil
}
