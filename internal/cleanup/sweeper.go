package cleanup

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"vrac/internal/blobstore"
	"vrac/internal/models"
	"vrac/internal/store"
)

// Sweeper reclaims expired content in the background: blobs first, then
// the file rows of successfully deleted blobs, then expired token rows.
type Sweeper struct {
	ledger   store.RetentionLedger
	backends *blobstore.Registry
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a sweeper that runs a cycle every interval.
func New(ledger store.RetentionLedger, backends *blobstore.Registry, interval time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		ledger:   ledger,
		backends: backends,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Run executes cycles until the context is cancelled. A failed cycle is
// logged and the loop keeps going; whatever was missed is retried next
// interval.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("retention sweeper started", "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.Cycle(ctx, s.now()); err != nil {
			s.logger.Error("retention sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			s.logger.Info("retention sweeper stopped")
			return
		case <-ticker.C:
		}
	}
}

// Cycle runs one sweep at the given instant. Blob deletions fan out
// concurrently and fail independently: rows are only removed for blobs
// that were actually deleted, so a failed backend call leaves the pair
// behind for the next cycle instead of orphaning the blob.
func (s *Sweeper) Cycle(ctx context.Context, now time.Time) error {
	files, err := s.ledger.GetFilesToDelete(ctx, now)
	if err != nil {
		return err
	}

	if len(files) > 0 {
		results := make([]bool, len(files))
		var wg sync.WaitGroup
		for i := range files {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				results[idx] = s.deleteBlob(ctx, idx, files)
			}(i)
		}
		wg.Wait()

		var swept []int64
		tokens := map[int64]struct{}{}
		for i, ok := range results {
			if !ok {
				continue
			}
			swept = append(swept, files[i].ID)
			tokens[files[i].TokenID] = struct{}{}
		}
		if len(swept) > 0 {
			if err := s.ledger.DeleteFiles(ctx, swept); err != nil {
				return err
			}
			s.logger.Info("swept expired files", "files", len(swept), "tokens", len(tokens))
		}
		if len(swept) < len(files) {
			s.logger.Warn("some blobs could not be deleted, keeping their rows", "failed", len(files)-len(swept))
		}
	}

	deleted, err := s.ledger.DeleteExpiredTokens(ctx, now)
	if err != nil {
		return err
	}
	for _, d := range deleted {
		s.logger.Info("deleted expired token", "token_id", d.ID, "path", d.Path)
	}
	return nil
}

func (s *Sweeper) deleteBlob(ctx context.Context, idx int, files []models.File) bool {
	file := &files[idx]
	backend, err := s.backends.Lookup(file.BackendType)
	if err != nil {
		// A backend removed from the deployment; the row stays until it
		// is configured again or removed by hand.
		s.logger.Error("cannot sweep file", "file_id", file.ID, "error", err)
		return false
	}
	if err := backend.Delete(ctx, file.BackendData); err != nil {
		s.logger.Error("cannot delete blob", "file_id", file.ID, "backend", file.BackendType, "error", err)
		return false
	}
	return true
}
