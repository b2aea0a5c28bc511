package blobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// LocalIdentifier is the backend_type tag for filesystem storage.
const LocalIdentifier = "local_fs"

// localLocatorVersion is bumped if the on-disk layout ever changes, so
// old locators stay decodable.
const localLocatorVersion = 0

type localLocator struct {
	Path    string `json:"path"`
	Version int    `json:"version"`
}

// LocalFS stores blobs as flat files under a single root directory.
type LocalFS struct {
	root   string
	logger *slog.Logger
}

// NewLocalFS creates the root directory if needed and returns the backend.
func NewLocalFS(root string, logger *slog.Logger) (*LocalFS, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve storage root %s: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create storage root %s: %w", abs, err)
	}
	return &LocalFS{root: abs, logger: logger}, nil
}

func (b *LocalFS) Identifier() string {
	return LocalIdentifier
}

func (b *LocalFS) BeginWrite(_ context.Context, init UploadInit) (WriteHandle, string, error) {
	path := filepath.Join(b.root, blobName(init))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, "", fmt.Errorf("cannot create blob file %s: %w", path, err)
	}
	locator, err := json.Marshal(localLocator{Path: path, Version: localLocatorVersion})
	if err != nil {
		f.Close()
		return nil, "", fmt.Errorf("cannot encode locator: %w", err)
	}
	return &localWriteHandle{f: f, path: path}, string(locator), nil
}

func (b *LocalFS) OpenRead(_ context.Context, locator string) (io.ReadCloser, error) {
	loc, err := decodeLocalLocator(locator)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(loc.Path)
	if err != nil {
		return nil, fmt.Errorf("cannot open blob file %s: %w", loc.Path, err)
	}
	return f, nil
}

func (b *LocalFS) Delete(_ context.Context, locator string) error {
	loc, err := decodeLocalLocator(locator)
	if err != nil {
		return err
	}
	if err := os.Remove(loc.Path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			b.logger.Warn("blob file already gone", "path", loc.Path)
			return nil
		}
		return fmt.Errorf("cannot delete blob file %s: %w", loc.Path, err)
	}
	return nil
}

func decodeLocalLocator(locator string) (localLocator, error) {
	var loc localLocator
	if err := json.Unmarshal([]byte(locator), &loc); err != nil {
		return loc, fmt.Errorf("cannot decode local locator: %w", err)
	}
	if loc.Version != localLocatorVersion {
		return loc, fmt.Errorf("unsupported local locator version %d", loc.Version)
	}
	return loc, nil
}

type localWriteHandle struct {
	f    *os.File
	path string
}

func (h *localWriteHandle) Write(p []byte) (int, error) {
	return h.f.Write(p)
}

func (h *localWriteHandle) Finish(_ context.Context) (string, error) {
	if err := h.f.Sync(); err != nil {
		h.f.Close()
		return "", fmt.Errorf("cannot sync blob file %s: %w", h.path, err)
	}
	if err := h.f.Close(); err != nil {
		return "", fmt.Errorf("cannot close blob file %s: %w", h.path, err)
	}
	return "", nil
}

func (h *localWriteHandle) Abort() {
	h.f.Close()
}
