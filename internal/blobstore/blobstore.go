package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrUnknownBackend reports a persisted backend_type with no running
// implementation, e.g. after a backend was removed from the deployment.
var ErrUnknownBackend = errors.New("unknown storage backend")

// UploadInit carries everything a backend needs to place a new blob. The
// token id, attempt counter and file index together make the destination
// unique per upload attempt, so concurrent attempts never collide.
type UploadInit struct {
	TokenID        int64
	TokenPath      string
	FileIndex      int
	AttemptCounter int64
	MimeType       string
	FileName       string
}

// WriteHandle is the byte sink for one blob being written.
type WriteHandle interface {
	io.Writer

	// Finish must be called exactly once after all bytes were written.
	// It performs backend finalization (fsync, closing a streaming
	// upload) and may return an updated locator to persist in place of
	// the one BeginWrite produced; "" keeps the original.
	Finish(ctx context.Context) (string, error)

	// Abort releases the handle without finalizing. The blob that was
	// partially written (possibly empty) stays behind; callers delete it
	// through the backend or leave it to the retention sweep.
	Abort()
}

// Backend is the capability set every storage implementation provides.
// Locators are backend-private serialized values; callers persist them
// opaquely and hand them back for reads and deletes.
type Backend interface {
	// Identifier is the stable tag persisted as backend_type.
	Identifier() string

	// BeginWrite opens a sink for a new blob and returns the locator to
	// persist before any byte is streamed.
	BeginWrite(ctx context.Context, init UploadInit) (WriteHandle, string, error)

	// OpenRead streams a previously written blob back out.
	OpenRead(ctx context.Context, locator string) (io.ReadCloser, error)

	// Delete removes the blob. Deleting an already absent object succeeds
	// silently: the sweeper may race with manual cleanup or retry after a
	// partial failure.
	Delete(ctx context.Context, locator string) error
}

// Registry dispatches on the backend_type tag stored next to each file.
type Registry struct {
	backends map[string]Backend
}

// NewRegistry builds a registry from the configured backends.
func NewRegistry(backends ...Backend) *Registry {
	m := make(map[string]Backend, len(backends))
	for _, b := range backends {
		m[b.Identifier()] = b
	}
	return &Registry{backends: m}
}

// Lookup returns the backend registered under identifier.
func (r *Registry) Lookup(identifier string) (Backend, error) {
	if r != nil {
		if b, ok := r.backends[identifier]; ok {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, identifier)
}

// blobName is the deterministic object name shared by the backends.
func blobName(init UploadInit) string {
	return fmt.Sprintf("%d_%02d_%03d", init.TokenID, init.AttemptCounter, init.FileIndex)
}
