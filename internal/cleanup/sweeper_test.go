package cleanup

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"vrac/internal/blobstore"
	"vrac/internal/models"
	"vrac/internal/store"
)

func testFixtures(t *testing.T) (*store.Store, *blobstore.LocalFS) {
	t.Helper()
	dir := t.TempDir()

	st, err := store.Open(filepath.Join(dir, "vrac.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	local, err := blobstore.NewLocalFS(filepath.Join(dir, "blobs"), nil)
	if err != nil {
		t.Fatalf("local backend: %v", err)
	}
	return st, local
}

// uploadFile walks a token through a one-file upload and returns the file.
func uploadFile(t *testing.T, st *store.Store, local *blobstore.LocalFS, path string, now time.Time) *models.File {
	t.Helper()
	ctx := context.Background()

	hours := int64(24)
	tok, err := st.CreateToken(ctx, store.CreateToken{
		Path:                     path,
		ValidUntil:               now.Add(time.Hour),
		ContentExpiresAfterHours: &hours,
		BackendType:              local.Identifier(),
	}, now)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	session, err := st.InitiateUpload(ctx, tok.ID, now)
	if err != nil {
		t.Fatalf("InitiateUpload: %v", err)
	}

	handle, locator, err := local.BeginWrite(ctx, blobstore.UploadInit{
		TokenID:        session.TokenID,
		AttemptCounter: session.AttemptCounter,
		FileIndex:      1,
	})
	if err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	if _, err := io.WriteString(handle, "blob content"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := handle.Finish(ctx); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	file, err := st.CreateFile(ctx, *session, local.Identifier(), locator, nil, nil, now)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	size := int64(len("blob content"))
	if err := st.FinaliseFileUpload(ctx, file.ID, "", models.FileMetadata{FileID: file.ID, SizeB: &size}, now); err != nil {
		t.Fatalf("FinaliseFileUpload: %v", err)
	}
	if err := st.FinaliseTokenUpload(ctx, *session, now); err != nil {
		t.Fatalf("FinaliseTokenUpload: %v", err)
	}
	return file
}

func TestCycleReclaimsExpiredContent(t *testing.T) {
	ctx := context.Background()
	st, local := testFixtures(t)
	now := time.Now()

	file := uploadFile(t, st, local, "report", now)
	sweeper := New(st, blobstore.NewRegistry(local), time.Hour, nil)

	// Nothing is due yet.
	if err := sweeper.Cycle(ctx, now); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if _, err := local.OpenRead(ctx, file.BackendData); err != nil {
		t.Fatalf("blob deleted too early: %v", err)
	}

	// Past retention everything goes: blob, file row, token row.
	later := now.Add(25 * time.Hour)
	if err := sweeper.Cycle(ctx, later); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if _, err := local.OpenRead(ctx, file.BackendData); err == nil {
		t.Error("blob survived the sweep")
	}
	doomed, err := st.GetFilesToDelete(ctx, later)
	if err != nil {
		t.Fatalf("GetFilesToDelete: %v", err)
	}
	if len(doomed) != 0 {
		t.Errorf("file rows survived the sweep: %+v", doomed)
	}
	tok, err := st.GetToken(ctx, "report", now)
	if err != nil {
		t.Fatalf("GetToken: %v", err)
	}
	if tok != nil {
		t.Errorf("token row survived the sweep: %+v", tok)
	}
}

// failingBackend claims the local identifier but refuses deletes.
type failingBackend struct {
	*blobstore.LocalFS
}

func (f *failingBackend) Delete(context.Context, string) error {
	return errors.New("backend unavailable")
}

func TestCycleKeepsRowsOnFailedDeletes(t *testing.T) {
	ctx := context.Background()
	st, local := testFixtures(t)
	now := time.Now()

	uploadFile(t, st, local, "report", now)

	failing := &failingBackend{LocalFS: local}
	sweeper := New(st, blobstore.NewRegistry(failing), time.Hour, nil)

	later := now.Add(25 * time.Hour)
	if err := sweeper.Cycle(ctx, later); err != nil {
		t.Fatalf("Cycle: %v", err)
	}

	// The row must survive so the next cycle can retry, and the token row
	// must stay as long as its files do.
	doomed, err := st.GetFilesToDelete(ctx, later)
	if err != nil {
		t.Fatalf("GetFilesToDelete: %v", err)
	}
	if len(doomed) != 1 {
		t.Fatalf("file rows after failed sweep: %+v", doomed)
	}

	// Once the backend recovers the retry succeeds.
	sweeper = New(st, blobstore.NewRegistry(local), time.Hour, nil)
	if err := sweeper.Cycle(ctx, later); err != nil {
		t.Fatalf("retry Cycle: %v", err)
	}
	doomed, err = st.GetFilesToDelete(ctx, later)
	if err != nil {
		t.Fatalf("GetFilesToDelete: %v", err)
	}
	if len(doomed) != 0 {
		t.Errorf("file rows after retry: %+v", doomed)
	}
}

func TestCycleSkipsUnknownBackend(t *testing.T) {
	ctx := context.Background()
	st, local := testFixtures(t)
	now := time.Now()

	uploadFile(t, st, local, "report", now)

	// No backend registered at all: rows and blobs must stay untouched.
	sweeper := New(st, blobstore.NewRegistry(), time.Hour, nil)
	later := now.Add(25 * time.Hour)
	if err := sweeper.Cycle(ctx, later); err != nil {
		t.Fatalf("Cycle: %v", err)
	}

	doomed, err := st.GetFilesToDelete(ctx, later)
	if err != nil {
		t.Fatalf("GetFilesToDelete: %v", err)
	}
	if len(doomed) != 1 {
		t.Fatalf("file rows after sweep without backend: %+v", doomed)
	}
}
