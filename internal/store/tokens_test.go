package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"vrac/internal/models"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "vrac.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustCreateToken(t *testing.T, s *Store, path string, now time.Time) *models.Token {
	t.Helper()
	hours := int64(24)
	tok, err := s.CreateToken(context.Background(), CreateToken{
		Path:                     path,
		ValidUntil:               now.Add(time.Hour),
		ContentExpiresAfterHours: &hours,
		BackendType:              "local_fs",
	}, now)
	if err != nil {
		t.Fatalf("CreateToken(%q): %v", path, err)
	}
	return tok
}

func TestCreateTokenRejectsLivePath(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	now := time.Now()

	mustCreateToken(t, s, "report", now)

	_, err := s.CreateToken(ctx, CreateToken{
		Path:        "report",
		ValidUntil:  now.Add(time.Hour),
		BackendType: "local_fs",
	}, now)
	if !errors.Is(err, ErrTokenExists) {
		t.Fatalf("expected ErrTokenExists, got %v", err)
	}
}

func TestCreateTokenReusesExpiredPath(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	now := time.Now()

	_, err := s.CreateToken(ctx, CreateToken{
		Path:        "report",
		ValidUntil:  now.Add(time.Hour),
		BackendType: "local_fs",
	}, now)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	// Once the first token is past its upload deadline the path frees up.
	later := now.Add(2 * time.Hour)
	tok, err := s.CreateToken(ctx, CreateToken{
		Path:        "report",
		ValidUntil:  later.Add(time.Hour),
		BackendType: "local_fs",
	}, later)
	if err != nil {
		t.Fatalf("CreateToken after expiry: %v", err)
	}
	got, err := s.GetToken(ctx, "report", later)
	if err != nil {
		t.Fatalf("GetToken: %v", err)
	}
	if got == nil || got.ID != tok.ID {
		t.Errorf("live token at path is %+v, want id %d", got, tok.ID)
	}
}

func TestGetTokenReturnsNilWhenGone(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	now := time.Now()

	if tok, err := s.GetToken(ctx, "missing", now); err != nil || tok != nil {
		t.Fatalf("GetToken(missing) = %v, %v", tok, err)
	}

	mustCreateToken(t, s, "report", now)
	if tok, err := s.GetToken(ctx, "report", now.Add(2*time.Hour)); err != nil || tok != nil {
		t.Fatalf("GetToken past valid_until = %v, %v", tok, err)
	}
}

func TestInitiateUploadBumpsCounter(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	now := time.Now()
	tok := mustCreateToken(t, s, "report", now)

	first, err := s.InitiateUpload(ctx, tok.ID, now)
	if err != nil {
		t.Fatalf("InitiateUpload: %v", err)
	}
	if first.AttemptCounter != 1 {
		t.Errorf("first attempt counter = %d", first.AttemptCounter)
	}

	second, err := s.InitiateUpload(ctx, tok.ID, now)
	if err != nil {
		t.Fatalf("second InitiateUpload: %v", err)
	}
	if second.AttemptCounter != 2 {
		t.Errorf("second attempt counter = %d", second.AttemptCounter)
	}
}

func TestInitiateUploadRejectsNonFresh(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	now := time.Now()
	tok := mustCreateToken(t, s, "report", now)

	if _, err := s.InitiateUpload(ctx, tok.ID, now.Add(2*time.Hour)); !errors.Is(err, ErrNoTokenFound) {
		t.Fatalf("expired token: expected ErrNoTokenFound, got %v", err)
	}

	session, err := s.InitiateUpload(ctx, tok.ID, now)
	if err != nil {
		t.Fatalf("InitiateUpload: %v", err)
	}
	if err := s.FinaliseTokenUpload(ctx, *session, now); err != nil {
		t.Fatalf("FinaliseTokenUpload: %v", err)
	}

	if _, err := s.InitiateUpload(ctx, tok.ID, now); !errors.Is(err, ErrNoTokenFound) {
		t.Fatalf("used token: expected ErrNoTokenFound, got %v", err)
	}
}

func TestFinaliseTokenUploadSetsRetention(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	now := time.Now()
	tok := mustCreateToken(t, s, "report", now)

	session, err := s.InitiateUpload(ctx, tok.ID, now)
	if err != nil {
		t.Fatalf("InitiateUpload: %v", err)
	}
	if err := s.FinaliseTokenUpload(ctx, *session, now); err != nil {
		t.Fatalf("FinaliseTokenUpload: %v", err)
	}

	got, err := s.GetToken(ctx, "report", now)
	if err != nil {
		t.Fatalf("GetToken: %v", err)
	}
	if got == nil || got.UsedAt == nil {
		t.Fatal("token should be marked used")
	}
	if models.Classify(got, now) != models.StateUsed {
		t.Errorf("state = %v", models.Classify(got, now))
	}
	if got.ContentExpiresAt == nil {
		t.Fatal("retention deadline missing")
	}
	want := now.Add(24 * time.Hour)
	if d := got.ContentExpiresAt.Sub(want); d > time.Second || d < -time.Second {
		t.Errorf("content_expires_at = %v, want about %v", got.ContentExpiresAt, want)
	}
}

func TestFinaliseTokenUploadIgnoresStaleAttempt(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	now := time.Now()
	tok := mustCreateToken(t, s, "report", now)

	stale, err := s.InitiateUpload(ctx, tok.ID, now)
	if err != nil {
		t.Fatalf("InitiateUpload: %v", err)
	}
	if _, err := s.InitiateUpload(ctx, tok.ID, now); err != nil {
		t.Fatalf("second InitiateUpload: %v", err)
	}

	// The counter moved on, so the slow attempt's finalise must not win.
	if err := s.FinaliseTokenUpload(ctx, *stale, now); err != nil {
		t.Fatalf("FinaliseTokenUpload: %v", err)
	}
	got, err := s.GetToken(ctx, "report", now)
	if err != nil {
		t.Fatalf("GetToken: %v", err)
	}
	if got == nil || got.UsedAt != nil {
		t.Fatalf("token %+v should still be unused", got)
	}
}

func TestDeleteExpiredTokens(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	now := time.Now()

	abandoned := mustCreateToken(t, s, "abandoned", now)
	used := mustCreateToken(t, s, "used", now)
	fresh := mustCreateToken(t, s, "fresh", now)

	session, err := s.InitiateUpload(ctx, used.ID, now)
	if err != nil {
		t.Fatalf("InitiateUpload: %v", err)
	}
	if err := s.FinaliseTokenUpload(ctx, *session, now); err != nil {
		t.Fatalf("FinaliseTokenUpload: %v", err)
	}

	// Nothing qualifies yet.
	deleted, err := s.DeleteExpiredTokens(ctx, now)
	if err != nil {
		t.Fatalf("DeleteExpiredTokens: %v", err)
	}
	if len(deleted) != 0 {
		t.Fatalf("deleted %v too early", deleted)
	}

	// Past valid_until the abandoned token goes; the used token survives
	// until its retention runs out.
	later := now.Add(2 * time.Hour)
	deleted, err = s.DeleteExpiredTokens(ctx, later)
	if err != nil {
		t.Fatalf("DeleteExpiredTokens: %v", err)
	}
	if len(deleted) != 2 {
		t.Fatalf("deleted %v, want abandoned and fresh", deleted)
	}
	for _, d := range deleted {
		if d.ID != abandoned.ID && d.ID != fresh.ID {
			t.Errorf("unexpected deletion %+v", d)
		}
	}

	// Past retention the used token goes too.
	deleted, err = s.DeleteExpiredTokens(ctx, now.Add(25*time.Hour))
	if err != nil {
		t.Fatalf("DeleteExpiredTokens: %v", err)
	}
	if len(deleted) != 1 || deleted[0].ID != used.ID {
		t.Fatalf("deleted %v, want token %d", deleted, used.ID)
	}
}
