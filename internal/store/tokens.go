package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"vrac/internal/models"
)

const tokenColumns = "id, path, max_size_mib, valid_until, created_at, content_expires_after_hours, deleted_at, attempt_counter, used_at, content_expires_at, backend_type"

// CreateToken describes a token to be created.
type CreateToken struct {
	Path                     string
	MaxSizeMiB               *int64
	ValidUntil               time.Time
	ContentExpiresAfterHours *int64
	BackendType              string
}

// DeletedToken identifies a token row removed by DeleteExpiredTokens.
type DeletedToken struct {
	ID   int64
	Path string
}

// CreateToken inserts a new token unless a live one already occupies the
// path. The liveness re-check runs inside the same transaction as the
// insert, so two concurrent creations for one path cannot both succeed.
func (s *Store) CreateToken(ctx context.Context, ct CreateToken, now time.Time) (_ *models.Token, err error) {
	if ct.Path == "" {
		return nil, fmt.Errorf("token path is required")
	}
	if ct.BackendType == "" {
		return nil, fmt.Errorf("backend type is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("cannot create token for path %q: %w", ct.Path, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	live, err := liveToken(ctx, tx, ct.Path, now)
	if err != nil {
		return nil, fmt.Errorf("cannot create token for path %q: %w", ct.Path, err)
	}
	if live != nil {
		return nil, fmt.Errorf("path %q: %w", ct.Path, ErrTokenExists)
	}

	created := now.UTC()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO token (path, max_size_mib, valid_until, created_at, content_expires_after_hours, attempt_counter, backend_type)
		VALUES (?, ?, ?, ?, ?, 0, ?)
	`, ct.Path, nullInt(ct.MaxSizeMiB), formatTime(ct.ValidUntil), formatTime(created), nullInt(ct.ContentExpiresAfterHours), ct.BackendType)
	if err != nil {
		return nil, fmt.Errorf("cannot create token for path %q: %w", ct.Path, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("cannot create token for path %q: %w", ct.Path, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("cannot create token for path %q: %w", ct.Path, err)
	}

	return &models.Token{
		ID:                       id,
		Path:                     ct.Path,
		MaxSizeMiB:               ct.MaxSizeMiB,
		ValidUntil:               ct.ValidUntil.UTC(),
		CreatedAt:                created,
		ContentExpiresAfterHours: ct.ContentExpiresAfterHours,
		BackendType:              ct.BackendType,
	}, nil
}

// GetToken returns the live token at path, or nil when no row classifies
// as Fresh or Used at now. Callers branch on models.Classify.
func (s *Store) GetToken(ctx context.Context, path string, now time.Time) (*models.Token, error) {
	tok, err := liveToken(ctx, s.db, path, now)
	if err != nil {
		return nil, fmt.Errorf("cannot look up token for path %q: %w", path, err)
	}
	return tok, nil
}

// InitiateUpload re-checks that the token is still fresh, bumps its attempt
// counter and returns the session holding the new counter. Returns
// ErrNoTokenFound when the token was consumed, expired or deleted in the
// meantime.
func (s *Store) InitiateUpload(ctx context.Context, tokenID int64, now time.Time) (_ *models.UploadSession, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("cannot initiate upload for token %d: %w", tokenID, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	row := tx.QueryRowContext(ctx, `SELECT `+tokenColumns+` FROM token WHERE id = ?`, tokenID)
	tok, err := scanToken(row)
	if err != nil {
		return nil, fmt.Errorf("cannot initiate upload for token %d: %w", tokenID, err)
	}
	// Narrower than the liveness predicate: a Used token is still readable
	// but no longer uploadable.
	if tok == nil || models.Classify(tok, now) != models.StateFresh {
		return nil, fmt.Errorf("token %d: %w", tokenID, ErrNoTokenFound)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE token SET attempt_counter = attempt_counter + 1 WHERE id = ?`, tokenID); err != nil {
		return nil, fmt.Errorf("cannot initiate upload for token %d: %w", tokenID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("cannot initiate upload for token %d: %w", tokenID, err)
	}

	return &models.UploadSession{
		TokenID:                  tok.ID,
		TokenPath:                tok.Path,
		AttemptCounter:           tok.AttemptCounter + 1,
		ContentExpiresAfterHours: tok.ContentExpiresAfterHours,
	}, nil
}

// FinaliseTokenUpload marks the token used and stamps its retention
// deadline. The update is conditioned on the session's attempt counter; if
// a newer attempt has since bumped it, zero rows change, which is the
// intended outcome for a superseded attempt.
func (s *Store) FinaliseTokenUpload(ctx context.Context, session models.UploadSession, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE token SET used_at = ?, content_expires_at = ?
		WHERE id = ? AND attempt_counter = ? AND used_at IS NULL
	`, formatTime(now), nullTime(session.ContentExpiry(now)), session.TokenID, session.AttemptCounter)
	if err != nil {
		return fmt.Errorf("cannot finalise upload for token %d: %w", session.TokenID, err)
	}
	return nil
}

// DeleteExpiredTokens removes token rows whose retention has passed or
// that were never used and are past valid_until. Tokens that still have
// file rows are skipped so they come back next sweep once their blobs are
// gone. Returns the removed identities for logging.
func (s *Store) DeleteExpiredTokens(ctx context.Context, now time.Time) (_ []DeletedToken, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("cannot delete expired tokens: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	rows, err := tx.QueryContext(ctx, `
		SELECT `+tokenColumns+` FROM token t
		WHERE NOT EXISTS (SELECT 1 FROM file f WHERE f.token_id = t.id)
	`)
	if err != nil {
		return nil, fmt.Errorf("cannot delete expired tokens: %w", err)
	}
	defer rows.Close()

	var deleted []DeletedToken
	for rows.Next() {
		tok, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("cannot delete expired tokens: %w", err)
		}
		if tok == nil {
			continue
		}
		if tokenExpired(tok, now) {
			deleted = append(deleted, DeletedToken{ID: tok.ID, Path: tok.Path})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cannot delete expired tokens: %w", err)
	}
	if len(deleted) == 0 {
		return nil, tx.Commit()
	}

	args := make([]any, 0, len(deleted))
	for _, d := range deleted {
		args = append(args, d.ID)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM token WHERE id IN (`+placeholders(len(args))+`)`, args...); err != nil {
		return nil, fmt.Errorf("cannot delete expired tokens: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("cannot delete expired tokens: %w", err)
	}
	return deleted, nil
}

// tokenExpired reports whether the token row itself is reclaimable:
// retention passed, or abandoned before any successful upload.
func tokenExpired(tok *models.Token, now time.Time) bool {
	if tok.ContentExpiresAt != nil && !tok.ContentExpiresAt.After(now) {
		return true
	}
	if tok.UsedAt == nil && !tok.ValidUntil.After(now) {
		return true
	}
	return false
}

// liveToken scans all rows at path and returns the first one that is live
// at now. Creation enforces at most one such row, but the scan tolerates
// historical leftovers.
func liveToken(ctx context.Context, q dbtx, path string, now time.Time) (*models.Token, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+tokenColumns+` FROM token WHERE path = ? AND deleted_at IS NULL ORDER BY id DESC`, path)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		tok, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		if models.Classify(tok, now) != models.StateGone {
			return tok, nil
		}
	}
	return nil, rows.Err()
}

func scanToken(scanner interface {
	Scan(dest ...any) error
}) (*models.Token, error) {
	tok := models.Token{}

	var maxSize, expiresAfter sql.NullInt64
	var validUntil, createdAt string
	var deletedAt, usedAt, contentExpiresAt sql.NullString

	err := scanner.Scan(
		&tok.ID,
		&tok.Path,
		&maxSize,
		&validUntil,
		&createdAt,
		&expiresAfter,
		&deletedAt,
		&tok.AttemptCounter,
		&usedAt,
		&contentExpiresAt,
		&tok.BackendType,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	if maxSize.Valid {
		tok.MaxSizeMiB = &maxSize.Int64
	}
	if expiresAfter.Valid {
		tok.ContentExpiresAfterHours = &expiresAfter.Int64
	}

	if tok.ValidUntil, err = parseTime(validUntil); err != nil {
		return nil, err
	}
	if tok.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	for _, f := range []struct {
		raw  sql.NullString
		dest **time.Time
	}{
		{deletedAt, &tok.DeletedAt},
		{usedAt, &tok.UsedAt},
		{contentExpiresAt, &tok.ContentExpiresAt},
	} {
		if !f.raw.Valid {
			continue
		}
		parsed, err := parseTime(f.raw.String)
		if err != nil {
			return nil, err
		}
		*f.dest = &parsed
	}

	return &tok, nil
}
