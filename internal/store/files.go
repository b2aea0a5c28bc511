package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"vrac/internal/models"
)

const fileColumns = "id, token_id, attempt_counter, mime_type, name, backend_type, backend_data, created_at, completed_at"

// CreateFile inserts an uncommitted file row stamped with the session's
// attempt counter. The row must exist before any bytes are streamed so a
// cancelled upload is always attributable and sweepable.
func (s *Store) CreateFile(ctx context.Context, session models.UploadSession, backendType, backendData string, mimeType, name *string, now time.Time) (*models.File, error) {
	created := now.UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO file (token_id, attempt_counter, mime_type, name, backend_type, backend_data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, session.TokenID, session.AttemptCounter, nullString(mimeType), nullString(name), backendType, backendData, formatTime(created))
	if err != nil {
		return nil, fmt.Errorf("cannot create file for token %d: %w", session.TokenID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("cannot create file for token %d: %w", session.TokenID, err)
	}

	return &models.File{
		ID:             id,
		TokenID:        session.TokenID,
		AttemptCounter: session.AttemptCounter,
		MimeType:       mimeType,
		Name:           name,
		BackendType:    backendType,
		BackendData:    backendData,
		CreatedAt:      created,
	}, nil
}

// FinaliseFileUpload marks the file completed and records its metadata in
// one transaction. An empty updatedData keeps the locator persisted at
// creation; backends that only know the final locator after the write pass
// the replacement here.
func (s *Store) FinaliseFileUpload(ctx context.Context, fileID int64, updatedData string, meta models.FileMetadata, now time.Time) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cannot finalise file %d: %w", fileID, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if updatedData != "" {
		if _, err := tx.ExecContext(ctx, `UPDATE file SET backend_data = ?, completed_at = ? WHERE id = ?`, updatedData, formatTime(now), fileID); err != nil {
			return fmt.Errorf("cannot finalise file %d: %w", fileID, err)
		}
	} else {
		if _, err := tx.ExecContext(ctx, `UPDATE file SET completed_at = ? WHERE id = ?`, formatTime(now), fileID); err != nil {
			return fmt.Errorf("cannot finalise file %d: %w", fileID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO file_metadata (file_id, size_b, mime_type) VALUES (?, ?, ?)`,
		fileID, nullInt(meta.SizeB), nullString(meta.MimeType)); err != nil {
		return fmt.Errorf("cannot finalise file %d: %w", fileID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("cannot finalise file %d: %w", fileID, err)
	}
	return nil
}

// GetValidFile returns the file only when it is servable: completed, and
// its token is Used at now (not deleted, retention still running).
func (s *Store) GetValidFile(ctx context.Context, path string, fileID int64, now time.Time) (*models.File, error) {
	tok, err := s.GetToken(ctx, path, now)
	if err != nil {
		return nil, err
	}
	if models.Classify(tok, now) != models.StateUsed {
		return nil, nil
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+fileColumns+` FROM file
		WHERE id = ? AND token_id = ? AND completed_at IS NOT NULL
	`, fileID, tok.ID)
	file, err := scanFile(row)
	if err != nil {
		return nil, fmt.Errorf("cannot look up file %d for path %q: %w", fileID, path, err)
	}
	return file, nil
}

// ListTokenFiles lists the completed files of the token's current attempt,
// oldest first. Files from superseded attempts are orphans and excluded.
func (s *Store) ListTokenFiles(ctx context.Context, tok *models.Token) ([]models.File, error) {
	if tok == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+fileColumns+` FROM file
		WHERE token_id = ? AND attempt_counter = ? AND completed_at IS NOT NULL
		ORDER BY id ASC
	`, tok.ID, tok.AttemptCounter)
	if err != nil {
		return nil, fmt.Errorf("cannot list files for token %d: %w", tok.ID, err)
	}
	defer rows.Close()

	files := []models.File{}
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("cannot list files for token %d: %w", tok.ID, err)
		}
		if file != nil {
			files = append(files, *file)
		}
	}
	return files, rows.Err()
}

// ListFileMetadata returns metadata rows keyed by file id.
func (s *Store) ListFileMetadata(ctx context.Context, fileIDs []int64) (map[int64]models.FileMetadata, error) {
	if len(fileIDs) == 0 {
		return map[int64]models.FileMetadata{}, nil
	}
	args := make([]any, 0, len(fileIDs))
	for _, id := range fileIDs {
		args = append(args, id)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT file_id, size_b, mime_type FROM file_metadata WHERE file_id IN (`+placeholders(len(args))+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("cannot list file metadata: %w", err)
	}
	defer rows.Close()

	out := map[int64]models.FileMetadata{}
	for rows.Next() {
		var meta models.FileMetadata
		var size sql.NullInt64
		var mime sql.NullString
		if err := rows.Scan(&meta.FileID, &size, &mime); err != nil {
			return nil, fmt.Errorf("cannot list file metadata: %w", err)
		}
		if size.Valid {
			meta.SizeB = &size.Int64
		}
		if mime.Valid {
			meta.MimeType = &mime.String
		}
		out[meta.FileID] = meta
	}
	return out, rows.Err()
}

// GetFilesToDelete returns every file eligible for reclamation at now:
// retention passed, orphaned by a superseded attempt, or belonging to an
// abandoned token. Completion state does not matter here.
func (s *Store) GetFilesToDelete(ctx context.Context, now time.Time) ([]models.File, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.id, f.token_id, f.attempt_counter, f.mime_type, f.name, f.backend_type, f.backend_data, f.created_at, f.completed_at,
		       t.attempt_counter, t.valid_until, t.used_at, t.content_expires_at
		FROM file f
		JOIN token t ON t.id = f.token_id
	`)
	if err != nil {
		return nil, fmt.Errorf("cannot list files to delete: %w", err)
	}
	defer rows.Close()

	var doomed []models.File
	for rows.Next() {
		var file models.File
		var mime, name sql.NullString
		var fileCreated string
		var fileCompleted sql.NullString
		var tokenAttempt int64
		var tokenValidUntil string
		var tokenUsedAt, tokenContentExpires sql.NullString

		err := rows.Scan(
			&file.ID, &file.TokenID, &file.AttemptCounter, &mime, &name,
			&file.BackendType, &file.BackendData, &fileCreated, &fileCompleted,
			&tokenAttempt, &tokenValidUntil, &tokenUsedAt, &tokenContentExpires,
		)
		if err != nil {
			return nil, fmt.Errorf("cannot list files to delete: %w", err)
		}
		if mime.Valid {
			file.MimeType = &mime.String
		}
		if name.Valid {
			file.Name = &name.String
		}
		if file.CreatedAt, err = parseTime(fileCreated); err != nil {
			return nil, fmt.Errorf("cannot list files to delete: %w", err)
		}
		if fileCompleted.Valid {
			completed, err := parseTime(fileCompleted.String)
			if err != nil {
				return nil, fmt.Errorf("cannot list files to delete: %w", err)
			}
			file.CompletedAt = &completed
		}

		validUntil, err := parseTime(tokenValidUntil)
		if err != nil {
			return nil, fmt.Errorf("cannot list files to delete: %w", err)
		}

		// Retention deadline passed.
		if tokenContentExpires.Valid {
			expires, err := parseTime(tokenContentExpires.String)
			if err != nil {
				return nil, fmt.Errorf("cannot list files to delete: %w", err)
			}
			if !expires.After(now) {
				doomed = append(doomed, file)
				continue
			}
		}
		// Orphan from a superseded attempt.
		if tokenAttempt > file.AttemptCounter {
			doomed = append(doomed, file)
			continue
		}
		// Abandoned token: never finalised and past its upload deadline.
		if !tokenUsedAt.Valid && !validUntil.After(now) {
			doomed = append(doomed, file)
		}
	}
	return doomed, rows.Err()
}

// DeleteFiles removes the file rows and their metadata in one transaction.
func (s *Store) DeleteFiles(ctx context.Context, fileIDs []int64) (err error) {
	if len(fileIDs) == 0 {
		return nil
	}

	args := make([]any, 0, len(fileIDs))
	for _, id := range fileIDs {
		args = append(args, id)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cannot delete files: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM file_metadata WHERE file_id IN (`+placeholders(len(args))+`)`, args...); err != nil {
		return fmt.Errorf("cannot delete files: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM file WHERE id IN (`+placeholders(len(args))+`)`, args...); err != nil {
		return fmt.Errorf("cannot delete files: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("cannot delete files: %w", err)
	}
	return nil
}

func scanFile(scanner interface {
	Scan(dest ...any) error
}) (*models.File, error) {
	file := models.File{}

	var mime, name sql.NullString
	var createdAt string
	var completedAt sql.NullString

	err := scanner.Scan(
		&file.ID,
		&file.TokenID,
		&file.AttemptCounter,
		&mime,
		&name,
		&file.BackendType,
		&file.BackendData,
		&createdAt,
		&completedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	if mime.Valid {
		file.MimeType = &mime.String
	}
	if name.Valid {
		file.Name = &name.String
	}
	if file.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if completedAt.Valid {
		completed, err := parseTime(completedAt.String)
		if err != nil {
			return nil, err
		}
		file.CompletedAt = &completed
	}

	return &file, nil
}
