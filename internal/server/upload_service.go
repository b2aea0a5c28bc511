package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"time"

	"vrac/internal/blobstore"
	"vrac/internal/models"
	"vrac/internal/store"
)

// UploadService drives one multipart upload through the token lifecycle:
// bump the attempt counter, stream each field into the blob backend with
// its ledger row created first, then consume the token.
type UploadService struct {
	ledger   store.TokenLedger
	backends *blobstore.Registry
	logger   *slog.Logger
}

// NewUploadService creates the upload orchestrator.
func NewUploadService(ledger store.TokenLedger, backends *blobstore.Registry, logger *slog.Logger) *UploadService {
	if logger == nil {
		logger = slog.Default()
	}
	return &UploadService{ledger: ledger, backends: backends, logger: logger}
}

// HandleUpload consumes the multipart stream for a token that classified
// Fresh. A request carrying zero bytes overall leaves the token fresh; a
// field carrying zero bytes is discarded without trace. Failures mid-stream
// return early and leave rows and blobs behind for the retention sweep.
func (u *UploadService) HandleUpload(ctx context.Context, tok *models.Token, mr *multipart.Reader, now time.Time) error {
	session, err := u.ledger.InitiateUpload(ctx, tok.ID, now)
	if err != nil {
		return err
	}
	backend, err := u.backends.Lookup(tok.BackendType)
	if err != nil {
		return err
	}

	var totalBytes int64
	fileIndex := 0
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("cannot read multipart field: %w", err)
		}
		fileIndex++

		copied, err := u.streamField(ctx, backend, session, part, fileIndex, now)
		part.Close()
		if err != nil {
			return err
		}
		totalBytes += copied
	}

	if totalBytes == 0 {
		u.logger.Info("no bytes uploaded, token stays fresh", "token_id", tok.ID, "path", tok.Path)
		return nil
	}

	if err := u.ledger.FinaliseTokenUpload(ctx, *session, now); err != nil {
		return err
	}
	u.logger.Info("upload complete", "token_id", tok.ID, "path", tok.Path, "files", fileIndex, "bytes", totalBytes)
	return nil
}

func (u *UploadService) streamField(ctx context.Context, backend blobstore.Backend, session *models.UploadSession, part *multipart.Part, fileIndex int, now time.Time) (int64, error) {
	var mimeType, fileName *string
	if ct := part.Header.Get("Content-Type"); ct != "" {
		mimeType = &ct
	}
	if name := part.FileName(); name != "" {
		fileName = &name
	}

	init := blobstore.UploadInit{
		TokenID:        session.TokenID,
		TokenPath:      session.TokenPath,
		FileIndex:      fileIndex,
		AttemptCounter: session.AttemptCounter,
	}
	if mimeType != nil {
		init.MimeType = *mimeType
	}
	if fileName != nil {
		init.FileName = *fileName
	}

	handle, locator, err := backend.BeginWrite(ctx, init)
	if err != nil {
		return 0, fmt.Errorf("cannot start blob write: %w", err)
	}

	// The row goes in before any byte so a crashed upload is always
	// attributable to its blob.
	file, err := u.ledger.CreateFile(ctx, *session, backend.Identifier(), locator, mimeType, fileName, now)
	if err != nil {
		handle.Abort()
		return 0, err
	}

	copied, err := io.Copy(handle, part)
	if err != nil {
		handle.Abort()
		return 0, fmt.Errorf("cannot stream file %d: %w", file.ID, err)
	}

	// Browsers submit one empty field when no file was chosen. Discard it
	// completely instead of recording an empty file.
	if copied == 0 {
		handle.Abort()
		if err := backend.Delete(ctx, locator); err != nil {
			u.logger.Warn("cannot delete empty blob", "file_id", file.ID, "error", err)
		}
		if err := u.ledger.DeleteFiles(ctx, []int64{file.ID}); err != nil {
			return 0, err
		}
		return 0, nil
	}

	updatedLocator, err := handle.Finish(ctx)
	if err != nil {
		return 0, fmt.Errorf("cannot finish blob write for file %d: %w", file.ID, err)
	}

	meta := models.FileMetadata{FileID: file.ID, SizeB: &copied, MimeType: mimeType}
	if err := u.ledger.FinaliseFileUpload(ctx, file.ID, updatedLocator, meta, now); err != nil {
		return 0, err
	}
	return copied, nil
}
