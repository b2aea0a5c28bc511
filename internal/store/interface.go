package store

import (
	"context"
	"time"

	"vrac/internal/models"
)

// TokenLedger is the persistence surface the HTTP layer drives: token
// lifecycle advancement plus the read side for serving files.
type TokenLedger interface {
	CreateToken(ctx context.Context, ct CreateToken, now time.Time) (*models.Token, error)
	GetToken(ctx context.Context, path string, now time.Time) (*models.Token, error)
	InitiateUpload(ctx context.Context, tokenID int64, now time.Time) (*models.UploadSession, error)
	CreateFile(ctx context.Context, session models.UploadSession, backendType, backendData string, mimeType, name *string, now time.Time) (*models.File, error)
	FinaliseFileUpload(ctx context.Context, fileID int64, updatedData string, meta models.FileMetadata, now time.Time) error
	FinaliseTokenUpload(ctx context.Context, session models.UploadSession, now time.Time) error
	GetValidFile(ctx context.Context, path string, fileID int64, now time.Time) (*models.File, error)
	ListTokenFiles(ctx context.Context, tok *models.Token) ([]models.File, error)
	ListFileMetadata(ctx context.Context, fileIDs []int64) (map[int64]models.FileMetadata, error)
	DeleteFiles(ctx context.Context, fileIDs []int64) error
}

// RetentionLedger is the persistence surface the sweeper drives.
//
// Intentionally separate from TokenLedger: the sweeper never advances a
// token's lifecycle, it only reclaims what already expired.
type RetentionLedger interface {
	GetFilesToDelete(ctx context.Context, now time.Time) ([]models.File, error)
	DeleteFiles(ctx context.Context, fileIDs []int64) error
	DeleteExpiredTokens(ctx context.Context, now time.Time) ([]DeletedToken, error)
}

// AccountStore is consumed by the authentication collaborator.
type AccountStore interface {
	GetAccount(ctx context.Context, username string) (*models.Account, error)
	CreateAccount(ctx context.Context, username, phc string) (*models.Account, error)
	ListAccounts(ctx context.Context) ([]models.Account, error)
}

var _ TokenLedger = (*Store)(nil)
var _ RetentionLedger = (*Store)(nil)
var _ AccountStore = (*Store)(nil)
