package models

import "time"

// File is one uploaded blob belonging to a token. BackendData is the
// backend-opaque locator, serialized; the store never inspects it.
type File struct {
	ID             int64      `json:"id"`
	TokenID        int64      `json:"token_id"`
	AttemptCounter int64      `json:"attempt_counter"`
	MimeType       *string    `json:"mime_type,omitempty"`
	Name           *string    `json:"name,omitempty"`
	BackendType    string     `json:"backend_type"`
	BackendData    string     `json:"-"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// FileMetadata is written in the same transaction that marks a file
// completed; a completed file always has its metadata row and vice versa.
type FileMetadata struct {
	FileID   int64   `json:"file_id"`
	SizeB    *int64  `json:"size_b,omitempty"`
	MimeType *string `json:"mime_type,omitempty"`
}
