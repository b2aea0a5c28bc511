package models

import "time"

// TokenState is the derived lifecycle classification of a token at a point
// in time. It is never stored; Classify computes it from the row's fields.
type TokenState int

const (
	// StateGone covers every non-servable situation: soft-deleted, never
	// used and past valid_until, or used and past content_expires_at.
	// Callers treat it the same as an absent row.
	StateGone TokenState = iota
	// StateFresh means the token can still receive an upload.
	StateFresh
	// StateUsed means an upload completed and the content is still retained.
	StateUsed
)

func (s TokenState) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StateUsed:
		return "used"
	default:
		return "gone"
	}
}

// Token is one generated upload link.
type Token struct {
	ID                       int64      `json:"id"`
	Path                     string     `json:"path"`
	MaxSizeMiB               *int64     `json:"max_size_mib,omitempty"`
	ValidUntil               time.Time  `json:"valid_until"`
	CreatedAt                time.Time  `json:"created_at"`
	ContentExpiresAfterHours *int64     `json:"content_expires_after_hours,omitempty"`
	DeletedAt                *time.Time `json:"deleted_at,omitempty"`
	AttemptCounter           int64      `json:"attempt_counter"`
	UsedAt                   *time.Time `json:"used_at,omitempty"`
	ContentExpiresAt         *time.Time `json:"content_expires_at,omitempty"`
	BackendType              string     `json:"backend_type"`
}

// Classify derives the lifecycle state of tok at instant now.
//
// All liveness branching in the codebase goes through here so the predicate
// is written exactly once:
//
//	fresh: deleted_at IS NULL AND used_at IS NULL AND valid_until > now
//	used:  deleted_at IS NULL AND used_at IS NOT NULL
//	       AND (content_expires_at IS NULL OR content_expires_at > now)
func Classify(tok *Token, now time.Time) TokenState {
	if tok == nil || tok.DeletedAt != nil {
		return StateGone
	}
	if tok.UsedAt == nil {
		if tok.ValidUntil.After(now) {
			return StateFresh
		}
		return StateGone
	}
	if tok.ContentExpiresAt == nil || tok.ContentExpiresAt.After(now) {
		return StateUsed
	}
	return StateGone
}

// UploadSession is the handle returned by InitiateUpload. It pins the
// attempt counter the caller obtained; FinaliseTokenUpload only succeeds
// while that counter is still the token's current one.
type UploadSession struct {
	TokenID                  int64
	TokenPath                string
	AttemptCounter           int64
	ContentExpiresAfterHours *int64
}

// ContentExpiry computes the absolute retention deadline for an upload
// finalised at now. Nil means the content never expires.
func (s UploadSession) ContentExpiry(now time.Time) *time.Time {
	if s.ContentExpiresAfterHours == nil {
		return nil
	}
	t := now.UTC().Add(time.Duration(*s.ContentExpiresAfterHours) * time.Hour)
	return &t
}
