package store

import "errors"

var (
	// ErrTokenExists reports that a live token already occupies the path.
	// Expected outcome of concurrent or repeated creation, not a failure.
	ErrTokenExists = errors.New("a live token already exists for this path")

	// ErrNoTokenFound reports that the token went stale between being
	// looked up and being acted on (consumed, expired or deleted).
	ErrNoTokenFound = errors.New("no uploadable token found")
)
