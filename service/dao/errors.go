package dao

import "errors"

// Sentinel errors shared by every store implementation, so callers detect
// conditions with errors.Is instead of string comparison.
var (
	// ErrNotFound is returned when the requested entity is absent from
	// the underlying storage.
	ErrNotFound = errors.New("dao: not found")

	// ErrInvalidID marks an empty or otherwise unusable key.
	ErrInvalidID = errors.New("dao: invalid id")

	// ErrNilEntity is returned on an attempt to persist a nil pointer.
	ErrNilEntity = errors.New("dao: nil entity")
)
