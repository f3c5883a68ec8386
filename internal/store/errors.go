// Package store persists daemon state as atomic JSON documents and
// append-only JSON-lines files under a single data root.
package store

import "errors"

// Sentinel errors for store operations.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrAlreadyExists indicates a record with the same ID already exists.
	ErrAlreadyExists = errors.New("store: already exists")

	// ErrImmutable indicates an attempt to rewrite a write-once file.
	ErrImmutable = errors.New("store: file is immutable")

	// ErrInvalid indicates a record that fails validation.
	ErrInvalid = errors.New("store: invalid record")
)
