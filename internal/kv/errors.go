package kv

import "errors"

var (
	// ErrNotFound is returned when a document or attachment does not exist.
	ErrNotFound = errors.New("kv: not found")

	// ErrConflict is returned when a PutAttachment's rev does not match
	// the document's current revision.
	ErrConflict = errors.New("kv: revision conflict")
)
