package vaultregistry

import "errors"

var (
	// ErrConflict is returned when a registry invariant (unique name,
	// unique id) would be violated.
	ErrConflict = errors.New("vaultregistry: conflict")

	// ErrNotFound is returned when a name or id has no registered vault.
	ErrNotFound = errors.New("vaultregistry: not found")
)
