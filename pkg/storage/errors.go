package storage

import "errors"

// Sentinel errors returned by the storage layer's repositories and caches.
var (
	// ErrNotFound is returned when a requested unit, ball or output is not
	// present in either the cache or its DB fallback.
	ErrNotFound = errors.New("storage: entity not found")

	// ErrJointNotFound is returned when a unit has no joint blob in the KV
	// store.
	ErrJointNotFound = errors.New("storage: joint not found")

	// ErrArchived is returned when a lookup resolves to a unit that has been
	// archived (removed or voided) rather than surfacing it as merely
	// absent — callers must be able to distinguish "never existed" from
	// "existed, then archived" regardless of archival reason.
	ErrArchived = errors.New("storage: unit is archived")

	// ErrAlreadyExists is returned by insert-only repository calls when the
	// primary key is already present.
	ErrAlreadyExists = errors.New("storage: entity already exists")
)
