package store

import "errors"

var (
	// ErrNotFound is returned when a keyed lookup has no row.
	ErrNotFound = errors.New("store: record not found")
	// ErrConflict is returned when an insert-if-absent finds the key taken.
	ErrConflict = errors.New("store: duplicate key")
)
