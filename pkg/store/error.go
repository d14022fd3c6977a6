package store

import "errors"

var (
	// ErrNotFound is returned when an item does not exist in the store.
	ErrNotFound = errors.New("item not found")

	// ErrAlreadyExists is returned when inserting an id that is taken.
	ErrAlreadyExists = errors.New("item already exists")

	// ErrStaleVersion is returned by UpdateCAS when the caller's snapshot
	// is out of date. Callers re-read and retry, never blind-write.
	ErrStaleVersion = errors.New("stale item version")

	// ErrLockHeld is returned when a lease is already held on a key.
	// Lock contention is expected, not exceptional: callers skip the key.
	ErrLockHeld = errors.New("lock held by another worker")
)
