package vector

import "errors"

var (
	// ErrNotFound is returned when a document is not found in the index.
	ErrNotFound = errors.New("document not found")

	// ErrDimensionMismatch is returned when an embedding does not match
	// the index's configured dimensionality.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrUnavailable is returned when the backing index is unreachable.
	// Retrieval treats it as a degraded signal, not a fatal error.
	ErrUnavailable = errors.New("vector index unavailable")
)
