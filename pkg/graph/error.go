package graph

import "errors"

var (
	// ErrNotFound is returned when an entity or node is absent.
	ErrNotFound = errors.New("graph node not found")

	// ErrUnavailable is returned when the backing graph store is
	// unreachable. Retrieval treats it as a degraded signal.
	ErrUnavailable = errors.New("graph store unavailable")
)
