package cluster

import "errors"

var (
	// ErrInvalidEmbedding is returned when an item's embedding is missing,
	// has the wrong dimensionality, or has zero norm. The item is rejected
	// before any state is touched.
	ErrInvalidEmbedding = errors.New("invalid embedding")

	// ErrClusterNotFound is returned when an operation references a cluster
	// id that does not exist (for example one already retired by a merge).
	// Callers should re-resolve the id and retry.
	ErrClusterNotFound = errors.New("cluster not found")
)
