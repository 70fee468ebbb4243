// Package embed defines the embedding provider boundary. The clustering core
// never computes embeddings itself; ingestion calls a Provider and attaches
// the vector to each item before assignment.
package embed

import (
	"context"
	"errors"
)

// ErrUnavailable indicates the embedding provider failed. The core performs
// no automatic retry; backoff policy belongs to the ingestion caller, which
// knows the provider's rate limits.
var ErrUnavailable = errors.New("embedding provider unavailable")

// Provider converts text into a fixed-length vector.
type Provider interface {
	// Embed returns the embedding for the text, or an error wrapping
	// ErrUnavailable if the provider cannot serve the request.
	Embed(ctx context.Context, text string) ([]float64, error)

	// Dimensions reports the vector length this provider produces.
	Dimensions() int
}
