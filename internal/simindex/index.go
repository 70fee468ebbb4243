// Package simindex maintains the centroid lookup table used by the clustering
// engine. It is a read-mostly cache over the authoritative cluster records:
// the engine upserts an entry whenever a centroid changes and removes entries
// when a merge retires a cluster id.
package simindex

import (
	"math"
	"sync"
)

// Match is the result of a nearest-centroid query.
type Match struct {
	ClusterID int64   // Best-matching cluster
	Score     float64 // Cosine similarity, -1.0 to 1.0
}

// Index is an exact nearest-centroid index over cluster centroids.
//
// Lookup is a linear cosine scan. That is deliberate: the engine's
// threshold decision requires the true best match, and an approximate
// structure (HNSW, IVF) would silently degrade cluster quality by
// sometimes missing the nearest centroid. Swap in ANN only with a recall
// guarantee strong enough to keep the threshold decision deterministic.
type Index struct {
	mu      sync.RWMutex
	entries map[int64][]float64
	norms   map[int64]float64
	epsilon float64
}

// New creates an empty index. epsilon is the similarity tie window: entries
// scoring within epsilon of the best are considered tied and the lowest
// cluster id wins, making queries reproducible across runs.
func New(epsilon float64) *Index {
	return &Index{
		entries: make(map[int64][]float64),
		norms:   make(map[int64]float64),
		epsilon: epsilon,
	}
}

// Upsert inserts or replaces the centroid for a cluster. Idempotent: the same
// (id, centroid) pair applied twice leaves the index in the same state. The
// centroid slice is copied so later mutation by the caller cannot corrupt
// the index.
func (ix *Index) Upsert(clusterID int64, centroid []float64) {
	c := make([]float64, len(centroid))
	copy(c, centroid)

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.entries[clusterID] = c
	ix.norms[clusterID] = norm(c)
}

// Remove deletes an entry. Removing an absent id is a no-op.
func (ix *Index) Remove(clusterID int64) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.entries, clusterID)
	delete(ix.norms, clusterID)
}

// Len returns the number of indexed centroids.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// QueryNearest returns the single best match for the query embedding, or
// ok=false if the index is empty. Ties within the epsilon window resolve to
// the lowest cluster id. Score is always the true best score, not the tied
// winner's own, so threshold comparisons against it stay exact even when the
// winner sits epsilon below the best.
func (ix *Index) QueryNearest(embedding []float64) (Match, bool) {
	qn := norm(embedding)

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if len(ix.entries) == 0 || qn == 0 {
		return Match{}, false
	}

	// First pass: the true best score.
	bestScore := -2.0
	for id, centroid := range ix.entries {
		s := cosine(embedding, qn, centroid, ix.norms[id])
		if s > bestScore {
			bestScore = s
		}
	}

	// Second pass: lowest id within the tie window of the best score.
	best := Match{ClusterID: -1, Score: bestScore}
	for id, centroid := range ix.entries {
		s := cosine(embedding, qn, centroid, ix.norms[id])
		if s >= bestScore-ix.epsilon && (best.ClusterID < 0 || id < best.ClusterID) {
			best.ClusterID = id
		}
	}

	return best, true
}

// cosine computes cosine similarity given precomputed norms. Mismatched
// dimensions or zero norms score 0 (orthogonal), which can never clear a
// positive join threshold.
func cosine(a []float64, na float64, b []float64, nb float64) float64 {
	if len(a) != len(b) || na == 0 || nb == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += a[i] * b[i]
	}
	return dot / (na * nb)
}

func norm(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}
