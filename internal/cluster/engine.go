// Package cluster implements incremental narrative clustering: each incoming
// content item either joins the nearest existing cluster or seeds a new one,
// and a periodic sweep merges clusters whose centroids have drifted together.
//
// All state lives in memory behind a single mutex. Assignments and merges are
// serialized through it so two near-simultaneous items can never both decide
// "no match" and create duplicate clusters for the same emerging narrative.
// Read paths return deep-copied snapshots taken under the same mutex.
package cluster

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"narrascope/internal/core"
	"narrascope/internal/simindex"
)

// Config holds the clustering parameters.
type Config struct {
	Dimensions     int     // Required embedding dimensionality
	Threshold      float64 // Minimum cosine similarity to join an existing cluster (inclusive)
	MergeThreshold float64 // Minimum centroid similarity for the merge sweep (inclusive)
	Epsilon        float64 // Tie window for nearest-centroid queries
}

// DefaultConfig returns the standard clustering parameters: 768-dim Gemini
// embeddings, 0.75 join threshold, 0.90 merge threshold.
func DefaultConfig() Config {
	return Config{
		Dimensions:     768,
		Threshold:      0.75,
		MergeThreshold: 0.90,
		Epsilon:        1e-9,
	}
}

// Engine assigns content items to narrative clusters.
type Engine struct {
	mu  sync.Mutex
	cfg Config

	index    *simindex.Index
	clusters map[int64]*core.NarrativeCluster
	items    map[string]core.ContentItem // members, keyed by item id
	owner    map[string]int64            // item id -> owning cluster id
	aliases  map[int64]int64             // retired cluster id -> survivor
	nextID   int64
}

// New creates an empty engine with the given configuration.
func New(cfg Config) *Engine {
	return &Engine{
		cfg:      cfg,
		index:    simindex.New(cfg.Epsilon),
		clusters: make(map[int64]*core.NarrativeCluster),
		items:    make(map[string]core.ContentItem),
		owner:    make(map[string]int64),
		aliases:  make(map[int64]int64),
		nextID:   1,
	}
}

// Assign places the item into exactly one narrative cluster and returns the
// cluster id. If the nearest existing centroid scores at or above the join
// threshold the item joins that cluster; otherwise it seeds a new one.
//
// Re-assigning an item that is already a member returns its current cluster
// id without mutating anything, so every item id appears in exactly one
// cluster no matter how often ingestion retries.
func (e *Engine) Assign(item core.ContentItem) (int64, error) {
	if err := e.validateEmbedding(item.Embedding); err != nil {
		return 0, fmt.Errorf("item %s: %w", item.ID, err)
	}
	if item.ID == "" {
		return 0, fmt.Errorf("item has no id: %w", ErrInvalidEmbedding)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if cid, ok := e.owner[item.ID]; ok {
		return e.resolveLocked(cid), nil
	}

	item.Timestamp = item.Timestamp.UTC()

	if match, ok := e.index.QueryNearest(item.Embedding); ok && match.Score >= e.cfg.Threshold {
		e.joinLocked(e.clusters[match.ClusterID], item)
		return match.ClusterID, nil
	}

	return e.createLocked(item), nil
}

// joinLocked adds the item to an existing cluster and updates the centroid as
// an incremental mean: c += (x - c) / n. That keeps each join O(dimensions)
// instead of O(cluster size) while remaining the exact mean of all members.
func (e *Engine) joinLocked(c *core.NarrativeCluster, item core.ContentItem) {
	c.MemberIDs = append(c.MemberIDs, item.ID)
	n := float64(len(c.MemberIDs))
	for i := range c.Centroid {
		c.Centroid[i] += (item.Embedding[i] - c.Centroid[i]) / n
	}
	if item.Timestamp.Before(c.FirstSeen) {
		c.FirstSeen = item.Timestamp
	}
	if item.Timestamp.After(c.LastSeen) {
		c.LastSeen = item.Timestamp
	}

	e.items[item.ID] = item
	e.owner[item.ID] = c.ID
	e.index.Upsert(c.ID, c.Centroid)
}

// createLocked seeds a new single-member cluster from the item.
func (e *Engine) createLocked(item core.ContentItem) int64 {
	centroid := make([]float64, len(item.Embedding))
	copy(centroid, item.Embedding)

	c := &core.NarrativeCluster{
		ID:        e.nextID,
		MemberIDs: []string{item.ID},
		Centroid:  centroid,
		FirstSeen: item.Timestamp,
		LastSeen:  item.Timestamp,
	}
	e.nextID++

	e.clusters[c.ID] = c
	e.items[item.ID] = item
	e.owner[item.ID] = c.ID
	e.index.Upsert(c.ID, c.Centroid)
	return c.ID
}

// MergeClusters folds two live clusters into one and returns the survivor's
// id. The lower id survives, keeping merge results reproducible. The retired
// id is remapped so Resolve and all read paths keep working for callers that
// still hold it.
//
// Ids are checked after the lock is acquired: a concurrent sweep may have
// already retired one of them, in which case ErrClusterNotFound is returned
// and the caller should re-resolve and retry.
func (e *Engine) MergeClusters(a, b int64) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if a == b {
		if _, ok := e.clusters[a]; !ok {
			return 0, fmt.Errorf("cluster %d: %w", a, ErrClusterNotFound)
		}
		return a, nil
	}
	return e.mergeLocked(a, b)
}

func (e *Engine) mergeLocked(a, b int64) (int64, error) {
	ca, ok := e.clusters[a]
	if !ok {
		return 0, fmt.Errorf("cluster %d: %w", a, ErrClusterNotFound)
	}
	cb, ok := e.clusters[b]
	if !ok {
		return 0, fmt.Errorf("cluster %d: %w", b, ErrClusterNotFound)
	}

	survivor, retired := ca, cb
	if retired.ID < survivor.ID {
		survivor, retired = retired, survivor
	}

	// Weighted mean of the two centroids equals the mean over the unioned
	// membership, since each centroid is already the mean of its members.
	ns := float64(len(survivor.MemberIDs))
	nr := float64(len(retired.MemberIDs))
	for i := range survivor.Centroid {
		survivor.Centroid[i] = (survivor.Centroid[i]*ns + retired.Centroid[i]*nr) / (ns + nr)
	}

	survivor.MemberIDs = append(survivor.MemberIDs, retired.MemberIDs...)
	if retired.FirstSeen.Before(survivor.FirstSeen) {
		survivor.FirstSeen = retired.FirstSeen
	}
	if retired.LastSeen.After(survivor.LastSeen) {
		survivor.LastSeen = retired.LastSeen
	}
	if survivor.Summary == "" {
		survivor.Summary = retired.Summary
	}
	if survivor.Bias == nil {
		survivor.Bias = retired.Bias
	}

	for _, id := range retired.MemberIDs {
		e.owner[id] = survivor.ID
	}

	delete(e.clusters, retired.ID)
	e.aliases[retired.ID] = survivor.ID
	for old, target := range e.aliases {
		if target == retired.ID {
			e.aliases[old] = survivor.ID
		}
	}

	e.index.Remove(retired.ID)
	e.index.Upsert(survivor.ID, survivor.Centroid)
	return survivor.ID, nil
}

// MergeSweep compares all live cluster pairs and merges any whose centroid
// similarity meets the merge threshold, repeating until no pair qualifies.
// Returns the number of merges performed. The whole sweep runs under the
// engine lock; with the cluster counts this system sees (hundreds, not
// millions) the O(n^2) pass is far cheaper than the LLM calls around it.
func (e *Engine) MergeSweep() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	merges := 0
	for {
		a, b, found := e.findMergeCandidateLocked()
		if !found {
			break
		}
		if _, err := e.mergeLocked(a, b); err != nil {
			break // ids vanished mid-sweep; state is already consistent
		}
		merges++
	}
	return merges
}

// findMergeCandidateLocked returns the first pair (in ascending id order)
// whose centroid similarity meets the merge threshold. Scanning in id order
// makes sweep results deterministic.
func (e *Engine) findMergeCandidateLocked() (int64, int64, bool) {
	ids := make([]int64, 0, len(e.clusters))
	for id := range e.clusters {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			a, b := e.clusters[ids[i]], e.clusters[ids[j]]
			if cosineSimilarity(a.Centroid, b.Centroid) >= e.cfg.MergeThreshold {
				return ids[i], ids[j], true
			}
		}
	}
	return 0, 0, false
}

// Resolve maps a cluster id, possibly retired by merges, to the id of the
// cluster that currently holds its members. ok is false if the id was never
// issued.
func (e *Engine) Resolve(id int64) (int64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	resolved := e.resolveLocked(id)
	_, live := e.clusters[resolved]
	return resolved, live
}

func (e *Engine) resolveLocked(id int64) int64 {
	for {
		next, ok := e.aliases[id]
		if !ok {
			return id
		}
		id = next
	}
}

// Cluster returns a deep copy of the cluster with the given id, following
// retired-id aliases.
func (e *Engine) Cluster(id int64) (core.NarrativeCluster, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.clusters[e.resolveLocked(id)]
	if !ok {
		return core.NarrativeCluster{}, false
	}
	return copyCluster(c), true
}

// Snapshot returns deep copies of all live clusters, ordered by id. The copy
// is taken under the engine lock, so it is a point-in-time consistent view.
func (e *Engine) Snapshot() []core.NarrativeCluster {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]core.NarrativeCluster, 0, len(e.clusters))
	for _, c := range e.clusters {
		out = append(out, copyCluster(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Members returns copies of the member items of a cluster, ordered by
// timestamp ascending (ties broken by item id for reproducibility).
func (e *Engine) Members(id int64) ([]core.ContentItem, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.clusters[e.resolveLocked(id)]
	if !ok {
		return nil, fmt.Errorf("cluster %d: %w", id, ErrClusterNotFound)
	}

	out := make([]core.ContentItem, 0, len(c.MemberIDs))
	for _, mid := range c.MemberIDs {
		out = append(out, e.items[mid])
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// SetSummary stores the externally generated summary on a cluster.
func (e *Engine) SetSummary(id int64, summary string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.clusters[e.resolveLocked(id)]
	if !ok {
		return fmt.Errorf("cluster %d: %w", id, ErrClusterNotFound)
	}
	c.Summary = summary
	return nil
}

// SetBias stores the externally generated bias report on a cluster.
func (e *Engine) SetBias(id int64, report *core.BiasReport) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.clusters[e.resolveLocked(id)]
	if !ok {
		return fmt.Errorf("cluster %d: %w", id, ErrClusterNotFound)
	}
	c.Bias = report
	return nil
}

// Len returns the number of live clusters.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.clusters)
}

// Restore rebuilds engine state from persisted clusters and their member
// items, replacing anything already held. Used at startup to rehydrate from
// the store. Cluster membership in the input must be disjoint.
func (e *Engine) Restore(clusters []core.NarrativeCluster, items []core.ContentItem) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.clusters = make(map[int64]*core.NarrativeCluster, len(clusters))
	e.items = make(map[string]core.ContentItem, len(items))
	e.owner = make(map[string]int64, len(items))
	e.aliases = make(map[int64]int64)
	e.index = simindex.New(e.cfg.Epsilon)
	e.nextID = 1

	byID := make(map[string]core.ContentItem, len(items))
	for _, it := range items {
		it.Timestamp = it.Timestamp.UTC()
		byID[it.ID] = it
	}

	for i := range clusters {
		c := clusters[i]
		if len(c.MemberIDs) == 0 {
			return fmt.Errorf("restore: cluster %d has no members", c.ID)
		}
		if len(c.Centroid) != e.cfg.Dimensions {
			return fmt.Errorf("restore: cluster %d centroid has %d dimensions, want %d: %w",
				c.ID, len(c.Centroid), e.cfg.Dimensions, ErrInvalidEmbedding)
		}
		cc := copyCluster(&c)
		e.clusters[c.ID] = &cc
		for _, mid := range c.MemberIDs {
			it, ok := byID[mid]
			if !ok {
				return fmt.Errorf("restore: cluster %d references unknown item %s", c.ID, mid)
			}
			if prev, taken := e.owner[mid]; taken {
				return fmt.Errorf("restore: item %s appears in clusters %d and %d", mid, prev, c.ID)
			}
			e.items[mid] = it
			e.owner[mid] = c.ID
		}
		e.index.Upsert(c.ID, c.Centroid)
		if c.ID >= e.nextID {
			e.nextID = c.ID + 1
		}
	}
	return nil
}

func (e *Engine) validateEmbedding(v []float64) error {
	if len(v) != e.cfg.Dimensions {
		return fmt.Errorf("embedding has %d dimensions, want %d: %w", len(v), e.cfg.Dimensions, ErrInvalidEmbedding)
	}
	var sum float64
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("embedding contains non-finite values: %w", ErrInvalidEmbedding)
		}
		sum += x * x
	}
	if sum == 0 {
		return fmt.Errorf("embedding has zero norm: %w", ErrInvalidEmbedding)
	}
	return nil
}

func copyCluster(c *core.NarrativeCluster) core.NarrativeCluster {
	out := *c
	out.MemberIDs = append([]string(nil), c.MemberIDs...)
	out.Centroid = append([]float64(nil), c.Centroid...)
	if c.Bias != nil {
		bias := *c.Bias
		bias.Indicators = make(map[string]string, len(c.Bias.Indicators))
		for k, v := range c.Bias.Indicators {
			bias.Indicators[k] = v
		}
		bias.BlindSpots = append([]string(nil), c.Bias.BlindSpots...)
		out.Bias = &bias
	}
	return out
}

// cosineSimilarity calculates the cosine similarity between two vectors.
// Mismatched lengths or zero vectors score 0.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Stats is a small rollup used by pipeline stage logging.
type Stats struct {
	Clusters int
	Items    int
	OldestAt time.Time
	NewestAt time.Time
}

// Stats returns counts over the live cluster set.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := Stats{Clusters: len(e.clusters), Items: len(e.items)}
	for _, c := range e.clusters {
		if st.OldestAt.IsZero() || c.FirstSeen.Before(st.OldestAt) {
			st.OldestAt = c.FirstSeen
		}
		if c.LastSeen.After(st.NewestAt) {
			st.NewestAt = c.LastSeen
		}
	}
	return st
}
