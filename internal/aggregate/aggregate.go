// Package aggregate derives read-only projections from clustering engine
// state: ranked narrative lists, per-narrative detail with mention timelines,
// and the source network graph. Every projection reads a point-in-time
// snapshot from the engine, so concurrent queries never observe a cluster
// mid-mutation.
package aggregate

import (
	"fmt"
	"sort"
	"time"

	"narrascope/internal/cluster"
	"narrascope/internal/core"
)

// SortKey selects the ordering for narrative lists.
type SortKey string

const (
	SortByRecency     SortKey = "recency"      // Most recently active first
	SortBySourceCount SortKey = "source_count" // Largest clusters first
)

// Options configures projection behavior.
type Options struct {
	BucketWidth time.Duration // Timeline bucket width; defaults to 24h
	DenseFill   bool          // Emit zero-count buckets between first and last
	ExcerptLen  int           // Max runes in member text excerpts; defaults to 100
}

// Aggregator is the read side of the clustering engine.
type Aggregator struct {
	engine *cluster.Engine
	opts   Options
}

// New creates an aggregator over the given engine.
func New(engine *cluster.Engine, opts Options) *Aggregator {
	if opts.BucketWidth <= 0 {
		opts.BucketWidth = 24 * time.Hour
	}
	if opts.ExcerptLen <= 0 {
		opts.ExcerptLen = 100
	}
	return &Aggregator{engine: engine, opts: opts}
}

// ListClusters returns summaries of all live clusters ordered by the sort
// key. Ties are broken by ascending cluster id so the ordering is stable.
func (a *Aggregator) ListClusters(key SortKey) []core.ClusterSummary {
	snapshot := a.engine.Snapshot()
	out := make([]core.ClusterSummary, 0, len(snapshot))
	for i := range snapshot {
		out = append(out, a.summarize(&snapshot[i]))
	}

	switch key {
	case SortBySourceCount:
		sort.Slice(out, func(i, j int) bool {
			if out[i].SourceCount != out[j].SourceCount {
				return out[i].SourceCount > out[j].SourceCount
			}
			return out[i].ID < out[j].ID
		})
	default: // recency
		sort.Slice(out, func(i, j int) bool {
			if !out[i].LastSeen.Equal(out[j].LastSeen) {
				return out[i].LastSeen.After(out[j].LastSeen)
			}
			return out[i].ID < out[j].ID
		})
	}
	return out
}

// GetCluster returns the detail projection for one cluster, resolving
// retired ids to their merge survivor.
func (a *Aggregator) GetCluster(id int64) (core.ClusterDetail, error) {
	c, ok := a.engine.Cluster(id)
	if !ok {
		return core.ClusterDetail{}, fmt.Errorf("cluster %d: %w", id, cluster.ErrClusterNotFound)
	}
	members, err := a.engine.Members(id)
	if err != nil {
		return core.ClusterDetail{}, err
	}

	detail := core.ClusterDetail{
		ClusterSummary: a.summarize(&c),
		Members:        make([]core.MemberDetail, 0, len(members)),
		Timeline:       a.bucketize(members),
		Bias:           c.Bias,
	}
	for _, m := range members {
		detail.Members = append(detail.Members, core.MemberDetail{
			ID:         m.ID,
			Platform:   m.Platform,
			Excerpt:    excerpt(m.Text, a.opts.ExcerptLen),
			Timestamp:  m.Timestamp,
			URL:        m.URL,
			Engagement: m.Engagement,
		})
	}
	return detail, nil
}

// Timeline returns the mention-per-bucket series for a cluster, ordered by
// bucket start ascending. Buckets with zero members are omitted unless the
// aggregator was configured with DenseFill.
func (a *Aggregator) Timeline(id int64) ([]core.TimelineBucket, error) {
	members, err := a.engine.Members(id)
	if err != nil {
		return nil, err
	}
	return a.bucketize(members), nil
}

// MemberTexts returns the member texts of a cluster, ordered by timestamp
// ascending and capped at limit (0 means no cap). This is the input surface
// for the external summarization and bias collaborators.
func (a *Aggregator) MemberTexts(id int64, limit int) ([]string, error) {
	members, err := a.engine.Members(id)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(members) > limit {
		members = members[:limit]
	}
	texts := make([]string, 0, len(members))
	for _, m := range members {
		texts = append(texts, m.Text)
	}
	return texts, nil
}

// Graph builds the source network graph: one node per platform weighted by
// item count, one link per platform pair that co-occurs in a cluster. Only
// clustered members are counted; items still awaiting an embedding do not
// appear, keeping node weights consistent with the links, which are defined
// by cluster co-occurrence.
func (a *Aggregator) Graph() core.Graph {
	snapshot := a.engine.Snapshot()

	engagement := make(map[core.Platform]int)
	linked := make(map[[2]core.Platform]bool)

	for _, c := range snapshot {
		members, err := a.engine.Members(c.ID)
		if err != nil {
			continue // cluster retired between snapshot and read
		}
		platforms := make(map[core.Platform]bool)
		for _, m := range members {
			engagement[m.Platform]++
			platforms[m.Platform] = true
		}
		ordered := sortedPlatforms(platforms)
		for i := 0; i < len(ordered); i++ {
			for j := i + 1; j < len(ordered); j++ {
				linked[[2]core.Platform{ordered[i], ordered[j]}] = true
			}
		}
	}

	g := core.Graph{Nodes: []core.GraphNode{}, Links: []core.GraphLink{}}
	for _, p := range sortedPlatformCounts(engagement) {
		g.Nodes = append(g.Nodes, core.GraphNode{
			ID:         string(p),
			Platform:   string(p),
			Engagement: engagement[p],
		})
	}
	pairs := make([][2]core.Platform, 0, len(linked))
	for pair := range linked {
		pairs = append(pairs, pair)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i][0] != pairs[j][0] {
			return pairs[i][0] < pairs[j][0]
		}
		return pairs[i][1] < pairs[j][1]
	})
	for _, pair := range pairs {
		g.Links = append(g.Links, core.GraphLink{Source: string(pair[0]), Target: string(pair[1])})
	}
	return g
}

func (a *Aggregator) summarize(c *core.NarrativeCluster) core.ClusterSummary {
	platforms := make(map[core.Platform]bool)
	if members, err := a.engine.Members(c.ID); err == nil {
		for _, m := range members {
			platforms[m.Platform] = true
		}
	}
	return core.ClusterSummary{
		ID:            c.ID,
		Summary:       c.Summary,
		SourceCount:   c.SourceCount(),
		PlatformCount: len(platforms),
		FirstSeen:     c.FirstSeen,
		LastSeen:      c.LastSeen,
	}
}

// bucketize partitions member timestamps into fixed-width buckets aligned to
// the Unix epoch in UTC.
func (a *Aggregator) bucketize(members []core.ContentItem) []core.TimelineBucket {
	if len(members) == 0 {
		return []core.TimelineBucket{}
	}

	width := a.opts.BucketWidth
	counts := make(map[int64]int)
	var minB, maxB int64
	for i, m := range members {
		b := m.Timestamp.UTC().Unix() / int64(width.Seconds())
		counts[b]++
		if i == 0 || b < minB {
			minB = b
		}
		if i == 0 || b > maxB {
			maxB = b
		}
	}

	out := []core.TimelineBucket{}
	if a.opts.DenseFill {
		for b := minB; b <= maxB; b++ {
			out = append(out, core.TimelineBucket{
				Start: time.Unix(b*int64(width.Seconds()), 0).UTC(),
				Count: counts[b],
			})
		}
		return out
	}

	// Sparse path walks only the occupied buckets. Walking minB..maxB here
	// would scan the whole gap, which a single zero-valued timestamp
	// stretches to hundreds of thousands of empty buckets.
	occupied := make([]int64, 0, len(counts))
	for b := range counts {
		occupied = append(occupied, b)
	}
	sort.Slice(occupied, func(i, j int) bool { return occupied[i] < occupied[j] })
	for _, b := range occupied {
		out = append(out, core.TimelineBucket{
			Start: time.Unix(b*int64(width.Seconds()), 0).UTC(),
			Count: counts[b],
		})
	}
	return out
}

func excerpt(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max])
}

func sortedPlatforms(set map[core.Platform]bool) []core.Platform {
	out := make([]core.Platform, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortedPlatformCounts(counts map[core.Platform]int) []core.Platform {
	out := make([]core.Platform, 0, len(counts))
	for p := range counts {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
