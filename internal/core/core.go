package core

import "time"

// Platform identifies where a piece of content was published.
type Platform string

const (
	PlatformNews    Platform = "news"
	PlatformTwitter Platform = "twitter"
	PlatformReddit  Platform = "reddit"
	PlatformYouTube Platform = "youtube"
)

// ContentItem represents a single normalized piece of ingested content.
// Items are immutable once ingested; clustering references them by ID but
// never mutates them.
type ContentItem struct {
	ID         string    `json:"id"`         // Unique identifier for the item
	Platform   Platform  `json:"platform"`   // Where the content was published
	Title      string    `json:"title"`      // Title or headline (may be empty for social posts)
	Text       string    `json:"text"`       // Cleaned text content
	URL        string    `json:"url"`        // Canonical URL of the content
	Embedding  []float64 `json:"embedding"`  // Vector embedding of the text
	Timestamp  time.Time `json:"timestamp"`  // When the content was published
	Engagement int64     `json:"engagement"` // Platform-specific engagement count (non-negative)
}

// NarrativeCluster is a group of content items judged to express the same
// underlying claim or story. Membership, centroid, and the seen bounds are
// maintained by the clustering engine; Summary and Bias are filled in later
// by the LLM collaborator.
type NarrativeCluster struct {
	ID        int64       `json:"id"`             // Unique cluster identifier, ascending creation order
	Summary   string      `json:"summary"`        // LLM-generated summary (empty until computed)
	MemberIDs []string    `json:"member_ids"`     // IDs of member content items (never empty)
	Centroid  []float64   `json:"centroid"`       // Running mean of member embeddings
	FirstSeen time.Time   `json:"first_seen"`     // Min timestamp over members
	LastSeen  time.Time   `json:"last_seen"`      // Max timestamp over members
	Bias      *BiasReport `json:"bias,omitempty"` // Optional LLM bias analysis
}

// SourceCount reports the number of member items. The original system counts
// source rows, not distinct platforms, so this is defined as len(MemberIDs).
func (c *NarrativeCluster) SourceCount() int {
	return len(c.MemberIDs)
}

// BiasReport holds the LLM bias analysis for a narrative cluster. The core
// treats it as opaque; it is produced and consumed outside the engine.
type BiasReport struct {
	Indicators map[string]string `json:"indicators"`       // Named bias indicators and their assessments
	BlindSpots []string          `json:"blind_spots"`      // Perspectives missing from the narrative
	Confidence float64           `json:"confidence_score"` // Model confidence, 0.0-1.0
	Model      string            `json:"model"`            // Model that produced the report
	CreatedAt  time.Time         `json:"created_at"`       // When the report was generated
}

// ClusterSummary is the list-view projection of a narrative cluster.
type ClusterSummary struct {
	ID            int64     `json:"id"`
	Summary       string    `json:"summary"`
	SourceCount   int       `json:"source_count"`
	PlatformCount int       `json:"platform_count"` // Distinct platforms among members
	FirstSeen     time.Time `json:"first_seen"`
	LastSeen      time.Time `json:"last_seen"`
}

// ClusterDetail is the detail-view projection of a narrative cluster,
// including member excerpts and the mention timeline.
type ClusterDetail struct {
	ClusterSummary
	Members  []MemberDetail   `json:"members"`
	Timeline []TimelineBucket `json:"timeline"`
	Bias     *BiasReport      `json:"bias,omitempty"`
}

// MemberDetail is the per-item row in a cluster detail view.
type MemberDetail struct {
	ID         string    `json:"id"`
	Platform   Platform  `json:"platform"`
	Excerpt    string    `json:"text_excerpt"`
	Timestamp  time.Time `json:"timestamp"`
	URL        string    `json:"url"`
	Engagement int64     `json:"engagement"`
}

// TimelineBucket is one fixed-width slice of a cluster's mention timeline.
type TimelineBucket struct {
	Start time.Time `json:"bucket_start"` // Inclusive start of the bucket, UTC
	Count int       `json:"count"`        // Member items published within the bucket
}

// Feed represents an RSS/Atom feed source.
type Feed struct {
	ID           string    `json:"id"`            // Unique identifier for the feed
	URL          string    `json:"url"`           // Feed URL
	Title        string    `json:"title"`         // Feed title
	LastFetched  time.Time `json:"last_fetched"`  // Last time the feed was fetched
	LastModified string    `json:"last_modified"` // Last-Modified header from the feed
	ETag         string    `json:"etag"`          // ETag header from the feed
	Active       bool      `json:"active"`        // Whether the feed is polled
	ErrorCount   int       `json:"error_count"`   // Consecutive fetch errors
	LastError    string    `json:"last_error"`    // Last error encountered
}

// FeedItem represents an entry discovered in an RSS/Atom feed before it is
// normalized into a ContentItem.
type FeedItem struct {
	Title       string    `json:"title"`
	Link        string    `json:"link"`
	Description string    `json:"description"`
	Published   time.Time `json:"published"`
	GUID        string    `json:"guid"`
	SourceName  string    `json:"source_name"` // Feed title, used as the publisher name
}

// GraphNode is a platform node in the source network graph.
type GraphNode struct {
	ID         string `json:"id"`
	Platform   string `json:"platform"`
	Engagement int    `json:"engagement"` // Number of items from this platform
}

// GraphLink connects two platforms that co-occur in at least one cluster.
type GraphLink struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// Graph is the source network graph projection.
type Graph struct {
	Nodes []GraphNode `json:"nodes"`
	Links []GraphLink `json:"links"`
}
