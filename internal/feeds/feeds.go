// Package feeds provides RSS/Atom feed fetching and parsing for the news
// ingestion side of the pipeline. Social platforms (twitter, reddit, youtube)
// have no connector here; their items enter through the store directly.
package feeds

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"narrascope/internal/core"
)

// DefaultFeedURLs is the default conflict-coverage feed set: deliberately
// spread across Western, Israeli, Iranian, and regional outlets so that
// conflicting narratives about the same events all reach the clusterer.
var DefaultFeedURLs = []string{
	"https://feeds.bbci.co.uk/news/world/rss.xml",
	"https://www.aljazeera.com/xml/rss/all.xml",
	"https://www.timesofisrael.com/feed/",
	"https://www.jpost.com/rss/rssfeedsfrontpage.aspx",
	"https://en.mehrnews.com/rss",
	"https://www.middleeasteye.net/rss",
	"https://www.al-monitor.com/rss.xml",
	"https://www.reuters.com/world/rss",
	"https://rss.cnn.com/rss/edition.rss",
	"https://www.jpost.com/rss/rssfeedsiran",
}

// RSS represents an RSS feed structure
type RSS struct {
	XMLName xml.Name `xml:"rss"`
	Channel Channel  `xml:"channel"`
}

// Channel represents an RSS channel
type Channel struct {
	Title       string    `xml:"title"`
	Description string    `xml:"description"`
	Link        string    `xml:"link"`
	Items       []RSSItem `xml:"item"`
}

// RSSItem represents an RSS item
type RSSItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
	GUID        string `xml:"guid"`
}

// Atom represents an Atom feed structure
type Atom struct {
	XMLName xml.Name    `xml:"feed"`
	Title   string      `xml:"title"`
	Link    []AtomLink  `xml:"link"`
	Entries []AtomEntry `xml:"entry"`
}

// AtomLink represents an Atom link element
type AtomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
}

// AtomEntry represents an Atom entry
type AtomEntry struct {
	Title     string     `xml:"title"`
	Link      []AtomLink `xml:"link"`
	Summary   string     `xml:"summary"`
	Published string     `xml:"published"`
	Updated   string     `xml:"updated"`
	ID        string     `xml:"id"`
}

// ParsedFeed is a fetched feed with its items and caching metadata.
type ParsedFeed struct {
	Feed         core.Feed
	Items        []core.FeedItem
	LastModified string
	ETag         string
	NotModified  bool
}

// Manager fetches and parses feeds.
type Manager struct {
	client *http.Client
}

// NewManager creates a feed manager with a 30 second fetch timeout.
func NewManager() *Manager {
	return &Manager{
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// FetchFeed fetches and parses a feed, sending conditional headers so
// unchanged feeds come back as a cheap 304.
func (m *Manager) FetchFeed(feedURL, lastModified, etag string) (*ParsedFeed, error) {
	req, err := http.NewRequest(http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if lastModified != "" {
		req.Header.Set("If-Modified-Since", lastModified)
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	req.Header.Set("User-Agent", "narrascope/1.0")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotModified {
		return &ParsedFeed{NotModified: true}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read feed body: %w", err)
	}

	parsed, err := Parse(body, feedURL)
	if err != nil {
		return nil, err
	}
	parsed.LastModified = resp.Header.Get("Last-Modified")
	parsed.ETag = resp.Header.Get("ETag")
	return parsed, nil
}

// Parse parses raw feed bytes as RSS first, then Atom.
func Parse(body []byte, feedURL string) (*ParsedFeed, error) {
	var rss RSS
	if err := xml.NewDecoder(bytes.NewReader(body)).Decode(&rss); err == nil && rss.Channel.Title != "" {
		return parseRSS(rss, feedURL), nil
	}

	var atom Atom
	if err := xml.NewDecoder(bytes.NewReader(body)).Decode(&atom); err == nil && atom.Title != "" {
		return parseAtom(atom, feedURL), nil
	}

	return nil, fmt.Errorf("unable to parse %s as RSS or Atom", feedURL)
}

// CollectLatest fetches every feed URL and returns items published within
// maxAge, newest feeds' fetch errors reported per-feed rather than aborting
// the whole collection.
func (m *Manager) CollectLatest(feedURLs []string, maxAge time.Duration) ([]core.FeedItem, []error) {
	cutoff := time.Now().UTC().Add(-maxAge)

	var items []core.FeedItem
	var errs []error
	for _, url := range feedURLs {
		parsed, err := m.FetchFeed(url, "", "")
		if err != nil {
			errs = append(errs, fmt.Errorf("feed %s: %w", url, err))
			continue
		}
		for _, item := range parsed.Items {
			if item.Published.IsZero() || item.Published.Before(cutoff) {
				continue
			}
			items = append(items, item)
		}
	}
	return items, errs
}

func parseRSS(rss RSS, feedURL string) *ParsedFeed {
	feed := core.Feed{
		URL:    feedURL,
		Title:  rss.Channel.Title,
		Active: true,
	}

	var items []core.FeedItem
	for _, item := range rss.Channel.Items {
		items = append(items, core.FeedItem{
			Title:       item.Title,
			Link:        item.Link,
			Description: item.Description,
			GUID:        item.GUID,
			Published:   parseRSSDate(item.PubDate),
			SourceName:  rss.Channel.Title,
		})
	}
	return &ParsedFeed{Feed: feed, Items: items}
}

func parseAtom(atom Atom, feedURL string) *ParsedFeed {
	feed := core.Feed{
		URL:    feedURL,
		Title:  atom.Title,
		Active: true,
	}

	var items []core.FeedItem
	for _, entry := range atom.Entries {
		var link string
		for _, l := range entry.Link {
			if l.Rel == "" || l.Rel == "alternate" {
				link = l.Href
				break
			}
		}
		published := entry.Published
		if published == "" {
			published = entry.Updated
		}
		items = append(items, core.FeedItem{
			Title:       entry.Title,
			Link:        link,
			Description: entry.Summary,
			GUID:        entry.ID,
			Published:   parseAtomDate(published),
			SourceName:  atom.Title,
		})
	}
	return &ParsedFeed{Feed: feed, Items: items}
}

// parseRSSDate parses the date formats seen in the wild across the default
// feed set.
func parseRSSDate(dateStr string) time.Time {
	if dateStr == "" {
		return time.Time{}
	}

	formats := []string{
		time.RFC1123,
		time.RFC1123Z,
		"Mon, 2 Jan 2006 15:04:05 -0700",
		"Mon, 2 Jan 2006 15:04:05 MST",
		"2006-01-02T15:04:05Z07:00",
		"2006-01-02 15:04:05",
	}
	for _, format := range formats {
		if t, err := time.Parse(format, strings.TrimSpace(dateStr)); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func parseAtomDate(dateStr string) time.Time {
	if dateStr == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, strings.TrimSpace(dateStr)); err == nil {
		return t.UTC()
	}
	return parseRSSDate(dateStr)
}
