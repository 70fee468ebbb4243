package feeds

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const rssSample = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Conflict Wire</title>
    <link>https://example.com</link>
    <description>Regional coverage</description>
    <item>
      <title>Strikes reported overnight</title>
      <link>https://example.com/strikes</link>
      <description>Multiple strikes were reported.</description>
      <pubDate>Fri, 28 Aug 2026 10:30:00 GMT</pubDate>
      <guid>https://example.com/strikes</guid>
    </item>
    <item>
      <title>Talks resume</title>
      <link>https://example.com/talks</link>
      <description>Negotiators returned to the table.</description>
      <pubDate>Thu, 27 Aug 2026 08:00:00 +0000</pubDate>
      <guid>https://example.com/talks</guid>
    </item>
  </channel>
</rss>`

const atomSample = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Regional Monitor</title>
  <link href="https://monitor.example.com/"/>
  <entry>
    <title>Border crossing reopens</title>
    <link rel="alternate" href="https://monitor.example.com/border"/>
    <summary>The crossing reopened after three days.</summary>
    <published>2026-08-28T09:15:00Z</published>
    <id>urn:monitor:border-1</id>
  </entry>
  <entry>
    <title>Updated only entry</title>
    <link href="https://monitor.example.com/updated"/>
    <updated>2026-08-27T12:00:00Z</updated>
    <id>urn:monitor:updated-1</id>
  </entry>
</feed>`

func TestParse_RSS(t *testing.T) {
	parsed, err := Parse([]byte(rssSample), "https://example.com/rss")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if parsed.Feed.Title != "Conflict Wire" {
		t.Errorf("feed title = %q", parsed.Feed.Title)
	}
	if len(parsed.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(parsed.Items))
	}

	first := parsed.Items[0]
	if first.Title != "Strikes reported overnight" {
		t.Errorf("title = %q", first.Title)
	}
	if first.Link != "https://example.com/strikes" {
		t.Errorf("link = %q", first.Link)
	}
	if first.SourceName != "Conflict Wire" {
		t.Errorf("source name = %q", first.SourceName)
	}
	want := time.Date(2026, 8, 28, 10, 30, 0, 0, time.UTC)
	if !first.Published.Equal(want) {
		t.Errorf("published = %v, want %v", first.Published, want)
	}
}

func TestParse_Atom(t *testing.T) {
	parsed, err := Parse([]byte(atomSample), "https://monitor.example.com/atom")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if parsed.Feed.Title != "Regional Monitor" {
		t.Errorf("feed title = %q", parsed.Feed.Title)
	}
	if len(parsed.Items) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(parsed.Items))
	}

	first := parsed.Items[0]
	if first.Link != "https://monitor.example.com/border" {
		t.Errorf("link = %q", first.Link)
	}
	if first.Description != "The crossing reopened after three days." {
		t.Errorf("description = %q", first.Description)
	}

	// An entry with no published element falls back to updated.
	want := time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)
	if !parsed.Items[1].Published.Equal(want) {
		t.Errorf("published = %v, want %v", parsed.Items[1].Published, want)
	}
}

func TestParse_Garbage(t *testing.T) {
	if _, err := Parse([]byte("not xml at all"), "https://example.com"); err == nil {
		t.Error("expected an error for unparseable input")
	}
	if _, err := Parse([]byte("<html><body>404</body></html>"), "https://example.com"); err == nil {
		t.Error("expected an error for non-feed xml")
	}
}

func TestParseRSSDate(t *testing.T) {
	tests := []struct {
		input string
		want  time.Time
	}{
		{"Fri, 28 Aug 2026 10:30:00 GMT", time.Date(2026, 8, 28, 10, 30, 0, 0, time.UTC)},
		{"Fri, 28 Aug 2026 10:30:00 +0300", time.Date(2026, 8, 28, 7, 30, 0, 0, time.UTC)},
		{"Fri, 7 Aug 2026 10:30:00 +0000", time.Date(2026, 8, 7, 10, 30, 0, 0, time.UTC)},
		{"2026-08-28T10:30:00Z", time.Date(2026, 8, 28, 10, 30, 0, 0, time.UTC)},
		{"", time.Time{}},
		{"yesterday-ish", time.Time{}},
	}
	for _, tt := range tests {
		got := parseRSSDate(tt.input)
		if !got.Equal(tt.want) {
			t.Errorf("parseRSSDate(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestFetchFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Last-Modified", "Fri, 28 Aug 2026 10:00:00 GMT")
		fmt.Fprint(w, rssSample)
	}))
	defer srv.Close()

	m := NewManager()
	parsed, err := m.FetchFeed(srv.URL, "", "")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if parsed.NotModified {
		t.Error("first fetch should not be NotModified")
	}
	if parsed.ETag != `"v1"` || parsed.LastModified == "" {
		t.Errorf("caching headers not captured: etag=%q lastModified=%q", parsed.ETag, parsed.LastModified)
	}
	if len(parsed.Items) != 2 {
		t.Errorf("expected 2 items, got %d", len(parsed.Items))
	}

	// Conditional refetch with the stored ETag hits the 304 path.
	again, err := m.FetchFeed(srv.URL, parsed.LastModified, parsed.ETag)
	if err != nil {
		t.Fatalf("conditional fetch: %v", err)
	}
	if !again.NotModified {
		t.Error("expected NotModified on conditional refetch")
	}
}

func TestFetchFeed_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if _, err := NewManager().FetchFeed(srv.URL, "", ""); err == nil {
		t.Error("expected an error for a 502 response")
	}
}

func TestCollectLatest(t *testing.T) {
	recent := time.Now().UTC().Add(-2 * time.Hour).Format(time.RFC1123)
	stale := time.Now().UTC().Add(-72 * time.Hour).Format(time.RFC1123)
	body := fmt.Sprintf(`<?xml version="1.0"?>
<rss version="2.0"><channel><title>Mixed Ages</title>
  <item><title>Fresh</title><link>https://example.com/fresh</link><pubDate>%s</pubDate></item>
  <item><title>Stale</title><link>https://example.com/stale</link><pubDate>%s</pubDate></item>
  <item><title>Undated</title><link>https://example.com/undated</link></item>
</channel></rss>`, recent, stale)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	}))
	defer srv.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer broken.Close()

	items, errs := NewManager().CollectLatest([]string{srv.URL, broken.URL}, 24*time.Hour)

	// One feed failed but collection continued.
	if len(errs) != 1 {
		t.Errorf("expected 1 per-feed error, got %d: %v", len(errs), errs)
	}
	if len(items) != 1 || items[0].Title != "Fresh" {
		t.Errorf("expected only the fresh item, got %v", items)
	}
}
