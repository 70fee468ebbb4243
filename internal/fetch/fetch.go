// Package fetch retrieves article pages and reduces their HTML to clean text
// for embedding. RSS descriptions are often a sentence-long teaser; fetching
// the page gives the embedder the full claim being made.
package fetch

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// contentSelectors are tried in order; the first match wins. Falls back to
// the whole body when a page uses none of them.
var contentSelectors = []string{
	"article",
	"main",
	"[role='main']",
	".article-body",
	".story-body",
	".post-content",
}

// Fetcher downloads article pages.
type Fetcher struct {
	client *http.Client
}

// NewFetcher creates a fetcher with a 30 second timeout.
func NewFetcher() *Fetcher {
	return &Fetcher{
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// FetchText downloads the page at url and returns its cleaned article text.
func (f *Fetcher) FetchText(url string) (string, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request for %s: %w", url, err)
	}
	req.Header.Set("User-Agent", "narrascope/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s returned status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", url, err)
	}

	text, err := ExtractText(string(body))
	if err != nil {
		return "", fmt.Errorf("failed to extract text from %s: %w", url, err)
	}
	return text, nil
}

// ExtractText reduces an HTML document to readable article text: scripts,
// styles, and navigation chrome are dropped, block elements become
// newline-separated paragraphs.
func ExtractText(htmlContent string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	doc.Find("script, style, nav, header, footer, aside, form, noscript").Remove()

	root := doc.Selection
	for _, selector := range contentSelectors {
		if sel := doc.Find(selector); sel.Length() > 0 {
			root = sel.First()
			break
		}
	}

	var parts []string
	root.Find("p, h1, h2, h3, h4, h5, h6, li, blockquote").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text != "" {
			parts = append(parts, text)
		}
	})

	// Pages with no block structure at all still yield their raw text.
	if len(parts) == 0 {
		return strings.TrimSpace(root.Text()), nil
	}
	return strings.Join(parts, "\n\n"), nil
}
