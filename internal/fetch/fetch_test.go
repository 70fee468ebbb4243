package fetch

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestExtractText_Article(t *testing.T) {
	html := `<html>
<head><title>Page</title><script>var x = 1;</script></head>
<body>
  <nav>Home | World | Opinion</nav>
  <article>
    <h1>Strikes reported overnight</h1>
    <p>Multiple strikes were reported near the border.</p>
    <p>Officials did not confirm casualties.</p>
  </article>
  <footer>Copyright 2026</footer>
</body></html>`

	text, err := ExtractText(html)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	want := "Strikes reported overnight\n\nMultiple strikes were reported near the border.\n\nOfficials did not confirm casualties."
	if text != want {
		t.Errorf("got %q, want %q", text, want)
	}
}

func TestExtractText_DropsChrome(t *testing.T) {
	html := `<html><body>
  <script>analytics();</script>
  <style>p { color: red }</style>
  <aside>Related stories</aside>
  <p>The only real paragraph.</p>
</body></html>`

	text, err := ExtractText(html)
	if err != nil {
		t.Fatal(err)
	}
	if text != "The only real paragraph." {
		t.Errorf("got %q", text)
	}
	for _, leaked := range []string{"analytics", "color: red", "Related stories"} {
		if strings.Contains(text, leaked) {
			t.Errorf("chrome leaked into text: %q", leaked)
		}
	}
}

func TestExtractText_SelectorPriority(t *testing.T) {
	// Both main and article exist; article wins.
	html := `<html><body>
  <main><p>Wrapper text outside the article.</p>
    <article><p>Inside the article.</p></article>
  </main>
</body></html>`

	text, err := ExtractText(html)
	if err != nil {
		t.Fatal(err)
	}
	if text != "Inside the article." {
		t.Errorf("got %q", text)
	}
}

func TestExtractText_FallbackToRawText(t *testing.T) {
	text, err := ExtractText(`<html><body><div>Bare div text only</div></body></html>`)
	if err != nil {
		t.Fatal(err)
	}
	if text != "Bare div text only" {
		t.Errorf("got %q", text)
	}
}

func TestFetchText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "narrascope/1.0" {
			t.Errorf("unexpected user agent %q", r.Header.Get("User-Agent"))
		}
		fmt.Fprint(w, `<html><body><article><p>Fetched body.</p></article></body></html>`)
	}))
	defer srv.Close()

	text, err := NewFetcher().FetchText(srv.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if text != "Fetched body." {
		t.Errorf("got %q", text)
	}
}

func TestFetchText_NonOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	if _, err := NewFetcher().FetchText(srv.URL); err == nil {
		t.Error("expected an error for a 403 response")
	}
}
