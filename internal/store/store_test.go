package store

import (
	"testing"
	"time"

	"narrascope/internal/core"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testItem(id string) core.ContentItem {
	return core.ContentItem{
		ID:         id,
		Platform:   core.PlatformNews,
		Title:      "Headline " + id,
		Text:       "Body text for " + id,
		URL:        "https://example.com/articles/" + id,
		Embedding:  []float64{0.1, 0.2, 0.3},
		Timestamp:  time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		Engagement: 42,
	}
}

func TestSaveAndGetItem(t *testing.T) {
	s := newTestStore(t)

	want := testItem("item-1")
	if err := s.SaveItem(want); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.GetItem("item-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != want.Title || got.Text != want.Text || got.URL != want.URL {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if got.Platform != core.PlatformNews || got.Engagement != 42 {
		t.Errorf("got platform=%s engagement=%d", got.Platform, got.Engagement)
	}
	if !got.Timestamp.Equal(want.Timestamp) {
		t.Errorf("timestamp = %v, want %v", got.Timestamp, want.Timestamp)
	}
	if len(got.Embedding) != 3 || got.Embedding[1] != 0.2 {
		t.Errorf("embedding = %v", got.Embedding)
	}
}

func TestSaveItem_Immutable(t *testing.T) {
	s := newTestStore(t)

	item := testItem("item-1")
	if err := s.SaveItem(item); err != nil {
		t.Fatal(err)
	}

	// A second save with changed fields must not overwrite the original.
	item.Title = "Rewritten"
	if err := s.SaveItem(item); err != nil {
		t.Fatal(err)
	}

	got, _ := s.GetItem("item-1")
	if got.Title != "Headline item-1" {
		t.Errorf("re-save mutated the item: title = %q", got.Title)
	}
}

func TestGetItem_NotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetItem("missing"); err == nil {
		t.Error("expected an error for a missing item")
	}
}

func TestHasURL(t *testing.T) {
	s := newTestStore(t)
	s.SaveItem(testItem("item-1"))

	ok, err := s.HasURL("https://example.com/articles/item-1")
	if err != nil || !ok {
		t.Errorf("expected known url, got (%v, %v)", ok, err)
	}
	ok, err = s.HasURL("https://example.com/other")
	if err != nil || ok {
		t.Errorf("expected unknown url, got (%v, %v)", ok, err)
	}
}

func TestUpdateItemEmbedding(t *testing.T) {
	s := newTestStore(t)

	item := testItem("item-1")
	item.Embedding = nil
	s.SaveItem(item)

	pending, err := s.ListItemsWithoutEmbedding()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ID != "item-1" {
		t.Fatalf("pending = %v", pending)
	}

	if err := s.UpdateItemEmbedding("item-1", []float64{1, 0}); err != nil {
		t.Fatalf("update: %v", err)
	}

	pending, _ = s.ListItemsWithoutEmbedding()
	if len(pending) != 0 {
		t.Errorf("expected no pending items, got %d", len(pending))
	}
	got, _ := s.GetItem("item-1")
	if len(got.Embedding) != 2 || got.Embedding[0] != 1 {
		t.Errorf("embedding = %v", got.Embedding)
	}

	if err := s.UpdateItemEmbedding("missing", []float64{1}); err == nil {
		t.Error("expected an error updating a missing item")
	}
}

func TestListItems_Ordering(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	// Insert out of order, with a timestamp tie between b and c.
	late := testItem("z-late")
	late.URL = "https://example.com/z"
	late.Timestamp = base.Add(2 * time.Hour)
	s.SaveItem(late)

	c := testItem("c")
	c.URL = "https://example.com/c"
	c.Timestamp = base
	s.SaveItem(c)

	b := testItem("b")
	b.URL = "https://example.com/b"
	b.Timestamp = base
	s.SaveItem(b)

	items, err := s.ListItems()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"b", "c", "z-late"}
	if len(items) != len(want) {
		t.Fatalf("got %d items, want %d", len(items), len(want))
	}
	for i, w := range want {
		if items[i].ID != w {
			t.Errorf("items[%d] = %s, want %s", i, items[i].ID, w)
		}
	}
}

func TestReplaceAndLoadClusters(t *testing.T) {
	s := newTestStore(t)
	s.SaveItem(testItem("item-1"))
	item2 := testItem("item-2")
	item2.URL = "https://example.com/2"
	s.SaveItem(item2)

	clusters := []core.NarrativeCluster{
		{
			ID:        1,
			Summary:   "ceasefire talks stall",
			MemberIDs: []string{"item-1", "item-2"},
			Centroid:  []float64{0.5, 0.5, 0},
			FirstSeen: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
			LastSeen:  time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC),
			Bias: &core.BiasReport{
				Indicators: map[string]string{"framing": "one-sided sourcing"},
				BlindSpots: []string{"civilian perspective"},
				Confidence: 0.8,
				Model:      "gemini-flash-lite-latest",
				CreatedAt:  time.Date(2026, 8, 2, 1, 0, 0, 0, time.UTC),
			},
		},
	}
	if err := s.ReplaceClusters(clusters); err != nil {
		t.Fatalf("replace: %v", err)
	}

	loaded, err := s.LoadClusters()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("got %d clusters, want 1", len(loaded))
	}
	c := loaded[0]
	if c.ID != 1 || c.Summary != "ceasefire talks stall" {
		t.Errorf("cluster = %+v", c)
	}
	if len(c.MemberIDs) != 2 {
		t.Errorf("members = %v", c.MemberIDs)
	}
	if len(c.Centroid) != 3 || c.Centroid[0] != 0.5 {
		t.Errorf("centroid = %v", c.Centroid)
	}
	if c.Bias == nil {
		t.Fatal("bias report not persisted")
	}
	if c.Bias.Indicators["framing"] != "one-sided sourcing" || c.Bias.Confidence != 0.8 {
		t.Errorf("bias = %+v", c.Bias)
	}

	// A second checkpoint fully replaces the first.
	if err := s.ReplaceClusters([]core.NarrativeCluster{
		{ID: 2, MemberIDs: []string{"item-1"}, Centroid: []float64{1, 0, 0},
			FirstSeen: time.Now().UTC(), LastSeen: time.Now().UTC()},
	}); err != nil {
		t.Fatalf("second replace: %v", err)
	}
	loaded, _ = s.LoadClusters()
	if len(loaded) != 1 || loaded[0].ID != 2 {
		t.Errorf("checkpoint did not replace prior state: %+v", loaded)
	}
	if loaded[0].Bias != nil {
		t.Error("cluster without bias loaded a report")
	}
}

func TestGetStats(t *testing.T) {
	s := newTestStore(t)

	s.SaveItem(testItem("item-1"))
	bare := testItem("item-2")
	bare.URL = "https://example.com/2"
	bare.Embedding = nil
	s.SaveItem(bare)
	s.ReplaceClusters([]core.NarrativeCluster{
		{ID: 1, Summary: "done", MemberIDs: []string{"item-1"}, Centroid: []float64{1},
			FirstSeen: time.Now().UTC(), LastSeen: time.Now().UTC()},
		{ID: 2, MemberIDs: []string{"item-2"}, Centroid: []float64{1},
			FirstSeen: time.Now().UTC(), LastSeen: time.Now().UTC()},
	})

	st, err := s.GetStats()
	if err != nil {
		t.Fatal(err)
	}
	if st.Items != 2 || st.Embedded != 1 || st.Clusters != 2 || st.Summarized != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	s.SaveItem(testItem("item-1"))
	s.Close()

	s2, err := NewStore(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	if _, err := s2.GetItem("item-1"); err != nil {
		t.Errorf("item lost across reopen: %v", err)
	}
}
