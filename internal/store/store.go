// Package store persists content items and cluster state in SQLite. The
// clustering engine remains the authority while the process runs; the store
// is written after each pipeline run and read once at startup to rehydrate.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"narrascope/internal/core"
)

// Store is the SQLite-backed persistence layer.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore opens (creating if needed) the database under dataDir.
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "narrascope.db")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, path: dbPath}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return s, nil
}

// initialize creates the necessary tables.
func (s *Store) initialize() error {
	itemsTable := `
	CREATE TABLE IF NOT EXISTS items (
		id TEXT PRIMARY KEY,
		platform TEXT NOT NULL,
		title TEXT,
		text TEXT NOT NULL,
		url TEXT NOT NULL UNIQUE,
		embedding TEXT,
		timestamp DATETIME NOT NULL,
		engagement INTEGER NOT NULL DEFAULT 0
	);`

	clustersTable := `
	CREATE TABLE IF NOT EXISTS clusters (
		id INTEGER PRIMARY KEY,
		summary TEXT,
		centroid TEXT NOT NULL,
		first_seen DATETIME NOT NULL,
		last_seen DATETIME NOT NULL,
		bias TEXT
	);`

	membersTable := `
	CREATE TABLE IF NOT EXISTS cluster_members (
		cluster_id INTEGER NOT NULL,
		item_id TEXT NOT NULL,
		PRIMARY KEY (cluster_id, item_id),
		FOREIGN KEY (cluster_id) REFERENCES clusters (id) ON DELETE CASCADE,
		FOREIGN KEY (item_id) REFERENCES items (id)
	);`

	indexes := `
	CREATE INDEX IF NOT EXISTS idx_items_platform_timestamp ON items (platform, timestamp);
	CREATE INDEX IF NOT EXISTS idx_cluster_members_item ON cluster_members (item_id);`

	for _, stmt := range []string{itemsTable, clustersTable, membersTable, indexes} {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveItem inserts a content item. Items are immutable once ingested, so an
// existing row with the same id is left untouched.
func (s *Store) SaveItem(item core.ContentItem) error {
	embedding, err := marshalVector(item.Embedding)
	if err != nil {
		return fmt.Errorf("failed to encode embedding for item %s: %w", item.ID, err)
	}

	_, err = s.db.Exec(`
		INSERT OR IGNORE INTO items (id, platform, title, text, url, embedding, timestamp, engagement)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, string(item.Platform), item.Title, item.Text, item.URL,
		embedding, item.Timestamp.UTC(), item.Engagement,
	)
	if err != nil {
		return fmt.Errorf("failed to save item %s: %w", item.ID, err)
	}
	return nil
}

// UpdateItemEmbedding attaches an embedding to an item that was ingested
// before embedding ran. The embedding is the one mutable column on an item.
func (s *Store) UpdateItemEmbedding(itemID string, embedding []float64) error {
	encoded, err := marshalVector(embedding)
	if err != nil {
		return fmt.Errorf("failed to encode embedding for item %s: %w", itemID, err)
	}

	res, err := s.db.Exec(`UPDATE items SET embedding = ? WHERE id = ?`, encoded, itemID)
	if err != nil {
		return fmt.Errorf("failed to update embedding for item %s: %w", itemID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("item %s not found", itemID)
	}
	return nil
}

// HasURL reports whether an item with the given URL already exists. Used for
// ingest-time deduplication.
func (s *Store) HasURL(url string) (bool, error) {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM items WHERE url = ?`, url).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check url: %w", err)
	}
	return count > 0, nil
}

// GetItem fetches a single item by id.
func (s *Store) GetItem(id string) (*core.ContentItem, error) {
	row := s.db.QueryRow(`
		SELECT id, platform, title, text, url, embedding, timestamp, engagement
		FROM items WHERE id = ?`, id)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("item %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item %s: %w", id, err)
	}
	return item, nil
}

// ListItems returns all items ordered by timestamp ascending, id as the
// tiebreaker. Ascending order matters: the pipeline replays assignments in
// this order to keep clustering deterministic.
func (s *Store) ListItems() ([]core.ContentItem, error) {
	rows, err := s.db.Query(`
		SELECT id, platform, title, text, url, embedding, timestamp, engagement
		FROM items ORDER BY timestamp ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	var items []core.ContentItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// ListItemsWithoutEmbedding returns items still awaiting an embedding, in
// ascending timestamp order.
func (s *Store) ListItemsWithoutEmbedding() ([]core.ContentItem, error) {
	rows, err := s.db.Query(`
		SELECT id, platform, title, text, url, embedding, timestamp, engagement
		FROM items WHERE embedding IS NULL OR embedding = ''
		ORDER BY timestamp ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list unembedded items: %w", err)
	}
	defer rows.Close()

	var items []core.ContentItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// ReplaceClusters atomically rewrites the persisted cluster state with the
// given snapshot. The engine's in-memory state is authoritative; this is a
// full checkpoint, not an incremental update.
func (s *Store) ReplaceClusters(clusters []core.NarrativeCluster) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM cluster_members`); err != nil {
		return fmt.Errorf("failed to clear cluster members: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM clusters`); err != nil {
		return fmt.Errorf("failed to clear clusters: %w", err)
	}

	for _, c := range clusters {
		centroid, err := marshalVector(c.Centroid)
		if err != nil {
			return fmt.Errorf("failed to encode centroid for cluster %d: %w", c.ID, err)
		}
		var bias []byte
		if c.Bias != nil {
			if bias, err = json.Marshal(c.Bias); err != nil {
				return fmt.Errorf("failed to encode bias for cluster %d: %w", c.ID, err)
			}
		}

		_, err = tx.Exec(`
			INSERT INTO clusters (id, summary, centroid, first_seen, last_seen, bias)
			VALUES (?, ?, ?, ?, ?, ?)`,
			c.ID, c.Summary, centroid, c.FirstSeen.UTC(), c.LastSeen.UTC(), nullable(bias),
		)
		if err != nil {
			return fmt.Errorf("failed to save cluster %d: %w", c.ID, err)
		}

		for _, itemID := range c.MemberIDs {
			_, err := tx.Exec(`INSERT INTO cluster_members (cluster_id, item_id) VALUES (?, ?)`, c.ID, itemID)
			if err != nil {
				return fmt.Errorf("failed to save member %s of cluster %d: %w", itemID, c.ID, err)
			}
		}
	}

	return tx.Commit()
}

// LoadClusters reads the persisted cluster snapshot, ordered by id.
func (s *Store) LoadClusters() ([]core.NarrativeCluster, error) {
	rows, err := s.db.Query(`
		SELECT id, summary, centroid, first_seen, last_seen, bias
		FROM clusters ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to load clusters: %w", err)
	}
	defer rows.Close()

	var clusters []core.NarrativeCluster
	for rows.Next() {
		var (
			c        core.NarrativeCluster
			centroid string
			summary  sql.NullString
			bias     sql.NullString
		)
		if err := rows.Scan(&c.ID, &summary, &centroid, &c.FirstSeen, &c.LastSeen, &bias); err != nil {
			return nil, fmt.Errorf("failed to scan cluster: %w", err)
		}
		c.Summary = summary.String
		if c.Centroid, err = unmarshalVector(centroid); err != nil {
			return nil, fmt.Errorf("failed to decode centroid for cluster %d: %w", c.ID, err)
		}
		if bias.Valid && bias.String != "" {
			var report core.BiasReport
			if err := json.Unmarshal([]byte(bias.String), &report); err != nil {
				return nil, fmt.Errorf("failed to decode bias for cluster %d: %w", c.ID, err)
			}
			c.Bias = &report
		}
		c.FirstSeen = c.FirstSeen.UTC()
		c.LastSeen = c.LastSeen.UTC()
		clusters = append(clusters, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range clusters {
		memberRows, err := s.db.Query(`
			SELECT item_id FROM cluster_members WHERE cluster_id = ? ORDER BY item_id ASC`, clusters[i].ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load members for cluster %d: %w", clusters[i].ID, err)
		}
		for memberRows.Next() {
			var itemID string
			if err := memberRows.Scan(&itemID); err != nil {
				memberRows.Close()
				return nil, fmt.Errorf("failed to scan member: %w", err)
			}
			clusters[i].MemberIDs = append(clusters[i].MemberIDs, itemID)
		}
		if err := memberRows.Err(); err != nil {
			memberRows.Close()
			return nil, err
		}
		memberRows.Close()
	}

	return clusters, nil
}

// Stats summarizes the persisted state for pipeline stage logging.
type Stats struct {
	Items      int       `json:"items"`
	Embedded   int       `json:"embedded"`
	Clusters   int       `json:"clusters"`
	Summarized int       `json:"summarized"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// GetStats returns row counts for items, embedded items, clusters, and
// summarized clusters.
func (s *Store) GetStats() (*Stats, error) {
	st := &Stats{UpdatedAt: time.Now().UTC()}
	queries := []struct {
		sql  string
		dest *int
	}{
		{`SELECT COUNT(*) FROM items`, &st.Items},
		{`SELECT COUNT(*) FROM items WHERE embedding IS NOT NULL AND embedding != ''`, &st.Embedded},
		{`SELECT COUNT(*) FROM clusters`, &st.Clusters},
		{`SELECT COUNT(*) FROM clusters WHERE summary IS NOT NULL AND summary != ''`, &st.Summarized},
	}
	for _, q := range queries {
		if err := s.db.QueryRow(q.sql).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("failed to gather stats: %w", err)
		}
	}
	return st, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanItem(row scannable) (*core.ContentItem, error) {
	var (
		item      core.ContentItem
		platform  string
		title     sql.NullString
		embedding sql.NullString
	)
	err := row.Scan(&item.ID, &platform, &title, &item.Text, &item.URL, &embedding, &item.Timestamp, &item.Engagement)
	if err != nil {
		return nil, err
	}
	item.Platform = core.Platform(platform)
	item.Title = title.String
	item.Timestamp = item.Timestamp.UTC()
	if embedding.Valid && embedding.String != "" {
		if item.Embedding, err = unmarshalVector(embedding.String); err != nil {
			return nil, err
		}
	}
	return &item, nil
}

func marshalVector(v []float64) (string, error) {
	if len(v) == 0 {
		return "", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalVector(s string) ([]float64, error) {
	if s == "" {
		return nil, nil
	}
	var v []float64
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	return v, nil
}

func nullable(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
