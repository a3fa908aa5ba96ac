package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jfigueroa88/muselink/internal/domain"
)

// catalogRow mirrors the downloads table.
type catalogRow struct {
	TrackID      string    `db:"track_id"`
	Source       string    `db:"source"`
	Title        string    `db:"title"`
	Artist       string    `db:"artist"`
	ArtworkURL   string    `db:"artwork_url"`
	FilePath     string    `db:"file_path"`
	FileSize     int64     `db:"file_size"`
	Format       string    `db:"format"`
	DownloadedAt time.Time `db:"downloaded_at"`
}

func (r *catalogRow) metadata() (*domain.DownloadedTrackMetadata, error) {
	id, err := domain.ParseTrackID(r.TrackID)
	if err != nil {
		return nil, err
	}
	return &domain.DownloadedTrackMetadata{
		TrackID:      id,
		Source:       r.Source,
		Title:        r.Title,
		Artist:       r.Artist,
		ArtworkURL:   r.ArtworkURL,
		FilePath:     r.FilePath,
		FileSize:     r.FileSize,
		Format:       r.Format,
		DownloadedAt: r.DownloadedAt,
	}, nil
}

func rowFromMetadata(m *domain.DownloadedTrackMetadata) *catalogRow {
	return &catalogRow{
		TrackID:      m.TrackID.String(),
		Source:       m.Source,
		Title:        m.Title,
		Artist:       m.Artist,
		ArtworkURL:   m.ArtworkURL,
		FilePath:     m.FilePath,
		FileSize:     m.FileSize,
		Format:       m.Format,
		DownloadedAt: m.DownloadedAt,
	}
}

// Catalog is the durable mapping from track id to completed-download
// metadata. The full collection is loaded into memory at startup and
// written through to SQLite on every mutation. Entries are removed only
// by an explicit delete.
type Catalog struct {
	db *DB

	mu      sync.RWMutex
	entries map[string]*domain.DownloadedTrackMetadata
}

func NewCatalog(db *DB) (*Catalog, error) {
	c := &Catalog{
		db:      db,
		entries: make(map[string]*domain.DownloadedTrackMetadata),
	}

	var rows []catalogRow
	if err := db.Select(&rows, `SELECT * FROM downloads`); err != nil {
		return nil, fmt.Errorf("failed to load download catalog: %w", err)
	}
	for i := range rows {
		meta, err := rows[i].metadata()
		if err != nil {
			return nil, fmt.Errorf("corrupt catalog row %q: %w", rows[i].TrackID, err)
		}
		c.entries[meta.TrackID.String()] = meta
	}
	return c, nil
}

// Get returns the catalog entry for a track id, if one exists.
func (c *Catalog) Get(id domain.TrackID) (*domain.DownloadedTrackMetadata, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.entries[id.String()]
	if !ok {
		return nil, false
	}
	cp := *m
	return &cp, true
}

// List returns all entries, most recently downloaded first.
func (c *Catalog) List() []*domain.DownloadedTrackMetadata {
	c.mu.RLock()
	out := make([]*domain.DownloadedTrackMetadata, 0, len(c.entries))
	for _, m := range c.entries {
		cp := *m
		out = append(out, &cp)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].DownloadedAt.After(out[j].DownloadedAt)
	})
	return out
}

// Len reports the number of catalog entries.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Put creates or replaces the entry for the metadata's track id, flushing
// to the database before the in-memory view is updated.
func (c *Catalog) Put(m *domain.DownloadedTrackMetadata) error {
	row := rowFromMetadata(m)
	_, err := c.db.NamedExec(`
		INSERT OR REPLACE INTO downloads
			(track_id, source, title, artist, artwork_url, file_path, file_size, format, downloaded_at)
		VALUES
			(:track_id, :source, :title, :artist, :artwork_url, :file_path, :file_size, :format, :downloaded_at)
	`, row)
	if err != nil {
		return fmt.Errorf("failed to persist download %q: %w", row.TrackID, err)
	}

	c.mu.Lock()
	cp := *m
	c.entries[row.TrackID] = &cp
	c.mu.Unlock()
	return nil
}

// Delete removes the entry for a track id. Deleting an absent id is a
// no-op.
func (c *Catalog) Delete(id domain.TrackID) error {
	token := id.String()
	if _, err := c.db.Exec(`DELETE FROM downloads WHERE track_id = ?`, token); err != nil {
		return fmt.Errorf("failed to delete download %q: %w", token, err)
	}

	c.mu.Lock()
	delete(c.entries, token)
	c.mu.Unlock()
	return nil
}
