package domain

import (
	"fmt"
	"strings"
)

// TrackID is the stable composite key identifying a track across catalogs:
// the plugin that owns it plus the plugin-scoped id.
type TrackID struct {
	Source   string `json:"source"`
	SourceID string `json:"source_id"`
}

func NewTrackID(source, sourceID string) TrackID {
	return TrackID{Source: source, SourceID: sourceID}
}

// ParseTrackID parses the single-string token form produced by String.
func ParseTrackID(token string) (TrackID, error) {
	source, sourceID, ok := strings.Cut(token, ":")
	if !ok || source == "" || sourceID == "" {
		return TrackID{}, fmt.Errorf("invalid track id token: %q", token)
	}
	return TrackID{Source: source, SourceID: sourceID}, nil
}

// String serializes the id as a single token, "source:sourceID".
func (id TrackID) String() string {
	return id.Source + ":" + id.SourceID
}

func (id TrackID) IsZero() bool {
	return id.Source == "" && id.SourceID == ""
}

// ArtistRef is a display name plus an optional plugin-scoped id.
type ArtistRef struct {
	Name string `json:"name"`
	ID   string `json:"id,omitempty"`
}

// AlbumRef is a display title plus an optional plugin-scoped id.
type AlbumRef struct {
	Title string `json:"title"`
	ID    string `json:"id,omitempty"`
}

// Artwork is one variant of a track's cover image.
type Artwork struct {
	URL    string `json:"url"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// Track is an immutable track value. Mutable-by-replacement fields
// (Favorite, PlayCount) are never set in place; use WithFavorite and
// WithPlayCount to derive a new value.
type Track struct {
	ID        TrackID     `json:"id"`
	Title     string      `json:"title"`
	Artists   []ArtistRef `json:"artists,omitempty"`
	Album     *AlbumRef   `json:"album,omitempty"`
	Duration  int         `json:"duration"` // seconds; zero means unknown
	Artwork   []Artwork   `json:"artwork,omitempty"`
	Favorite  bool        `json:"favorite"`
	PlayCount int         `json:"play_count"`
}

// ArtistNames joins all artist display names for denormalized storage.
func (t *Track) ArtistNames() string {
	names := make([]string, 0, len(t.Artists))
	for _, a := range t.Artists {
		if a.Name != "" {
			names = append(names, a.Name)
		}
	}
	return strings.Join(names, ", ")
}

// ArtworkNearest picks the artwork variant whose width is closest to the
// requested width. Entries without a declared width lose to entries with
// one; with no widths at all the first entry wins.
func (t *Track) ArtworkNearest(width int) (Artwork, bool) {
	if len(t.Artwork) == 0 {
		return Artwork{}, false
	}
	best := t.Artwork[0]
	bestDist := -1
	for _, a := range t.Artwork {
		if a.Width == 0 {
			continue
		}
		dist := a.Width - width
		if dist < 0 {
			dist = -dist
		}
		if bestDist < 0 || dist < bestDist {
			best = a
			bestDist = dist
		}
	}
	return best, true
}

// WithFavorite returns a copy of the track with the favorite flag replaced.
func (t Track) WithFavorite(fav bool) Track {
	t.Favorite = fav
	return t
}

// WithPlayCount returns a copy of the track with the play count replaced.
func (t Track) WithPlayCount(count int) Track {
	t.PlayCount = count
	return t
}
