// Package lyricsapi implements a lyrics-lookup plugin backed by a public
// lyrics search API. It matches by artist and title, so it can serve
// tracks owned by any source plugin.
package lyricsapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/jfigueroa88/muselink/internal/domain"
	"github.com/jfigueroa88/muselink/internal/httpclient"
	"github.com/jfigueroa88/muselink/internal/plugin"
)

const (
	keyBaseURL = "base_url"

	defaultBaseURL = "https://lrclib.net/api"
)

// Plugin looks lyrics up over HTTP. Only the lyrics-lookup capability.
type Plugin struct {
	id     string
	client *httpclient.Client

	mu      sync.RWMutex
	baseURL string
}

func New(id string, client *httpclient.Client) *Plugin {
	if client == nil {
		client = httpclient.New(nil, 500*time.Millisecond)
	}
	return &Plugin{id: id, client: client, baseURL: defaultBaseURL}
}

func (p *Plugin) ID() string { return p.id }

func (p *Plugin) ConfigSchema() []plugin.ConfigField {
	return []plugin.ConfigField{
		{Key: keyBaseURL, Label: "Lyrics API base URL", Type: plugin.FieldString, Default: defaultBaseURL},
	}
}

func (p *Plugin) ApplyConfig(values map[string]any) error {
	if v, ok := values[keyBaseURL].(string); ok && v != "" {
		p.mu.Lock()
		p.baseURL = v
		p.mu.Unlock()
	}
	return nil
}

// Lyrics searches by artist and title. No match yields ("", nil).
func (p *Plugin) Lyrics(ctx context.Context, track *domain.Track) (string, error) {
	if track.Title == "" {
		return "", nil
	}
	p.mu.RLock()
	base := p.baseURL
	p.mu.RUnlock()

	q := url.Values{}
	q.Set("track_name", track.Title)
	if names := track.ArtistNames(); names != "" {
		q.Set("artist_name", names)
	}

	resp, err := p.client.Get(ctx, fmt.Sprintf("%s/get?%s", base, q.Encode()))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("lyrics lookup failed: %s", resp.Status)
	}

	var doc struct {
		PlainLyrics  string `json:"plainLyrics"`
		SyncedLyrics string `json:"syncedLyrics"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return "", err
	}
	if doc.SyncedLyrics != "" {
		return doc.SyncedLyrics, nil
	}
	return doc.PlainLyrics, nil
}
