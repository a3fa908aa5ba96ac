// Package restsource implements a streaming source plugin backed by a
// remote REST catalog. It covers the source-streaming and metadata-lookup
// capabilities and accepts a base URL and quality setting at runtime.
package restsource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/jfigueroa88/muselink/internal/domain"
	"github.com/jfigueroa88/muselink/internal/httpclient"
	"github.com/jfigueroa88/muselink/internal/plugin"
)

const (
	keyBaseURL = "base_url"
	keyQuality = "quality"

	defaultQuality = "LOSSLESS"
)

// Plugin talks to a REST catalog exposing track metadata and stream
// endpoints. All requests go through the shared rate-limited client.
type Plugin struct {
	id     string
	client *httpclient.Client

	mu      sync.RWMutex
	baseURL string
	quality string
}

// New creates a REST source plugin. The base URL may be empty at
// construction and supplied later via ApplyConfig.
func New(id, baseURL string, client *httpclient.Client) *Plugin {
	if client == nil {
		client = httpclient.New(nil, 100*time.Millisecond)
	}
	return &Plugin{
		id:      id,
		client:  client,
		baseURL: baseURL,
		quality: defaultQuality,
	}
}

func (p *Plugin) ID() string { return p.id }

func (p *Plugin) ConfigSchema() []plugin.ConfigField {
	return []plugin.ConfigField{
		{Key: keyBaseURL, Label: "API base URL", Type: plugin.FieldString, Required: true},
		{Key: keyQuality, Label: "Stream quality", Type: plugin.FieldSelect,
			Default: defaultQuality, Options: []string{"LOW", "HIGH", "LOSSLESS"}},
	}
}

// ApplyConfig updates the endpoint and quality. Values are validated
// against the schema by the registry before they reach here.
func (p *Plugin) ApplyConfig(values map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok := values[keyBaseURL].(string); ok {
		if v == "" {
			return fmt.Errorf("%s must not be empty", keyBaseURL)
		}
		p.baseURL = v
	}
	if v, ok := values[keyQuality].(string); ok {
		p.quality = v
	}
	return nil
}

func (p *Plugin) endpoint() (base, quality string, err error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.baseURL == "" {
		return "", "", fmt.Errorf("plugin %s: base_url not configured", p.id)
	}
	return p.baseURL, p.quality, nil
}

// trackResponse is the remote catalog's track document.
type trackResponse struct {
	ID       json.Number `json:"id"`
	Title    string      `json:"title"`
	Duration int         `json:"duration"`
	Artist   struct {
		ID   json.Number `json:"id"`
		Name string      `json:"name"`
	} `json:"artist"`
	Album struct {
		ID    json.Number `json:"id"`
		Title string      `json:"title"`
		Cover string      `json:"cover"`
	} `json:"album"`
}

// FindTrack fetches the track document for a plugin-scoped id. An
// unknown id yields (nil, nil).
func (p *Plugin) FindTrack(ctx context.Context, id domain.TrackID) (*domain.Track, error) {
	if err := plugin.OwnsTrack(p, id); err != nil {
		return nil, err
	}
	base, _, err := p.endpoint()
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Get(ctx, fmt.Sprintf("%s/track/?id=%s", base, id.SourceID))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("track lookup failed: %s", resp.Status)
	}

	var doc trackResponse
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}

	track := &domain.Track{
		ID:       id,
		Title:    doc.Title,
		Duration: doc.Duration,
	}
	if doc.Artist.Name != "" {
		track.Artists = []domain.ArtistRef{{Name: doc.Artist.Name, ID: doc.Artist.ID.String()}}
	}
	if doc.Album.Title != "" {
		track.Album = &domain.AlbumRef{Title: doc.Album.Title, ID: doc.Album.ID.String()}
	}
	if doc.Album.Cover != "" {
		track.Artwork = []domain.Artwork{{URL: doc.Album.Cover, Width: 640, Height: 640}}
	}
	return track, nil
}

// streamResponse carries the resolved direct stream URL.
type streamResponse struct {
	URL      string `json:"url"`
	MimeType string `json:"mimeType"`
}

// OpenStream resolves the stream URL for the track and opens it. The
// returned body is the raw audio stream; Size comes from Content-Length
// when the origin reports one.
func (p *Plugin) OpenStream(ctx context.Context, track *domain.Track) (*plugin.Stream, error) {
	if err := plugin.OwnsTrack(p, track.ID); err != nil {
		return nil, err
	}
	base, quality, err := p.endpoint()
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Get(ctx, fmt.Sprintf("%s/track/stream/?id=%s&quality=%s", base, track.ID.SourceID, quality))
	if err != nil {
		return nil, err
	}
	var doc streamResponse
	err = json.NewDecoder(resp.Body).Decode(&doc)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	if doc.URL == "" {
		return nil, fmt.Errorf("no stream url for track %s", track.ID)
	}

	sResp, err := p.client.Get(ctx, doc.URL)
	if err != nil {
		return nil, err
	}
	if sResp.StatusCode != http.StatusOK {
		sResp.Body.Close()
		return nil, fmt.Errorf("stream fetch failed: %s", sResp.Status)
	}

	mime := doc.MimeType
	if mime == "" {
		mime = sResp.Header.Get("Content-Type")
	}
	var size int64
	if cl := sResp.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
			size = n
		}
	}
	return &plugin.Stream{Body: sResp.Body, MimeType: mime, Size: size}, nil
}
