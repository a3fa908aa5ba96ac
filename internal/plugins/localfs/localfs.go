// Package localfs implements a source plugin over a directory of audio
// files. Track ids are relative paths under the configured root, and
// metadata comes from the files' embedded tags.
package localfs

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dhowden/tag"

	"github.com/jfigueroa88/muselink/internal/constants"
	"github.com/jfigueroa88/muselink/internal/domain"
	"github.com/jfigueroa88/muselink/internal/plugin"
)

const keyRoot = "root"

var audioExtensions = map[string]string{
	".mp3":  constants.MimeTypeMP3,
	".flac": constants.MimeTypeFLAC,
	".m4a":  constants.MimeTypeMP4,
}

// Plugin serves tracks straight from the local filesystem. It implements
// source-streaming and metadata-lookup.
type Plugin struct {
	id string

	mu   sync.RWMutex
	root string
}

// New creates a local filesystem plugin rooted at dir.
func New(id, dir string) *Plugin {
	return &Plugin{id: id, root: dir}
}

func (p *Plugin) ID() string { return p.id }

func (p *Plugin) ConfigSchema() []plugin.ConfigField {
	return []plugin.ConfigField{
		{Key: keyRoot, Label: "Music directory", Type: plugin.FieldString, Required: true},
	}
}

func (p *Plugin) ApplyConfig(values map[string]any) error {
	if v, ok := values[keyRoot].(string); ok {
		if v == "" {
			return fmt.Errorf("%s must not be empty", keyRoot)
		}
		p.mu.Lock()
		p.root = v
		p.mu.Unlock()
	}
	return nil
}

func (p *Plugin) rootDir() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.root
}

// resolve maps a plugin-scoped id to an absolute path, rejecting ids
// that escape the root.
func (p *Plugin) resolve(sourceID string) (string, error) {
	root := p.rootDir()
	if root == "" {
		return "", fmt.Errorf("plugin %s: root not configured", p.id)
	}
	full := filepath.Join(root, filepath.FromSlash(sourceID))
	rel, err := filepath.Rel(root, full)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("track id %q escapes the music directory", sourceID)
	}
	return full, nil
}

// FindTrack reads embedded tags from the file named by the id. A missing
// file yields (nil, nil).
func (p *Plugin) FindTrack(ctx context.Context, id domain.TrackID) (*domain.Track, error) {
	if err := plugin.OwnsTrack(p, id); err != nil {
		return nil, err
	}
	path, err := p.resolve(id.SourceID)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	track := &domain.Track{
		ID:    id,
		Title: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
	}
	m, err := tag.ReadFrom(f)
	if err != nil {
		// Untagged files are still playable; fall back to the filename.
		return track, nil
	}
	if t := m.Title(); t != "" {
		track.Title = t
	}
	artist := m.Artist()
	if aa := m.AlbumArtist(); aa != "" {
		artist = aa
	}
	if artist != "" {
		track.Artists = []domain.ArtistRef{{Name: artist}}
	}
	if album := m.Album(); album != "" {
		track.Album = &domain.AlbumRef{Title: album}
	}
	return track, nil
}

// OpenStream opens the underlying file.
func (p *Plugin) OpenStream(ctx context.Context, track *domain.Track) (*plugin.Stream, error) {
	if err := plugin.OwnsTrack(p, track.ID); err != nil {
		return nil, err
	}
	path, err := p.resolve(track.ID.SourceID)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	mime, ok := audioExtensions[strings.ToLower(filepath.Ext(path))]
	if !ok {
		mime = constants.MimeTypeMP3
	}
	return &plugin.Stream{Body: f, MimeType: mime, Size: info.Size()}, nil
}

// Scan walks the root and returns ids for every audio file found,
// relative-path form with forward slashes.
func (p *Plugin) Scan() ([]domain.TrackID, error) {
	root := p.rootDir()
	if root == "" {
		return nil, fmt.Errorf("plugin %s: root not configured", p.id)
	}

	var ids []domain.TrackID
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if _, ok := audioExtensions[strings.ToLower(filepath.Ext(path))]; !ok {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		ids = append(ids, domain.NewTrackID(p.id, filepath.ToSlash(rel)))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}
