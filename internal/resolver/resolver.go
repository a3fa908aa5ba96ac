// Package resolver reconciles a track id against the partial data sources
// that may know it, producing one canonical Track for display and
// playback.
package resolver

import (
	"github.com/jfigueroa88/muselink/internal/domain"
	"github.com/jfigueroa88/muselink/internal/logger"
)

// Library is the live library collection collaborator.
type Library interface {
	FindTrack(id domain.TrackID) (*domain.Track, bool)
}

// History is the play-history collaborator, ordered by recency.
type History interface {
	FindTrack(id domain.TrackID) (*domain.Track, bool)
}

// DownloadIndex is a read-only view over the download orchestrator's
// catalog and bookkeeping.
type DownloadIndex interface {
	Metadata(id domain.TrackID) (*domain.DownloadedTrackMetadata, bool)
	Info(id domain.TrackID) (*domain.DownloadInfo, bool)
}

// Resolver checks sources in priority order: library, then history, then
// download metadata, then a minimal synthetic track built from whatever
// denormalized fields the DownloadInfo carries.
type Resolver struct {
	library   Library
	history   History
	downloads DownloadIndex
	log       *logger.Logger
}

func New(library Library, history History, downloads DownloadIndex, log *logger.Logger) *Resolver {
	if log == nil {
		log = logger.Default()
	}
	return &Resolver{
		library:   library,
		history:   history,
		downloads: downloads,
		log:       log.WithComponent("resolver"),
	}
}

// Resolve returns the best available Track for the id. Tracks synthesized
// from download records carry a zero duration, which consumers must read
// as "unknown", not zero-length.
func (r *Resolver) Resolve(id domain.TrackID) (*domain.Track, bool) {
	if r.library != nil {
		if track, ok := r.library.FindTrack(id); ok {
			return track, true
		}
	}
	if r.history != nil {
		if track, ok := r.history.FindTrack(id); ok {
			return track, true
		}
	}
	if r.downloads != nil {
		if meta, ok := r.downloads.Metadata(id); ok {
			return trackFromMetadata(meta), true
		}
		if info, ok := r.downloads.Info(id); ok {
			return trackFromInfo(info), true
		}
	}
	r.log.Debug("Track unresolved", "track_id", id.String())
	return nil, false
}

func trackFromMetadata(meta *domain.DownloadedTrackMetadata) *domain.Track {
	track := &domain.Track{
		ID:    meta.TrackID,
		Title: meta.Title,
	}
	if meta.Artist != "" {
		track.Artists = []domain.ArtistRef{{Name: meta.Artist}}
	}
	if meta.ArtworkURL != "" {
		track.Artwork = []domain.Artwork{{URL: meta.ArtworkURL}}
	}
	return track
}

func trackFromInfo(info *domain.DownloadInfo) *domain.Track {
	track := &domain.Track{
		ID:    info.TrackID,
		Title: info.Title,
	}
	if info.Artist != "" {
		track.Artists = []domain.ArtistRef{{Name: info.Artist}}
	}
	if info.ArtworkURL != "" {
		track.Artwork = []domain.Artwork{{URL: info.ArtworkURL}}
	}
	return track
}
