// Package plugin defines the capability contracts music-source providers
// implement, and the registry that indexes live instances by capability.
package plugin

import (
	"context"
	"fmt"
	"io"

	"github.com/jfigueroa88/muselink/internal/domain"
)

// Capability names a contract a plugin may implement. A plugin's
// capabilities are derived from the interfaces its instance satisfies,
// never from ad hoc fields.
type Capability string

const (
	CapabilityStream   Capability = "source-streaming"
	CapabilityLyrics   Capability = "lyrics-lookup"
	CapabilityMetadata Capability = "metadata-lookup"
)

// Plugin is the minimal contract every provider implements.
type Plugin interface {
	// ID is the globally unique plugin identifier. It is also the Source
	// component of every track id the plugin mints.
	ID() string
	// ConfigSchema declares the plugin's configuration fields, in display
	// order. The registry stores but does not interpret it.
	ConfigSchema() []ConfigField
}

// Stream is an open byte stream for a track. The sequence is finite and
// restartable from the start, not mid-stream.
type Stream struct {
	Body     io.ReadCloser
	MimeType string
	// Size is the total byte count, or zero when the provider cannot
	// report one.
	Size int64
}

// Streamer is implemented by plugins with the source-streaming capability.
// Transport failures must surface as errors, never silent truncation.
type Streamer interface {
	OpenStream(ctx context.Context, track *domain.Track) (*Stream, error)
}

// LyricsProvider is implemented by plugins with the lyrics-lookup
// capability. A provider that has no lyrics for the track returns
// ("", nil); errors are reserved for transport failures.
type LyricsProvider interface {
	Lyrics(ctx context.Context, track *domain.Track) (string, error)
}

// MetadataProvider is implemented by plugins with the metadata-lookup
// capability. An unknown id returns (nil, nil).
type MetadataProvider interface {
	FindTrack(ctx context.Context, id domain.TrackID) (*domain.Track, error)
}

// Configurable is implemented by plugins that accept live configuration
// values matching their schema.
type Configurable interface {
	ApplyConfig(values map[string]any) error
}

// Descriptor is the registration record exposed to callers and the
// configuration UI.
type Descriptor struct {
	ID           string        `json:"id"`
	Capabilities []Capability  `json:"capabilities"`
	ConfigSchema []ConfigField `json:"config_schema,omitempty"`
}

// CapabilitiesOf derives the capability set from the interfaces the
// instance satisfies, in a stable order.
func CapabilitiesOf(p Plugin) []Capability {
	var caps []Capability
	if _, ok := p.(Streamer); ok {
		caps = append(caps, CapabilityStream)
	}
	if _, ok := p.(LyricsProvider); ok {
		caps = append(caps, CapabilityLyrics)
	}
	if _, ok := p.(MetadataProvider); ok {
		caps = append(caps, CapabilityMetadata)
	}
	return caps
}

// HasCapability reports whether the instance satisfies the capability's
// interface.
func HasCapability(p Plugin, c Capability) bool {
	switch c {
	case CapabilityStream:
		_, ok := p.(Streamer)
		return ok
	case CapabilityLyrics:
		_, ok := p.(LyricsProvider)
		return ok
	case CapabilityMetadata:
		_, ok := p.(MetadataProvider)
		return ok
	}
	return false
}

// Describe builds the registration record for a plugin instance.
func Describe(p Plugin) Descriptor {
	return Descriptor{
		ID:           p.ID(),
		Capabilities: CapabilitiesOf(p),
		ConfigSchema: p.ConfigSchema(),
	}
}

// OwnsTrack checks the invariant that a plugin only mints ids whose source
// component it owns.
func OwnsTrack(p Plugin, id domain.TrackID) error {
	if id.Source != p.ID() {
		return fmt.Errorf("plugin %q does not own track id %q", p.ID(), id)
	}
	return nil
}
