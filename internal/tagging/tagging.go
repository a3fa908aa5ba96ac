// Package tagging writes metadata tags into completed download files.
package tagging

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/bogem/id3v2/v2"
	"github.com/go-flac/flacpicture"
	"github.com/go-flac/flacvorbis"
	flac "github.com/go-flac/go-flac"

	"github.com/jfigueroa88/muselink/internal/constants"
	"github.com/jfigueroa88/muselink/internal/domain"
	"github.com/jfigueroa88/muselink/internal/httpclient"
	"github.com/jfigueroa88/muselink/internal/logger"
)

const maxArtworkBytes = 10 << 20

// Tagger tags downloaded files with the catalog metadata and, when the
// artwork URL is reachable, an embedded front cover.
type Tagger struct {
	client *httpclient.Client
	log    *logger.Logger
}

func New(client *httpclient.Client, log *logger.Logger) *Tagger {
	if log == nil {
		log = logger.Default()
	}
	return &Tagger{
		client: client,
		log:    log.WithComponent("tagging"),
	}
}

// Tag writes title/artist tags and cover art into the file. The artwork
// fetch is best-effort; tagging proceeds without it.
func (t *Tagger) Tag(path string, meta *domain.DownloadedTrackMetadata) error {
	var artwork []byte
	if meta.ArtworkURL != "" && t.client != nil {
		var err error
		artwork, err = t.fetchArtwork(meta.ArtworkURL)
		if err != nil {
			t.log.Debug("Artwork fetch failed", "url", meta.ArtworkURL, "error", err)
		}
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case constants.ExtFLAC:
		return tagFLAC(path, meta, artwork)
	case constants.ExtMP3:
		return tagMP3(path, meta, artwork)
	default:
		// m4a and friends are stored untagged.
		return nil
	}
}

func (t *Tagger) fetchArtwork(url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), constants.ImageHTTPTimeout)
	defer cancel()

	resp, err := t.client.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("artwork fetch returned status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxArtworkBytes))
}

func tagFLAC(path string, meta *domain.DownloadedTrackMetadata, artwork []byte) error {
	f, err := flac.ParseFile(path)
	if err != nil {
		return fmt.Errorf("failed to parse flac: %w", err)
	}

	// Drop stale comment and picture blocks before appending fresh ones.
	kept := f.Meta[:0]
	for _, block := range f.Meta {
		if block.Type == flac.VorbisComment || block.Type == flac.Picture {
			continue
		}
		kept = append(kept, block)
	}
	f.Meta = kept

	cmt := flacvorbis.New()
	if err := cmt.Add(flacvorbis.FIELD_TITLE, meta.Title); err != nil {
		return fmt.Errorf("failed to add title: %w", err)
	}
	if meta.Artist != "" {
		if err := cmt.Add(flacvorbis.FIELD_ARTIST, meta.Artist); err != nil {
			return fmt.Errorf("failed to add artist: %w", err)
		}
	}
	_ = cmt.Add("DATE", meta.DownloadedAt.Format(time.DateOnly))
	cmtBlock := cmt.Marshal()
	f.Meta = append(f.Meta, &cmtBlock)

	if len(artwork) > 0 {
		pic, err := flacpicture.NewFromImageData(
			flacpicture.PictureTypeFrontCover, "Front cover", artwork, constants.MimeTypeJPEG)
		if err != nil {
			return fmt.Errorf("failed to build picture block: %w", err)
		}
		picBlock := pic.Marshal()
		f.Meta = append(f.Meta, &picBlock)
	}

	if err := f.Save(path); err != nil {
		return fmt.Errorf("failed to save flac: %w", err)
	}
	return nil
}

func tagMP3(path string, meta *domain.DownloadedTrackMetadata, artwork []byte) error {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return fmt.Errorf("failed to open mp3: %w", err)
	}
	defer tag.Close()

	tag.SetDefaultEncoding(id3v2.EncodingUTF8)
	tag.SetTitle(meta.Title)
	if meta.Artist != "" {
		tag.SetArtist(meta.Artist)
	}

	if len(artwork) > 0 {
		tag.AddAttachedPicture(id3v2.PictureFrame{
			Encoding:    id3v2.EncodingUTF8,
			MimeType:    constants.MimeTypeJPEG,
			PictureType: id3v2.PTFrontCover,
			Description: "Front cover",
			Picture:     artwork,
		})
	}

	if err := tag.Save(); err != nil {
		return fmt.Errorf("failed to save mp3 tags: %w", err)
	}
	return nil
}
