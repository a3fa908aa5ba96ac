package domain

import "time"

// DownloadStatus is the lifecycle state of a single track download.
type DownloadStatus string

const (
	DownloadPending     DownloadStatus = "pending"
	DownloadDownloading DownloadStatus = "downloading"
	DownloadCompleted   DownloadStatus = "completed"
	DownloadFailed      DownloadStatus = "failed"
)

// IsTerminal reports whether the status cannot change without an explicit
// retry or remove.
func (s DownloadStatus) IsTerminal() bool {
	return s == DownloadCompleted || s == DownloadFailed
}

// DownloadInfo is the per-track download bookkeeping record. Exactly one
// exists per track id at any time. Title, Artist and ArtworkURL are
// denormalized so listings never need to join against the library.
type DownloadInfo struct {
	TrackID  TrackID        `json:"track_id"`
	Status   DownloadStatus `json:"status"`
	Progress int            `json:"progress"` // 0..100

	Title      string `json:"title"`
	Artist     string `json:"artist"`
	ArtworkURL string `json:"artwork_url,omitempty"`

	// Set only when Status == DownloadCompleted.
	FilePath     string     `json:"file_path,omitempty"`
	FileSize     int64      `json:"file_size,omitempty"`
	DownloadedAt *time.Time `json:"downloaded_at,omitempty"`

	// Set only when Status == DownloadFailed.
	Error string `json:"error,omitempty"`
}

// DownloadedTrackMetadata is the durable catalog entry written once a
// download completes. It is removed only by an explicit delete.
type DownloadedTrackMetadata struct {
	TrackID      TrackID   `json:"track_id"`
	Source       string    `json:"source" db:"source"`
	Title        string    `json:"title" db:"title"`
	Artist       string    `json:"artist" db:"artist"`
	ArtworkURL   string    `json:"artwork_url,omitempty" db:"artwork_url"`
	FilePath     string    `json:"file_path" db:"file_path"`
	FileSize     int64     `json:"file_size" db:"file_size"`
	Format       string    `json:"format" db:"format"`
	DownloadedAt time.Time `json:"downloaded_at" db:"downloaded_at"`
}

// Info projects the catalog entry back into a completed DownloadInfo.
func (m *DownloadedTrackMetadata) Info() *DownloadInfo {
	at := m.DownloadedAt
	return &DownloadInfo{
		TrackID:      m.TrackID,
		Status:       DownloadCompleted,
		Progress:     100,
		Title:        m.Title,
		Artist:       m.Artist,
		ArtworkURL:   m.ArtworkURL,
		FilePath:     m.FilePath,
		FileSize:     m.FileSize,
		DownloadedAt: &at,
	}
}
