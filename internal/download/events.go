package download

import "github.com/jfigueroa88/muselink/internal/domain"

// Event names emitted on the bus. Each name has one fixed payload shape.
const (
	EventProgress  = "download:progress"  // ProgressEvent
	EventCompleted = "download:completed" // CompletedEvent
	EventFailed    = "download:failed"    // FailedEvent
	EventCancelled = "download:cancelled" // CancelledEvent
	EventRemoved   = "download:removed"   // RemovedEvent
)

// ProgressEvent is emitted at a bounded rate while bytes stream in.
type ProgressEvent struct {
	TrackID  string `json:"track_id"`
	Progress int    `json:"progress"`
}

// CompletedEvent is emitted once the file is promoted and the catalog
// entry persisted.
type CompletedEvent struct {
	TrackID  string                          `json:"track_id"`
	Metadata *domain.DownloadedTrackMetadata `json:"metadata"`
}

// FailedEvent carries the stored error string, surfaced verbatim for a
// retry prompt.
type FailedEvent struct {
	TrackID string `json:"track_id"`
	Error   string `json:"error"`
}

type CancelledEvent struct {
	TrackID string `json:"track_id"`
}

type RemovedEvent struct {
	TrackID string `json:"track_id"`
}
