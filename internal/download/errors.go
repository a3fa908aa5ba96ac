package download

import (
	"errors"
	"fmt"
)

var (
	// ErrCancelled reports a download discarded by Cancel. Cancelled
	// downloads leave no record; they are not failures.
	ErrCancelled = errors.New("download cancelled")
	// ErrNotFailed rejects a retry for a track that is not in the failed
	// state.
	ErrNotFailed = errors.New("download is not in failed state")
	// ErrNotCompleted rejects a removal for a track without a completed
	// download.
	ErrNotCompleted = errors.New("download is not completed")
)

// NoProviderError means no registered plugin owns the track's source.
type NoProviderError struct {
	Source string
}

func (e *NoProviderError) Error() string {
	return fmt.Sprintf("no streaming provider registered for source %q", e.Source)
}

// StreamError is a transport or provider failure mid-download.
type StreamError struct {
	Source string
	Err    error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream from %q failed: %v", e.Source, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }
