// Package constants contains application-wide constants to avoid magic
// numbers and strings.
package constants

import "time"

// Application defaults
const (
	DefaultPort             = "8080"
	DefaultDBPath           = "muselink.db"
	DefaultConcurrency      = 2
	DefaultHTTPTimeout      = 5 * time.Minute
	ImageHTTPTimeout        = 30 * time.Second
	DefaultRetryCount       = 3
	DefaultRetryBase        = 1 * time.Second
	DefaultPathTemplate     = "{{.Artist}}/{{.Title}}"
	DefaultProgressInterval = 200 * time.Millisecond
	DefaultArtworkWidth     = 640
)

// MIME types
const (
	MimeTypeFLAC = "audio/flac"
	MimeTypeMP3  = "audio/mpeg"
	MimeTypeMP4  = "audio/mp4"
	MimeTypeJPEG = "image/jpeg"
)

// File extensions
const (
	ExtFLAC = ".flac"
	ExtMP3  = ".mp3"
	ExtM4A  = ".m4a"
)

// ExtensionForMime maps a stream's reported content type to the file
// extension downloads are stored with. Unknown types fall back to mp3.
func ExtensionForMime(mime string) string {
	switch mime {
	case MimeTypeFLAC:
		return ExtFLAC
	case MimeTypeMP4:
		return ExtM4A
	case MimeTypeMP3:
		return ExtMP3
	default:
		return ExtMP3
	}
}
