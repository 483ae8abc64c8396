// Package xerrors holds the richer struct error types the fetch loop and
// multi-track coordinator raise, grounded on the teacher's
// internal/orchestrator/errors.go: one struct type per failure mode,
// each implementing error, inspected by callers via errors.As rather
// than string matching.
package xerrors

import (
	"fmt"

	"github.com/streamcore/hlscollector/internal/types"
)

// ManifestRequestFailedError is raised when a playlist (master or media)
// could not be downloaded. Attempts is the number of downloads the
// raising call tried: one for a media playlist load, up to
// MaxMasterManifestRetry+1 for the master manifest.
type ManifestRequestFailedError struct {
	URL      string
	Attempts int
	Cause    error
}

func (e *ManifestRequestFailedError) Error() string {
	return fmt.Sprintf("manifest request failed url=%s attempts=%d: %v", e.URL, e.Attempts, e.Cause)
}

func (e *ManifestRequestFailedError) Unwrap() error { return e.Cause }

// ManifestContentError is raised when a downloaded playlist parses but
// fails a content invariant (e.g. a required track's duration is 0).
type ManifestContentError struct {
	Reason string
}

func (e *ManifestContentError) Error() string {
	return "manifest content error: " + e.Reason
}

// FragmentDownloadFailureError is raised once a track's consecutive
// download-failure count reaches tuning.MaxSegDownloadFailCount.
type FragmentDownloadFailureError struct {
	Track types.TrackKind
	Count int
	Cause error
}

func (e *FragmentDownloadFailureError) Error() string {
	return fmt.Sprintf("fragment download failure track=%s count=%d: %v", e.Track, e.Count, e.Cause)
}

func (e *FragmentDownloadFailureError) Unwrap() error { return e.Cause }

// LicenseTimeoutError describes a non-fatal license-acquisition timeout.
// The track controller logs such a timeout and keeps downloading; it
// does not construct this type or report it through EventSink.
type LicenseTimeoutError struct {
	Track types.TrackKind
	Hash  [20]byte
}

func (e *LicenseTimeoutError) Error() string {
	return fmt.Sprintf("license acquisition timed out track=%s hash=%x", e.Track, e.Hash)
}

// DrmDecryptFailedError is fatal: raised once a track's consecutive
// decrypt-failure count reaches tuning.MaxSegDrmDecryptFailCount.
type DrmDecryptFailedError struct {
	Track types.TrackKind
	Count int
	Cause error
}

func (e *DrmDecryptFailedError) Error() string {
	return fmt.Sprintf("drm decrypt failed track=%s count=%d: %v", e.Track, e.Count, e.Cause)
}

func (e *DrmDecryptFailedError) Unwrap() error { return e.Cause }
