package hlscollector

import (
	"github.com/streamcore/hlscollector/internal/coordinator"
	"github.com/streamcore/hlscollector/internal/drm"
	"github.com/streamcore/hlscollector/internal/index"
	"github.com/streamcore/hlscollector/internal/xerrors"
)

// Error types are aliased from the internal packages that raise them so
// a caller can inspect a failure with errors.As(err, &hlscollector.XxxError{})
// without importing hlscollector/internal/..., mirroring the teacher's
// client package re-exporting orchestrator's struct error types.
type (
	// ManifestRequestFailedError is returned when a master or media
	// playlist could not be downloaded after the configured retries.
	ManifestRequestFailedError = xerrors.ManifestRequestFailedError

	// ManifestContentError is returned when a playlist parses but fails a
	// content invariant (e.g. a required track's duration is 0, or the
	// master manifest has no regular variants).
	ManifestContentError = xerrors.ManifestContentError

	// FragmentDownloadFailureError is returned once a track's consecutive
	// fragment-download failures reach the configured limit.
	FragmentDownloadFailureError = xerrors.FragmentDownloadFailureError

	// DrmDecryptFailedError is returned once a track's consecutive DRM
	// decrypt failures reach the configured limit.
	DrmDecryptFailedError = xerrors.DrmDecryptFailedError

	// LicenseTimeoutError marks a single non-fatal license-acquisition
	// timeout; downloads continue. Open never returns it, and the track
	// controllers only log a timeout rather than constructing this type
	// or reporting it through Config.Events.
	LicenseTimeoutError = xerrors.LicenseTimeoutError
)

// ErrTracksSynchronization is returned by Open when the video and audio
// tracks cannot be synchronized by any of the three strategies in
// spec.md §4.5.1.
var ErrTracksSynchronization = coordinator.ErrTracksSynchronization

// ErrKeyAcquisitionTimeout is returned by a decrypt call that timed out
// waiting for a DRM license.
var ErrKeyAcquisitionTimeout = drm.ErrKeyAcquisitionTimeout

// ErrInvalidManifest is returned when a master or media manifest does
// not begin with #EXTM3U.
var ErrInvalidManifest = index.ErrInvalidManifest
