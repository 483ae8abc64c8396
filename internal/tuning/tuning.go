// Package tuning centralizes every named threshold from the fragment
// collector specification so they aren't scattered as magic numbers
// across track, drm, and coordinator.
package tuning

import "time"

const (
	// PlaylistTimeDiffThreshold bounds the "close enough" fuzz used when
	// walking a media playlist looking for the fragment covering a
	// target position.
	PlaylistTimeDiffThreshold = 100 * time.Millisecond

	// MaxSegDownloadFailCount is the number of consecutive fragment
	// download failures, on one track, that surfaces FragmentDownloadFailure.
	MaxSegDownloadFailCount = 10

	// MaxSegDrmDecryptFailCount is the number of consecutive decrypt
	// failures that surfaces the fatal DrmDecryptFailed.
	MaxSegDrmDecryptFailCount = 10

	// MaxManifestDownloadRetry bounds consecutive live media playlist
	// refresh failures; the next failure after that is surfaced as fatal.
	// The master manifest uses MaxMasterManifestRetry instead.
	MaxManifestDownloadRetry = 3

	// MaxLicenseAcqWaitTime bounds a single DRM decrypt call.
	MaxLicenseAcqWaitTime = 12 * time.Second

	// MaxSeqNumberDiffForSeqNumBasedSync is the sequence-number gap
	// below which two tracks are already considered in sync.
	MaxSeqNumberDiffForSeqNumBasedSync = 2

	// MaxSeqNumberLagCount bounds sequence-number-based sync stepping,
	// so a pathological gap can't spin forever.
	MaxSeqNumberLagCount = 50

	// MaxPlaylistRefreshForDiscontinuityCheckEvent bounds how many
	// playlist refreshes the discontinuity matcher waits through on a
	// time-shift-buffer (TSB/cDVR) presentation.
	MaxPlaylistRefreshForDiscontinuityCheckEvent = 5

	// MaxPlaylistRefreshForDiscontinuityCheckLive is the same bound for
	// a live presentation with no time-shift buffer.
	MaxPlaylistRefreshForDiscontinuityCheckLive = 1

	// MinPlaylistRefreshInterval / MaxPlaylistRefreshInterval bound the
	// buffer-driven live playlist refresh cadence (spec.md §4.4).
	MinPlaylistRefreshInterval = 500 * time.Millisecond
	MaxPlaylistRefreshInterval = 6 * time.Second

	// DiscontinuityMatchWindow is the +/- window the discontinuity
	// matcher searches around a candidate position.
	DiscontinuityMatchWindow = 30 * time.Second

	// MaxMasterManifestRetry bounds master manifest 404 retries at tune time.
	MaxMasterManifestRetry = 3

	// MasterManifestRetryInterval is the delay between master manifest retries.
	MasterManifestRetryInterval = 500 * time.Millisecond
)

// GetDeferTime computes the deferred-DRM-acquisition fire delay for an
// EXT-X-X1-LIN-CK:<seconds> directive (spec.md §4.2 step 4). The original
// AAMP implementation additionally jitters this by a small random offset
// to spread license-server load across concurrently tuning clients;
// that jitter is a scheduling nicety, not a correctness property, and is
// dropped here so the delay stays a pure, testable function of its inputs.
func GetDeferTime(seconds, targetDurationS float64) time.Duration {
	if seconds <= 0 {
		return 0
	}
	if targetDurationS > 0 && targetDurationS < seconds {
		seconds = targetDurationS
	}
	return time.Duration(seconds * float64(time.Second))
}
