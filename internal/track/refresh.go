package track

import (
	"time"

	"github.com/streamcore/hlscollector/internal/tuning"
)

// computeRefreshDelay implements the buffer-driven live playlist refresh
// cadence from spec.md §4.4: a target duration of silence before the
// next playlist GET, derived from how much buffered content remains
// ahead of the current play position, then reduced by time already
// spent since the last refresh and clamped to [min, max].
func computeRefreshDelay(culledSecondsS, totalDurationS, currentPositionS, targetDurationS float64, sinceLastRefresh time.Duration) time.Duration {
	minInterval := tuning.MinPlaylistRefreshInterval
	maxInterval := tuning.MaxPlaylistRefreshInterval

	bufferMs := (culledSecondsS + totalDurationS - currentPositionS) * 1000
	targetMs := targetDurationS * 1000

	var delayMs float64
	switch {
	case bufferMs > 2*targetMs:
		delayMs = 1.5 * targetMs
	case bufferMs > targetMs:
		delayMs = 0.5 * targetMs
	case bufferMs > 2*float64(maxInterval.Milliseconds()):
		delayMs = float64(maxInterval.Milliseconds())
	default:
		delayMs = bufferMs / 3
	}

	delay := time.Duration(delayMs) * time.Millisecond
	delay -= sinceLastRefresh
	if delay < minInterval {
		delay = minInterval
	}
	if delay > maxInterval {
		delay = maxInterval
	}
	return delay
}
