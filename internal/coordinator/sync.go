package coordinator

import (
	"errors"
	"math"

	"github.com/streamcore/hlscollector/internal/track"
	"github.com/streamcore/hlscollector/internal/tuning"
	"github.com/streamcore/hlscollector/internal/types"
)

// ErrTracksSynchronization is returned by syncInitial when none of the
// three strategies in spec.md §4.5.1 applies.
var ErrTracksSynchronization = errors.New("hlscollector: tracks synchronization failed")

// trackSync bundles the per-track inputs the sync/live-edge algorithms
// need: the freshly indexed playlist and the mutable state they adjust.
type trackSync struct {
	MP    *types.MediaPlaylist
	State *track.State
}

type syncOptions struct {
	UseProgramDateTimeIfAvailable bool
	WillLiveAdjust                bool
}

// syncInitial implements spec.md §4.5.1: discontinuity-aligned sync is
// tried first when both tracks carry an equal, positive discontinuity
// count and either the presentation is VOD or no live-edge adjustment
// will follow; otherwise sequence-number sync is tried (unless
// program-date-time is both available and preferred); start-time sync
// is the final fallback.
func syncInitial(video, audio trackSync, opts syncOptions) error {
	vDisc := len(video.MP.Discontinuities)
	aDisc := len(audio.MP.Discontinuities)
	bothVOD := video.MP.PlaylistKind == types.PlaylistVOD && audio.MP.PlaylistKind == types.PlaylistVOD

	if vDisc == aDisc && vDisc > 0 && (bothVOD || !opts.WillLiveAdjust) {
		applyDiscontinuityAlignedSync(video, audio)
		return nil
	}

	haveBothStartTimes := video.State.StartTimeForSync != nil && audio.State.StartTimeForSync != nil

	if !opts.UseProgramDateTimeIfAvailable || !haveBothStartTimes {
		if applySequenceNumberSync(video, audio) {
			return nil
		}
	}

	if haveBothStartTimes {
		applyStartTimeSync(video, audio)
		return nil
	}

	return ErrTracksSynchronization
}

// applyDiscontinuityAlignedSync aligns audio's play target to the same
// offset-into-period as video's, using the discontinuity (period
// boundary) each track's current target falls within. Equal
// discontinuity counts (checked by the caller) let periods be matched
// by index.
func applyDiscontinuityAlignedSync(video, audio trackSync) {
	vIdx := periodIndexContaining(video.MP.Discontinuities, video.State.PlayTargetS)
	if vIdx < 0 || vIdx >= len(audio.MP.Discontinuities) {
		return
	}
	periodStart := video.MP.Discontinuities[vIdx].PositionFromStartS
	offsetFromPeriod := video.State.PlayTargetS - periodStart
	audioPeriodStart := audio.MP.Discontinuities[vIdx].PositionFromStartS
	audio.State.PlayTargetS = audioPeriodStart + offsetFromPeriod
}

// periodIndexContaining returns the index of the discontinuity whose
// position is the latest one at or before pos ("the period pos falls
// within"), or -1 if pos precedes every discontinuity.
func periodIndexContaining(discs []types.DiscontinuityNode, pos float64) int {
	best := -1
	for i, d := range discs {
		if d.PositionFromStartS <= pos {
			best = i
		}
	}
	return best
}

// applySequenceNumberSync implements spec.md §4.5.1's sequence-number
// strategy: within MaxSeqNumberDiffForSeqNumBasedSync, the tracks are
// already in sync; within MaxSeqNumberLagCount, step the lagging track
// forward one fragment at a time until the gap closes. Beyond that,
// report failure so the caller falls back to start-time sync.
func applySequenceNumberSync(video, audio trackSync) bool {
	diff := video.State.NextMediaSequenceNumber - audio.State.NextMediaSequenceNumber
	if diff < 0 {
		diff = -diff
	}
	if diff <= tuning.MaxSeqNumberDiffForSeqNumBasedSync {
		return true
	}
	if diff > tuning.MaxSeqNumberLagCount {
		return false
	}

	lagging := audio
	if video.State.NextMediaSequenceNumber < audio.State.NextMediaSequenceNumber {
		lagging = video
	}
	steps := diff
	for steps > tuning.MaxSeqNumberDiffForSeqNumBasedSync {
		lagging.State.PlayTargetS += lagging.State.FragmentDurationS
		lagging.State.PlayTargetOffsetS += lagging.State.FragmentDurationS
		lagging.State.NextMediaSequenceNumber++
		steps--
	}
	return true
}

// applyStartTimeSync implements spec.md §4.5.1's start-time fallback:
// if the program-date-time gap between the two tracks' first fragments
// exceeds half a fragment duration, advance the lagging track's play
// target by the full gap (bounded by its own total duration).
func applyStartTimeSync(video, audio trackSync) {
	diff := audio.State.StartTimeForSync.Sub(*video.State.StartTimeForSync).Seconds()
	fragDur := video.State.FragmentDurationS
	if fragDur <= 0 {
		fragDur = audio.State.FragmentDurationS
	}
	if math.Abs(diff) <= fragDur/2 {
		return
	}
	if diff > 0 {
		// Audio starts later than video: video is ahead, advance video.
		advance := diff
		if advance > video.MP.TotalDurationS {
			advance = video.MP.TotalDurationS
		}
		video.State.PlayTargetS += advance
	} else {
		advance := -diff
		if advance > audio.MP.TotalDurationS {
			advance = audio.MP.TotalDurationS
		}
		audio.State.PlayTargetS += advance
	}
}

// liveEdgeResult is the outcome of liveEdgeAdjust.
type liveEdgeResult struct {
	AtLivePoint bool
	EOS         bool
}

// liveEdgeAdjust implements spec.md §4.5.2: compute each track's
// distance from the live point, apply the smaller of the two offsets to
// both tracks (so neither falls off its own sliding window), then, if
// both tracks still expose an equal positive discontinuity count,
// snap onto the nearest preceding discontinuity boundary.
func liveEdgeAdjust(video, audio trackSync, liveOffsetS float64, seekBeyondWindow bool) liveEdgeResult {
	videoOffset := video.MP.TotalDurationS - liveOffsetS - video.State.PlayTargetOffsetS
	audioOffset := audio.MP.TotalDurationS - liveOffsetS - audio.State.PlayTargetOffsetS
	applied := videoOffset
	if audioOffset < applied {
		applied = audioOffset
	}

	video.State.PlayTargetS += applied
	audio.State.PlayTargetS += applied

	result := liveEdgeResult{AtLivePoint: applied > 0}

	if seekBeyondWindow && !video.MP.IsLive() {
		result.EOS = true
		return result
	}

	vDisc := len(video.MP.Discontinuities)
	aDisc := len(audio.MP.Discontinuities)
	if vDisc == aDisc && vDisc > 0 {
		if idx := periodIndexContaining(video.MP.Discontinuities, video.State.PlayTargetS); idx >= 0 {
			video.State.PlayTargetS = video.MP.Discontinuities[idx].PositionFromStartS
		}
		if idx := periodIndexContaining(audio.MP.Discontinuities, audio.State.PlayTargetS); idx >= 0 {
			audio.State.PlayTargetS = audio.MP.Discontinuities[idx].PositionFromStartS
		}
	}
	return result
}
