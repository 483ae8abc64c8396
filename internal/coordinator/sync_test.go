package coordinator

import (
	"testing"
	"time"

	"github.com/streamcore/hlscollector/internal/track"
	"github.com/streamcore/hlscollector/internal/types"
)

func newTrackSync(disc []types.DiscontinuityNode, seq int, playTarget, fragDur, totalDur float64, startTime *time.Time, kind types.PlaylistKind) trackSync {
	return trackSync{
		MP: &types.MediaPlaylist{
			Discontinuities: disc,
			TotalDurationS:  totalDur,
			PlaylistKind:    kind,
		},
		State: &track.State{
			PlayTargetS:             playTarget,
			NextMediaSequenceNumber: seq,
			FragmentDurationS:       fragDur,
			StartTimeForSync:        startTime,
		},
	}
}

func TestSyncInitialDiscontinuityAlignedMatchesOffsetIntoPeriod(t *testing.T) {
	disc := []types.DiscontinuityNode{{FragmentIndex: 0, PositionFromStartS: 0}, {FragmentIndex: 10, PositionFromStartS: 100}}
	video := newTrackSync(disc, 10, 110, 4, 200, nil, types.PlaylistVOD)
	audioDisc := []types.DiscontinuityNode{{FragmentIndex: 0, PositionFromStartS: 0}, {FragmentIndex: 8, PositionFromStartS: 90}}
	audio := newTrackSync(audioDisc, 10, 0, 4, 200, nil, types.PlaylistVOD)

	if err := syncInitial(video, audio, syncOptions{UseProgramDateTimeIfAvailable: true}); err != nil {
		t.Fatalf("syncInitial: %v", err)
	}
	// video is 10s into its second period (110-100); audio's second period starts at 90.
	want := 100.0
	if audio.State.PlayTargetS != want {
		t.Fatalf("audio play target = %.2f, want %.2f", audio.State.PlayTargetS, want)
	}
}

func TestSyncInitialSequenceNumberWithinThresholdNoOp(t *testing.T) {
	video := newTrackSync(nil, 100, 50, 4, 200, nil, types.PlaylistVOD)
	audio := newTrackSync(nil, 101, 0, 4, 200, nil, types.PlaylistVOD)

	if err := syncInitial(video, audio, syncOptions{}); err != nil {
		t.Fatalf("syncInitial: %v", err)
	}
	if audio.State.PlayTargetS != 0 {
		t.Fatalf("audio play target changed unexpectedly: %.2f", audio.State.PlayTargetS)
	}
}

func TestSyncInitialSequenceNumberStepsLaggingTrackForward(t *testing.T) {
	video := newTrackSync(nil, 105, 50, 4, 500, nil, types.PlaylistVOD)
	audio := newTrackSync(nil, 100, 0, 4, 500, nil, types.PlaylistVOD)

	if err := syncInitial(video, audio, syncOptions{}); err != nil {
		t.Fatalf("syncInitial: %v", err)
	}
	// audio lags by 5; steps forward until diff <= MaxSeqNumberDiffForSeqNumBasedSync (2): 3 steps.
	if audio.State.NextMediaSequenceNumber != 103 {
		t.Fatalf("audio seq = %d, want 103", audio.State.NextMediaSequenceNumber)
	}
	if audio.State.PlayTargetS != 12 {
		t.Fatalf("audio play target = %.2f, want 12 (3 steps * 4s)", audio.State.PlayTargetS)
	}
}

func TestSyncInitialFallsBackToStartTimeWhenSequenceGapTooLarge(t *testing.T) {
	vStart := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	aStart := vStart.Add(6 * time.Second)
	video := newTrackSync(nil, 1000, 0, 4, 500, &vStart, types.PlaylistVOD)
	audio := newTrackSync(nil, 1, 0, 4, 500, &aStart, types.PlaylistVOD)

	if err := syncInitial(video, audio, syncOptions{}); err != nil {
		t.Fatalf("syncInitial: %v", err)
	}
	// audio starts 6s later than video -> video is ahead -> video's target advances by 6s.
	if video.State.PlayTargetS != 6 {
		t.Fatalf("video play target = %.2f, want 6", video.State.PlayTargetS)
	}
}

func TestSyncInitialFailsWithNoUsableStrategy(t *testing.T) {
	video := newTrackSync(nil, 1000, 0, 4, 500, nil, types.PlaylistVOD)
	audio := newTrackSync(nil, 1, 0, 4, 500, nil, types.PlaylistVOD)

	err := syncInitial(video, audio, syncOptions{})
	if err != ErrTracksSynchronization {
		t.Fatalf("err = %v, want ErrTracksSynchronization", err)
	}
}

func TestLiveEdgeAdjustAppliesSmallerOfTwoOffsets(t *testing.T) {
	video := newTrackSync(nil, 0, 0, 4, 300, nil, types.PlaylistLive)
	audio := newTrackSync(nil, 0, 0, 4, 280, nil, types.PlaylistLive)

	res := liveEdgeAdjust(video, audio, 10, false)
	if !res.AtLivePoint {
		t.Fatal("expected AtLivePoint")
	}
	// audioOffset = 280-10 = 270 is smaller than videoOffset = 300-10 = 290.
	if video.State.PlayTargetS != 270 || audio.State.PlayTargetS != 270 {
		t.Fatalf("video=%.2f audio=%.2f, want both 270", video.State.PlayTargetS, audio.State.PlayTargetS)
	}
}

func TestLiveEdgeAdjustSnapsToPrecedingDiscontinuity(t *testing.T) {
	disc := []types.DiscontinuityNode{{PositionFromStartS: 0}, {PositionFromStartS: 250}}
	video := newTrackSync(disc, 0, 0, 4, 300, nil, types.PlaylistLive)
	audio := newTrackSync(disc, 0, 0, 4, 300, nil, types.PlaylistLive)

	liveEdgeAdjust(video, audio, 10, false)
	if video.State.PlayTargetS != 250 || audio.State.PlayTargetS != 250 {
		t.Fatalf("video=%.2f audio=%.2f, want both snapped to 250", video.State.PlayTargetS, audio.State.PlayTargetS)
	}
}

func TestLiveEdgeAdjustSeekBeyondWindowOnVODSetsEOS(t *testing.T) {
	video := newTrackSync(nil, 0, 0, 4, 300, nil, types.PlaylistVOD)
	audio := newTrackSync(nil, 0, 0, 4, 300, nil, types.PlaylistVOD)

	res := liveEdgeAdjust(video, audio, 10, true)
	if !res.EOS {
		t.Fatal("expected EOS when seeking beyond window on a VOD playlist")
	}
}
