package track

import (
	"testing"
	"time"

	"github.com/streamcore/hlscollector/internal/tuning"
)

func TestComputeRefreshDelayLargeBufferUsesLongInterval(t *testing.T) {
	// buffer = 100 - 0 = 100s, target = 10s -> buffer > 2*target -> 1.5*target = 15s, clamped to max (6s)
	delay := computeRefreshDelay(0, 100, 0, 10, 0)
	if delay != tuning.MaxPlaylistRefreshInterval {
		t.Fatalf("delay=%v, want max=%v", delay, tuning.MaxPlaylistRefreshInterval)
	}
}

func TestComputeRefreshDelaySmallBufferIsFast(t *testing.T) {
	// buffer = 1s, target = 10s -> default branch -> buffer/3 = 333ms, clamped to min (500ms)
	delay := computeRefreshDelay(0, 1, 0, 10, 0)
	if delay != tuning.MinPlaylistRefreshInterval {
		t.Fatalf("delay=%v, want min=%v", delay, tuning.MinPlaylistRefreshInterval)
	}
}

func TestComputeRefreshDelayReducedByElapsed(t *testing.T) {
	// buffer = 15s, target = 10s -> buffer > target (not > 2*target) -> 0.5*target = 5s, minus 3s elapsed = 2s
	delay := computeRefreshDelay(0, 15, 0, 10, 3*time.Second)
	want := 2 * time.Second
	if delay != want {
		t.Fatalf("delay=%v, want %v", delay, want)
	}
}

func TestComputeRefreshDelayNeverBelowMin(t *testing.T) {
	delay := computeRefreshDelay(0, 30, 0, 10, time.Hour)
	if delay != tuning.MinPlaylistRefreshInterval {
		t.Fatalf("delay=%v, want min", delay)
	}
}
