// Package track owns the per-track fetch loop (spec.md §4.4): fragment
// selection (trick-play and normal-play), HTTP download, DRM decrypt
// dispatch, and the buffer-driven live playlist refresh cadence. One
// Controller runs per enabled track (video, audio), each with its own
// index.Index and goroutine, wired together by the multi-track
// coordinator.
package track

import (
	"time"

	"github.com/streamcore/hlscollector/internal/types"
)

// State is the mutable per-track bookkeeping spec.md §3 names as
// TrackState. It has no lock of its own: the track's fetch-loop
// goroutine touches it while running, and Controller.State documents
// when the coordinator may read or write it.
type State struct {
	PlaylistURL  string
	EffectiveURL string
	Container    types.ContainerFormat

	PlayTargetS       float64
	PlaylistPositionS float64
	CurrentIndex      int

	NextMediaSequenceNumber int
	FragmentDurationS       float64
	CulledSecondsS          float64
	StartTimeForSync        *time.Time

	LastPlaylistDownload time.Time

	FragmentEncrypted        bool
	DrmInfo                  types.DrmInfo
	CMSha1Hash               *[20]byte
	DrmMetadataIndexPosition int

	InjectInitFragment bool

	SyncAfterDiscontinuityInProgress  bool
	LastMatchedDiscontinuityPositionS float64

	SegDownloadFailCount   int
	SegDrmDecryptFailCount int
	ManifestDownloadFailCount int

	PlayTargetOffsetS float64

	EOSReached bool
}

// NewState returns a State ready for an initial tune.
func NewState(playlistURL string) *State {
	return &State{
		PlaylistURL:        playlistURL,
		EffectiveURL:       playlistURL,
		InjectInitFragment: true,
	}
}
