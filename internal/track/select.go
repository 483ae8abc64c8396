package track

import (
	"net/url"
	"strings"
	"time"

	"github.com/streamcore/hlscollector/internal/tuning"
	"github.com/streamcore/hlscollector/internal/types"
)

// selection is the outcome of one fetch-loop pass over the fragment
// index: which fragment to fetch next, and whether a discontinuity was
// crossed to reach it.
type selection struct {
	index         int
	node          types.FragmentIndexNode
	crossedDisc   bool
	discPositionS float64
}

// selectTrickPlay walks fragments by completion time relative to
// play_target_s, in the direction of rate, per spec.md §4.4 step 2
// trick-play case. Every trick-play fragment is marked discontinuous
// (a scrub, not a continuous stream) regardless of the underlying
// playlist's own discontinuity tags.
func selectTrickPlay(mp *types.MediaPlaylist, playTargetS float64, forward bool) (selection, bool) {
	if len(mp.Fragments) == 0 {
		return selection{}, false
	}
	if forward {
		for i, f := range mp.Fragments {
			if f.CompletionTimeFromStartS >= playTargetS-tuning.PlaylistTimeDiffThreshold.Seconds() {
				return selection{index: i, node: f, crossedDisc: true}, true
			}
		}
		return selection{}, false
	}
	for i := len(mp.Fragments) - 1; i >= 0; i-- {
		f := mp.Fragments[i]
		if f.CompletionTimeFromStartS <= playTargetS+tuning.PlaylistTimeDiffThreshold.Seconds() {
			return selection{index: i, node: f, crossedDisc: true}, true
		}
	}
	return selection{}, false
}

// selectNormalPlay walks the fragment index forward (never the raw text
// buffer, per SPEC_FULL.md §4's REDESIGN FLAG resolution) looking for
// the first fragment whose end time is >= playTargetS within
// PlaylistTimeDiffThreshold, starting the search at fromIndex to avoid
// re-scanning already-consumed fragments on every pass.
func selectNormalPlay(mp *types.MediaPlaylist, playTargetS float64, fromIndex int) (selection, bool) {
	if fromIndex < 0 {
		fromIndex = 0
	}
	threshold := tuning.PlaylistTimeDiffThreshold.Seconds()
	for i := fromIndex; i < len(mp.Fragments); i++ {
		f := mp.Fragments[i]
		if f.CompletionTimeFromStartS+threshold >= playTargetS {
			sel := selection{index: i, node: f}
			for _, d := range mp.Discontinuities {
				if d.FragmentIndex == i {
					sel.crossedDisc = true
					sel.discPositionS = d.PositionFromStartS
				}
			}
			return sel, true
		}
	}
	return selection{}, false
}

// discontinuityPeer is the cross-track query the fetch loop makes to
// decide whether a discontinuity it just crossed is also visible on the
// other track (spec.md §4.4 step 3 / §4.6). Satisfied structurally by
// *index.Index without an import back into that package.
type discontinuityPeer interface {
	HasDiscontinuityAround(pos time.Duration, useStartTime bool) (diff time.Duration, found bool)
}

// resolveFragmentURL joins a fragment's (possibly relative) URI against
// the playlist's effective (post-redirect) URL.
func resolveFragmentURL(effectivePlaylistURL, fragURI string) (string, error) {
	if fragURI == "" {
		return "", nil
	}
	if strings.Contains(fragURI, "://") {
		return fragURI, nil
	}
	base, err := url.Parse(effectivePlaylistURL)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(fragURI)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}
