package drm

import (
	"context"
	"time"

	"github.com/streamcore/hlscollector/internal/tuning"
	"github.com/streamcore/hlscollector/internal/types"
)

// ProcessMetadata implements the playlist-(re)index policy from spec.md
// §4.3: for a single-metadata (or non-rotating) stream, acquire once;
// for a multi-metadata stream with a known current fragment, acquire
// only the current fragment's license synchronously and return the
// remaining not-yet-installed indices for the caller to submit lazily
// on subsequent playlist walks (unless a deferred acquisition has
// already claimed one of them).
func (c *Coordinator) ProcessMetadata(ctx context.Context, mp *types.MediaPlaylist, currentIdx int, track types.TrackKind, acquireCurrentOnly bool) (lazy []int, err error) {
	if len(mp.DrmMetadata) == 0 {
		return nil, nil
	}
	if len(mp.DrmMetadata) == 1 || !acquireCurrentOnly || currentIdx < 0 {
		for i, node := range mp.DrmMetadata {
			if c.alreadyHandled(node.Sha1Hash) {
				continue
			}
			if serr := c.SetMetadata(ctx, node, track); serr != nil {
				return nil, serr
			}
			_ = i
		}
		return nil, nil
	}

	current := mp.DrmMetadata[currentIdx]
	if err := c.SetMetadata(ctx, current, track); err != nil {
		return nil, err
	}
	for i, node := range mp.DrmMetadata {
		if i == currentIdx {
			continue
		}
		if c.alreadyHandled(node.Sha1Hash) {
			continue
		}
		lazy = append(lazy, i)
	}
	return lazy, nil
}

func (c *Coordinator) alreadyHandled(hash [20]byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.installed[hash]; ok {
		return true
	}
	if c.deferred.HasPending && c.deferred.PendingHash == hash {
		return true
	}
	return false
}

// AcquireLazy submits one of the indices ProcessMetadata deferred to a
// later playlist walk (spec.md §4.3: "remaining licenses are acquired
// lazily on subsequent playlist walks").
func (c *Coordinator) AcquireLazy(ctx context.Context, mp *types.MediaPlaylist, idx int, track types.TrackKind) error {
	if idx < 0 || idx >= len(mp.DrmMetadata) {
		return nil
	}
	return c.SetMetadata(ctx, mp.DrmMetadata[idx], track)
}

// ScheduleDeferred records a newest-uninstalled metadata node as the
// pending deferred acquisition, to fire at fireAt. It is a no-op (per
// spec.md §3: "exactly one deferred acquisition may be pending at a
// time") if a deferred acquisition is already in flight.
func (c *Coordinator) ScheduleDeferred(node types.DrmMetadata, track types.TrackKind, fireAt time.Time) (scheduled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deferred.HasPending {
		return false
	}
	c.deferred = DeferredState{
		PendingHash:        node.Sha1Hash,
		PendingMetadata:    node,
		PendingTrack:       track,
		HasPending:         true,
		FireAt:             fireAt,
		RequestPending:     true,
		TagUnderProcessing: true,
	}
	return true
}

// PickNewestUninstalled picks the newest (highest-index) metadata node
// in mp whose hash isn't already installed or already claimed by a
// pending deferred acquisition — the candidate spec.md §4.2 step 4
// describes scheduling deferred acquisition for.
func (c *Coordinator) PickNewestUninstalled(mp *types.MediaPlaylist) (node types.DrmMetadata, ok bool) {
	for i := len(mp.DrmMetadata) - 1; i >= 0; i-- {
		n := mp.DrmMetadata[i]
		if !c.alreadyHandled(n.Sha1Hash) {
			return n, true
		}
	}
	return node, false
}

// MaybeScheduleDeferred implements spec.md §4.2 step 4: track.Controller
// calls it once per index build of the video track's live playlist
// during normal play, and it acts on an EXT-X-X1-LIN-CK directive seen
// in that build. The tune type (new tune, seek, seek-to-live) is not
// checked by either side. isFirstIndexBuild suppresses scheduling on the
// very first build of a presentation (there is nothing "newer" to defer
// yet).
func (c *Coordinator) MaybeScheduleDeferred(mp *types.MediaPlaylist, isFirstIndexBuild bool, track types.TrackKind, now func() time.Time) (hash [20]byte, scheduled bool) {
	if mp.DeferredKeySeconds == nil {
		c.ClearTagUnderProcessingIfAbsent()
		return hash, false
	}
	if isFirstIndexBuild || len(mp.DrmMetadata) <= 1 {
		return hash, false
	}
	c.mu.Lock()
	alreadyPending := c.deferred.HasPending
	c.mu.Unlock()
	if alreadyPending {
		return hash, false
	}
	node, ok := c.PickNewestUninstalled(mp)
	if !ok {
		return hash, false
	}
	fireAt := now().Add(tuning.GetDeferTime(*mp.DeferredKeySeconds, mp.TargetDurationS))
	return node.Sha1Hash, c.ScheduleDeferred(node, track, fireAt)
}

// ClearTagUnderProcessingIfAbsent clears the tag_under_processing flag
// when a later refresh's playlist no longer carries the deferred-key
// tag (spec.md §4.2 step 4).
func (c *Coordinator) ClearTagUnderProcessingIfAbsent() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deferred.TagUnderProcessing = false
}

// PromoteDueDeferred promotes a pending deferred acquisition to an
// immediate one once its fire time has passed, clearing the pending
// flag (spec.md §4.3: "When a deferred acquisition's fire time has
// passed, promote it to an immediate acquisition and clear the pending
// flag"). The caller is responsible for actually submitting node for
// acquisition (via SetMetadata) against track; clearing the slot here,
// before that call completes, matches "exactly one deferred acquisition
// pending at a time" rather than "exactly one in flight at a time" —
// a second EXT-X-X1-LIN-CK tag may schedule another while this one is
// still being acquired.
func (c *Coordinator) PromoteDueDeferred(now time.Time) (node types.DrmMetadata, track types.TrackKind, due bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.deferred.HasPending || now.Before(c.deferred.FireAt) {
		return node, track, false
	}
	node, track = c.deferred.PendingMetadata, c.deferred.PendingTrack
	c.deferred = DeferredState{}
	return node, track, true
}
