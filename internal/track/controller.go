package track

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/streamcore/hlscollector/internal/collab"
	"github.com/streamcore/hlscollector/internal/drm"
	"github.com/streamcore/hlscollector/internal/index"
	"github.com/streamcore/hlscollector/internal/inject"
	"github.com/streamcore/hlscollector/internal/plcache"
	"github.com/streamcore/hlscollector/internal/tuning"
	"github.com/streamcore/hlscollector/internal/types"
	"github.com/streamcore/hlscollector/internal/xerrors"
)

// Config bundles a Controller's fixed collaborators, grounded on the
// teacher's constructor-injection style (client.New(cfg Config)).
type Config struct {
	Kind                types.TrackKind
	Fetcher             collab.HTTPFetcher
	Injector            inject.Injector
	DRM                 *drm.Coordinator
	ABR                 collab.ABR // nil for the audio track
	Logger              collab.Logger
	Events              collab.EventSink
	Clock               types.Clock
	RingSize            int
	IgnoreDiscontinuity bool

	// Cache holds VOD media playlists across LoadPlaylist calls (spec.md
	// §6); nil disables caching entirely.
	Cache *plcache.Cache
}

// Controller runs the fetch loop for one track: fragment selection,
// download, decrypt dispatch, and staging into a bounded ring, plus the
// buffer-driven live refresh cadence (spec.md §4.4).
type Controller struct {
	cfg   Config
	Index *index.Index
	state *State

	mu            sync.Mutex
	peer          discontinuityPeer
	trickPlayRate int // 0 = normal play
	trickPlayFPS  float64
	reResolve     bool

	ring   chan types.Segment
	cancel context.CancelFunc
	wg     sync.WaitGroup
	errs   chan error

	isFirstIndexBuild bool
}

func New(cfg Config) *Controller {
	if cfg.Clock == nil {
		cfg.Clock = types.RealClock
	}
	if cfg.Logger == nil {
		cfg.Logger = collab.NopLogger{}
	}
	if cfg.Events == nil {
		cfg.Events = collab.NopEventSink{}
	}
	if cfg.RingSize <= 0 {
		cfg.RingSize = 8
	}
	return &Controller{
		cfg:               cfg,
		Index:             index.New(),
		state:             NewState(""),
		ring:              make(chan types.Segment, cfg.RingSize),
		errs:              make(chan error, 1),
		isFirstIndexBuild: true,
	}
}

// State exposes the track's bookkeeping to the coordinator for sync and
// live-edge adjustment. Callers must only read it before Start or after
// Stop, or while the controller's own goroutine is parked (the
// coordinator serializes these phases itself, per spec.md §4.5).
func (c *Controller) State() *State { return c.state }

// SetPeer wires the other track's index for cross-track discontinuity
// checks (spec.md §4.4 step 3).
func (c *Controller) SetPeer(peer discontinuityPeer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peer = peer
}

// SetTrickPlay configures scrub rate (0 = normal play) and fps.
func (c *Controller) SetTrickPlay(rate int, fps float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trickPlayRate = rate
	c.trickPlayFPS = fps
}

// Errors surfaces fatal errors raised once the fetch loop is running.
func (c *Controller) Errors() <-chan error { return c.errs }

// LoadPlaylist downloads and indexes state.PlaylistURL, used for both
// the coordinator's initial synchronous load and an ABR-triggered
// re-resolve (abr_profile_changed, spec.md §4.4).
func (c *Controller) LoadPlaylist(ctx context.Context) error {
	var body []byte
	fromCache := false
	if c.cfg.Cache != nil {
		if cached, ok := c.cfg.Cache.Get(c.state.PlaylistURL); ok {
			body = cached
			fromCache = true
		}
	}
	if !fromCache {
		res, err := c.cfg.Fetcher.Get(ctx, types.FetchRequest{
			URL:        c.state.PlaylistURL,
			Track:      c.cfg.Kind,
			IsManifest: true,
			MediaKind:  "playlist",
		})
		if err != nil {
			return &xerrors.ManifestRequestFailedError{URL: c.state.PlaylistURL, Attempts: 1, Cause: err}
		}
		body = res.Body
		c.state.EffectiveURL = res.EffectiveURL
		if c.state.EffectiveURL == "" {
			c.state.EffectiveURL = c.state.PlaylistURL
		}
	}

	wasFirstBuild := c.isFirstIndexBuild
	mp, err := c.Index.Rebuild(body, func(tag string) {
		c.cfg.Logger.Warnf("track %s: unrecognized tag %s", c.cfg.Kind, tag)
	})
	if err != nil {
		return err
	}
	c.isFirstIndexBuild = false
	if c.cfg.Cache != nil && !fromCache && !mp.IsLive() {
		c.cfg.Cache.Put(c.state.PlaylistURL, body)
	}
	c.state.LastPlaylistDownload = c.cfg.Clock()
	if len(mp.Fragments) > 0 {
		c.state.FragmentDurationS = mp.Fragments[0].DurationS
	}
	if mp.FirstProgramDateTime != nil {
		c.state.StartTimeForSync = mp.FirstProgramDateTime
	}
	c.state.NextMediaSequenceNumber = mp.FirstMediaSequenceNumber

	if rate, _ := c.trickPlay(); c.cfg.Kind == types.Video && mp.IsLive() && rate == 0 {
		if hash, scheduled := c.cfg.DRM.MaybeScheduleDeferred(mp, wasFirstBuild, c.cfg.Kind, c.cfg.Clock); scheduled {
			c.cfg.Logger.Infof("track %s: deferred drm acquisition scheduled hash=%x", c.cfg.Kind, hash)
		}
	}

	c.cfg.Events.PlaylistIndexed(c.cfg.Kind)
	return nil
}

// Start launches the fetch-loop goroutine. playlistURL is the track's
// initial media playlist URL, already loaded via LoadPlaylist by the
// caller (spec.md §4.5 step 4 loads both tracks before either starts).
func (c *Controller) Start(ctx context.Context, playlistURL string) {
	c.state.PlaylistURL = playlistURL
	c.state.InjectInitFragment = c.Index.Snapshot().InitFragmentInfo != nil

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.runLoop(loopCtx)
	}()

	// One inject goroutine per track (SPEC_FULL.md §5), draining the
	// bounded ring into the downstream sink independently of the fetch
	// goroutine's pace.
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.injectLoop(loopCtx)
	}()
}

func (c *Controller) injectLoop(ctx context.Context) {
	for {
		select {
		case seg, open := <-c.ring:
			if !open {
				return
			}
			ptsError, ok := c.cfg.Injector.InjectSegment(ctx, seg)
			if ptsError {
				c.cfg.Logger.Warnf("track %s: pts error injecting segment at %.3fs", c.cfg.Kind, seg.PositionS)
			}
			if !ok {
				c.cfg.Logger.Warnf("track %s: segment at %.3fs discarded by sink", c.cfg.Kind, seg.PositionS)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Stop cancels the fetch and inject goroutines and waits for both to
// exit; then, if clearDRM, it cancels the key wait on the track's
// current DRM session, and finally closes the ring.
func (c *Controller) Stop(clearDRM bool) {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	if clearDRM && c.state.CMSha1Hash != nil {
		if sess, ok := c.cfg.DRM.GetSession(*c.state.CMSha1Hash); ok {
			c.cfg.DRM.CancelKeyWait(sess)
		}
	}
	close(c.ring)
}

// AbrProfileChanged marks the controller to reload its media playlist
// from state.PlaylistURL on the next loop iteration. It does not
// re-resolve the playlist URL against a new variant, and it does not
// re-process the playlist's DRM metadata.
func (c *Controller) AbrProfileChanged() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reResolve = true
}

func (c *Controller) consumeReResolve() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reResolve {
		c.reResolve = false
		return true
	}
	return false
}

func (c *Controller) trickPlay() (rate int, fps float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.trickPlayRate, c.trickPlayFPS
}

// runLoop is the fetch-loop algorithm of spec.md §4.4, normal-play and
// trick-play cases, plus the live refresh cadence.
func (c *Controller) runLoop(ctx context.Context) {
	if c.state.InjectInitFragment {
		if err := c.injectInitFragment(ctx); err != nil {
			c.cfg.Logger.Warnf("track %s: init fragment download failed: %v", c.cfg.Kind, err)
		}
		c.state.InjectInitFragment = false
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if c.consumeReResolve() {
			if err := c.LoadPlaylist(ctx); err != nil {
				c.cfg.Logger.Warnf("track %s: re-resolve playlist failed: %v", c.cfg.Kind, err)
			}
		}

		c.promoteDueDeferred(ctx)

		mp := c.Index.Snapshot()
		rate, fps := c.trickPlay()

		var sel selection
		var ok bool
		if rate != 0 {
			sel, ok = selectTrickPlay(mp, c.state.PlayTargetS, rate > 0)
		} else {
			sel, ok = selectNormalPlay(mp, c.state.PlayTargetS, c.state.CurrentIndex)
		}

		if !ok {
			if mp.HasEndList || c.state.EOSReached {
				return
			}
			if !c.waitForRefresh(ctx, mp) {
				return
			}
			continue
		}

		if sel.crossedDisc && rate == 0 && !c.cfg.IgnoreDiscontinuity {
			c.applyDiscontinuitySync(sel)
		}

		if err := c.fetchAndStage(ctx, mp, sel); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.emitFatal(err)
			return
		}

		c.state.CurrentIndex = sel.index + 1
		if rate != 0 && fps > 0 {
			c.state.PlayTargetS += float64(rate) / fps
		} else {
			c.state.PlayTargetS = sel.node.CompletionTimeFromStartS
		}
	}
}

// promoteDueDeferred implements spec.md §4.3: once a deferred
// acquisition's fire time has passed, promote it to an immediate
// acquisition and clear the pending flag. Both tracks share the same
// drm.Coordinator, so whichever loop notices first wins the promotion;
// the pending slot's own recorded track (not necessarily c.cfg.Kind) is
// submitted against.
func (c *Controller) promoteDueDeferred(ctx context.Context) {
	node, track, due := c.cfg.DRM.PromoteDueDeferred(c.cfg.Clock())
	if !due {
		return
	}
	if err := c.cfg.DRM.SetMetadata(ctx, node, track); err != nil {
		c.cfg.Logger.Warnf("track %s: deferred drm acquisition failed hash=%x: %v", track, node.Sha1Hash, err)
		return
	}
	c.cfg.Logger.Infof("track %s: deferred drm acquisition promoted hash=%x", track, node.Sha1Hash)
}

// applyDiscontinuitySync implements spec.md §4.4 step 3: consult the
// other track's index for a matching discontinuity within +/-30s and,
// if both carry program-date-time, nudge this track's play target to
// close the gap.
func (c *Controller) applyDiscontinuitySync(sel selection) {
	c.mu.Lock()
	peer := c.peer
	c.mu.Unlock()
	if peer == nil {
		return
	}
	var pdt *time.Time
	for _, d := range c.Index.Snapshot().Discontinuities {
		if d.FragmentIndex == sel.index && d.ProgramDateTime != nil {
			pdt = d.ProgramDateTime
		}
	}
	if pdt == nil {
		return
	}
	diff, found := peer.HasDiscontinuityAround(time.Duration(pdt.UnixNano()), true)
	if !found {
		return
	}
	diffS := diff.Seconds()
	if c.state.FragmentDurationS > 0 && (diffS > c.state.FragmentDurationS/2 || diffS < -c.state.FragmentDurationS/2) {
		c.state.PlayTargetS += diffS
		c.state.SyncAfterDiscontinuityInProgress = true
	}
}

// injectInitFragment downloads and emits the EXT-X-MAP init segment
// ahead of the first media fragment (spec.md §4.4 step 1).
func (c *Controller) injectInitFragment(ctx context.Context) error {
	info := c.Index.Snapshot().InitFragmentInfo
	if info == nil {
		return nil
	}
	absURL, err := resolveFragmentURL(c.state.EffectiveURL, info.URI)
	if err != nil {
		return err
	}
	req := types.FetchRequest{URL: absURL, Track: c.cfg.Kind, MediaKind: "init"}
	if info.ByteRange != nil {
		req.Range = info.ByteRange
	}
	res, err := c.cfg.Fetcher.Get(ctx, req)
	if err != nil {
		return err
	}
	seg := types.Segment{Track: c.cfg.Kind, Data: res.Body, IsInit: true, Container: c.state.Container}
	select {
	case c.ring <- seg:
	case <-ctx.Done():
	}
	return nil
}

// fetchAndStage implements spec.md §4.4 steps 4-7: resolve, download,
// handle HTTP failure (with ABR ramp-down), decrypt if encrypted, and
// stage into the bounded ring.
func (c *Controller) fetchAndStage(ctx context.Context, mp *types.MediaPlaylist, sel selection) error {
	absURL, err := resolveFragmentURL(c.state.EffectiveURL, sel.node.URI)
	if err != nil {
		return err
	}

	req := types.FetchRequest{URL: absURL, Track: c.cfg.Kind, MediaKind: "fragment"}
	if sel.node.ByteRange != nil {
		req.Range = sel.node.ByteRange
	}

	res, err := c.cfg.Fetcher.Get(ctx, req)
	if err != nil {
		c.state.SegDownloadFailCount++
		if c.cfg.Kind == types.Video && c.cfg.ABR != nil && c.cfg.ABR.CheckForRampDown(res.HTTPStatus) {
			c.rampDownStep(sel, mp)
		}
		if c.state.SegDownloadFailCount >= tuning.MaxSegDownloadFailCount {
			return &xerrors.FragmentDownloadFailureError{Track: c.cfg.Kind, Count: c.state.SegDownloadFailCount, Cause: err}
		}
		return nil
	}
	c.state.SegDownloadFailCount = 0

	data := res.Body
	if sel.node.Encrypted && sel.node.DrmMetadataIdx >= 0 && sel.node.DrmMetadataIdx < len(mp.DrmMetadata) {
		hash := mp.DrmMetadata[sel.node.DrmMetadataIdx].Sha1Hash
		c.state.CMSha1Hash = &hash
		sess, ok := c.cfg.DRM.GetSession(hash)
		if !ok {
			if err := c.cfg.DRM.SetMetadata(ctx, mp.DrmMetadata[sel.node.DrmMetadataIdx], c.cfg.Kind); err != nil {
				return nil
			}
			sess, ok = c.cfg.DRM.GetSession(hash)
		}
		if ok {
			out, derr := c.cfg.DRM.Decrypt(ctx, sess, data, tuning.MaxLicenseAcqWaitTime)
			if derr != nil {
				if errors.Is(derr, drm.ErrKeyAcquisitionTimeout) {
					c.cfg.Logger.Warnf("track %s: license acquisition timed out", c.cfg.Kind)
					return nil
				}
				c.state.SegDrmDecryptFailCount++
				if c.state.SegDrmDecryptFailCount >= tuning.MaxSegDrmDecryptFailCount {
					return &xerrors.DrmDecryptFailedError{Track: c.cfg.Kind, Count: c.state.SegDrmDecryptFailCount, Cause: derr}
				}
				return nil
			}
			c.state.SegDrmDecryptFailCount = 0
			data = out
			c.cfg.Events.FirstFragmentDecrypted(c.cfg.Kind)
		}
	}

	seg := types.Segment{
		Track:         c.cfg.Kind,
		Data:          data,
		PositionS:     c.state.PlayTargetS - c.state.PlayTargetOffsetS,
		DurationS:     sel.node.DurationS,
		Discontinuity: sel.crossedDisc,
		Container:     c.state.Container,
	}
	select {
	case c.ring <- seg:
	case <-ctx.Done():
	}
	return nil
}

// rampDownStep backs play_target_s off by one fragment-duration (or
// trick-play delta) so the ABR collaborator's ramp-down recommendation
// is retried against a lower profile on the next abr_profile_changed
// (spec.md §4.4 step 5).
func (c *Controller) rampDownStep(sel selection, mp *types.MediaPlaylist) {
	rate, fps := c.trickPlay()
	if rate != 0 && fps > 0 {
		c.state.PlayTargetS -= float64(rate) / fps
		return
	}
	d := sel.node.DurationS
	if d <= 0 {
		d = c.state.FragmentDurationS
	}
	c.state.PlayTargetS -= d
}

func (c *Controller) emitFatal(err error) {
	select {
	case c.errs <- err:
	default:
	}
	c.cfg.Events.TuneFailed("fetch", 0)
}

// waitForRefresh blocks for the buffer-driven refresh interval, then
// re-downloads the playlist. Returns false if the track should stop
// (manifest retry budget exhausted with no more fragments available).
func (c *Controller) waitForRefresh(ctx context.Context, mp *types.MediaPlaylist) bool {
	if !mp.IsLive() {
		return false
	}
	now := c.cfg.Clock()
	since := now.Sub(c.state.LastPlaylistDownload)
	delay := computeRefreshDelay(c.state.CulledSecondsS, mp.TotalDurationS, c.state.PlayTargetS, mp.TargetDurationS, since)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
	}

	if err := c.LoadPlaylist(ctx); err != nil {
		c.state.ManifestDownloadFailCount++
		if c.state.ManifestDownloadFailCount > tuning.MaxManifestDownloadRetry {
			c.emitFatal(err)
			return false
		}
		return true
	}
	c.state.ManifestDownloadFailCount = 0

	newMp := c.Index.Snapshot()
	if c.cfg.Kind == types.Video && len(newMp.Fragments) > 0 {
		commonSeq := newMp.FirstMediaSequenceNumber
		newCompletionAtCommonSeq := newMp.Fragments[0].CompletionTimeFromStartS
		if prevCompletionAtCommonSeq, ok := fragmentCompletionAtSeq(mp, commonSeq); ok {
			if culled := prevCompletionAtCommonSeq - newCompletionAtCommonSeq; culled > 0 {
				c.state.CulledSecondsS += culled
			}
		}
	}
	return true
}

// fragmentCompletionAtSeq returns the completion time (relative to mp's
// own playlist start) of the fragment carrying media sequence number
// seq, or false if mp's window doesn't cover seq.
func fragmentCompletionAtSeq(mp *types.MediaPlaylist, seq int) (float64, bool) {
	idx := seq - mp.FirstMediaSequenceNumber
	if idx < 0 || idx >= len(mp.Fragments) {
		return 0, false
	}
	return mp.Fragments[idx].CompletionTimeFromStartS, true
}
