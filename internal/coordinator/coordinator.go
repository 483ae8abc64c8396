// Package coordinator implements the multi-track coordinator (spec.md
// §4.5): master manifest acquisition and variant selection, per-track
// controller construction, initial A/V synchronization, live-edge
// adjustment, and trick-play/shutdown control, grounded on the
// teacher's internal/orchestrator.Engine fan-out/fan-in style.
package coordinator

import (
	"context"
	"errors"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/streamcore/hlscollector/internal/collab"
	"github.com/streamcore/hlscollector/internal/drm"
	"github.com/streamcore/hlscollector/internal/index"
	"github.com/streamcore/hlscollector/internal/inject"
	"github.com/streamcore/hlscollector/internal/plcache"
	"github.com/streamcore/hlscollector/internal/track"
	"github.com/streamcore/hlscollector/internal/tuning"
	"github.com/streamcore/hlscollector/internal/types"
	"github.com/streamcore/hlscollector/internal/xerrors"
)

// Config bundles everything a Coordinator needs to tune a presentation.
type Config struct {
	MasterURL             string
	PreferredLanguage     string
	AudioEnabled          bool
	PersistedBandwidthBps int64
	DefaultBandwidthBps   int64
	LiveOffsetS           float64
	TrickPlayFPS          float64
	RingSize              int

	Fetcher collab.HTTPFetcher
	Sink    collab.Sink
	DRM     collab.DRMBackend
	ABR     collab.ABR
	Logger  collab.Logger
	Events  collab.EventSink
	Profiler collab.Profiler
	Clock   types.Clock
}

// Coordinator drives a single presentation's video and (optionally)
// audio track controllers.
type Coordinator struct {
	cfg   Config
	drm   *drm.Coordinator
	video *track.Controller
	audio *track.Controller

	master         *types.MasterManifest
	currentProfile types.VariantProfile

	playlistCache *plcache.Cache
	atLivePoint   bool

	videoLazyDRM []int
	audioLazyDRM []int
}

func New(cfg Config) *Coordinator {
	if cfg.Clock == nil {
		cfg.Clock = types.RealClock
	}
	if cfg.Logger == nil {
		cfg.Logger = collab.NopLogger{}
	}
	if cfg.Events == nil {
		cfg.Events = collab.NopEventSink{}
	}
	if cfg.Profiler == nil {
		cfg.Profiler = collab.NopProfiler{}
	}
	if cfg.TrickPlayFPS <= 0 {
		cfg.TrickPlayFPS = 4
	}
	return &Coordinator{
		cfg:           cfg,
		drm:           drm.New(cfg.DRM, cfg.Logger),
		playlistCache: plcache.New(0),
	}
}

// Init implements spec.md §4.5 steps 1-9.
func (c *Coordinator) Init(ctx context.Context, tuneType types.TuneType) error {
	master, err := c.downloadMasterManifest(ctx)
	if err != nil {
		return err
	}
	c.master = master

	profile, ok := selectInitialVariant(master.RegularProfiles(), c.cfg.PersistedBandwidthBps, c.cfg.DefaultBandwidthBps)
	if !ok {
		return &xerrors.ManifestContentError{Reason: "master manifest has no regular variants"}
	}
	c.currentProfile = profile
	c.cfg.Events.BitRateChanged(profile.BandwidthBps, profile.Width, profile.Height)

	videoURL, err := resolvePlaylistURL(c.cfg.MasterURL, profile.URI)
	if err != nil {
		return err
	}

	var audioURL string
	audioLanguage := ""
	if c.cfg.AudioEnabled && profile.AudioGroup != "" {
		renditions := master.RenditionsInGroup(types.Audio, profile.AudioGroup)
		if rend, ok := selectAudioRendition(renditions, c.cfg.PreferredLanguage); ok {
			audioURL, err = resolvePlaylistURL(c.cfg.MasterURL, rend.URI)
			if err != nil {
				return err
			}
			audioLanguage = rend.Language
		}
	}

	c.video = c.newController(types.Video)
	if audioURL != "" {
		c.audio = c.newController(types.Audio)
		c.video.SetPeer(c.audio.Index)
		c.audio.SetPeer(c.video.Index)
	}

	if err := c.loadInitialPlaylists(ctx, videoURL, audioURL); err != nil {
		return err
	}
	for _, ctrl := range []*track.Controller{c.video, c.audio} {
		if ctrl == nil {
			continue
		}
		if mp := ctrl.Index.Snapshot(); len(mp.Fragments) > 0 {
			ctrl.State().Container = detectContainerFormat(mp.Fragments[0].URI)
		}
	}

	videoMP := c.video.Index.Snapshot()
	if videoMP.TotalDurationS == 0 {
		return &xerrors.ManifestContentError{Reason: "video track duration is zero"}
	}
	languages := []string{}
	if c.audio != nil {
		audioMP := c.audio.Index.Snapshot()
		if audioMP.TotalDurationS == 0 {
			return &xerrors.ManifestContentError{Reason: "audio track duration is zero"}
		}
		if audioLanguage != "" {
			languages = append(languages, audioLanguage)
		}
	}

	bitrates := make([]int64, 0, len(master.RegularProfiles()))
	for _, p := range master.RegularProfiles() {
		bitrates = append(bitrates, p.BandwidthBps)
	}
	hasDRM := videoMP.DrmKeyTagCount > 0
	hasIframe := len(master.IframeProfiles()) > 0
	c.cfg.Events.MediaMetadata(videoMP.TotalDurationS, languages, bitrates, hasDRM, hasIframe)

	c.video.SetTrickPlay(0, c.cfg.TrickPlayFPS)
	if c.audio != nil {
		c.audio.SetTrickPlay(0, c.cfg.TrickPlayFPS)
	}

	if err := c.synchronize(tuneType); err != nil {
		return err
	}
	c.liveAdjust(tuneType, false)

	c.initiateDRM(ctx, videoMP, c.audio)
	return nil
}

// Start launches both track controllers' fetch loops. Call after Init.
func (c *Coordinator) Start(ctx context.Context) {
	c.video.Start(ctx, c.video.State().PlaylistURL)
	if c.audio != nil {
		c.audio.Start(ctx, c.audio.State().PlaylistURL)
	}
	c.prefetchLazyDRM(ctx, c.video, c.videoLazyDRM, types.Video)
	if c.audio != nil {
		c.prefetchLazyDRM(ctx, c.audio, c.audioLazyDRM, types.Audio)
	}
}

// prefetchLazyDRM submits, in the background, the rotating-key indices
// initiateDRM deferred at tune time (spec.md §4.3: "remaining licenses
// are acquired lazily on subsequent playlist walks"), so a session is
// already installed by the time the fetch loop's normal walk reaches
// that fragment instead of blocking fetchAndStage's inline acquire.
func (c *Coordinator) prefetchLazyDRM(ctx context.Context, ctrl *track.Controller, indices []int, kind types.TrackKind) {
	if len(indices) == 0 {
		return
	}
	mp := ctrl.Index.Snapshot()
	go func() {
		for _, idx := range indices {
			if err := c.drm.AcquireLazy(ctx, mp, idx, kind); err != nil {
				c.cfg.Logger.Warnf("track %s: lazy drm acquisition failed idx=%d: %v", kind, idx, err)
				return
			}
		}
	}()
}

// Stop halts both track controllers.
func (c *Coordinator) Stop(clearDRM bool) {
	if c.video != nil {
		c.video.Stop(clearDRM)
	}
	if c.audio != nil {
		c.audio.Stop(clearDRM)
	}
}

// SetTrickPlay configures scrub rate for both tracks (spec.md §4.5 step 6).
func (c *Coordinator) SetTrickPlay(rate int) {
	c.video.SetTrickPlay(rate, c.cfg.TrickPlayFPS)
	if c.audio != nil {
		c.audio.SetTrickPlay(rate, c.cfg.TrickPlayFPS)
	}
}

func (c *Coordinator) newController(kind types.TrackKind) *track.Controller {
	injector := inject.New(c.cfg.Sink, c.cfg.Profiler)
	var abr collab.ABR
	if kind == types.Video {
		abr = c.cfg.ABR
	}
	return track.New(track.Config{
		Kind:     kind,
		Fetcher:  c.cfg.Fetcher,
		Injector: injector,
		DRM:      c.drm,
		ABR:      abr,
		Logger:   c.cfg.Logger,
		Events:   c.cfg.Events,
		Clock:    c.cfg.Clock,
		RingSize: c.cfg.RingSize,
		Cache:    c.playlistCache,
	})
}

// loadInitialPlaylists downloads and indexes both tracks' media
// playlists in parallel (spec.md §4.5 step 4), grounded on the
// teacher's orchestrator.Engine fan-out pattern (per-goroutine result
// channel joined by sync.WaitGroup).
func (c *Coordinator) loadInitialPlaylists(ctx context.Context, videoURL, audioURL string) error {
	controllers := []*track.Controller{c.video}
	urls := []string{videoURL}
	if c.audio != nil {
		controllers = append(controllers, c.audio)
		urls = append(urls, audioURL)
	}

	errs := make(chan error, len(controllers))
	var wg sync.WaitGroup
	for i, ctrl := range controllers {
		wg.Add(1)
		go func(ctrl *track.Controller, playlistURL string) {
			defer wg.Done()
			ctrl.State().PlaylistURL = playlistURL
			errs <- ctrl.LoadPlaylist(ctx)
		}(ctrl, urls[i])
	}
	go func() {
		wg.Wait()
		close(errs)
	}()

	var firstErr error
	for err := range errs {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// synchronize implements spec.md §4.5.1.
func (c *Coordinator) synchronize(tuneType types.TuneType) error {
	if c.audio == nil {
		return nil
	}
	videoMP := c.video.Index.Snapshot()
	audioMP := c.audio.Index.Snapshot()
	return syncInitial(
		trackSync{MP: videoMP, State: c.video.State()},
		trackSync{MP: audioMP, State: c.audio.State()},
		syncOptions{
			UseProgramDateTimeIfAvailable: true,
			WillLiveAdjust:                videoMP.IsLive(),
		},
	)
}

// liveAdjust implements spec.md §4.5.2, recording the outcome on
// c.atLivePoint/each track's EOSReached (boundary scenario 4 expects
// mIsAtLivePoint=true observable after the adjustment).
func (c *Coordinator) liveAdjust(tuneType types.TuneType, seekBeyondWindow bool) {
	videoMP := c.video.Index.Snapshot()
	if !videoMP.IsLive() && tuneType != types.TuneSeekToLive {
		return
	}
	if tuneType != types.TuneNew && tuneType != types.TuneSeekToLive && !seekBeyondWindow {
		return
	}

	if c.audio == nil {
		offset := videoMP.TotalDurationS - c.cfg.LiveOffsetS - c.video.State().PlayTargetOffsetS
		c.video.State().PlayTargetS += offset
		c.atLivePoint = offset > 0
		if seekBeyondWindow && !videoMP.IsLive() {
			c.video.State().EOSReached = true
		}
		return
	}

	audioMP := c.audio.Index.Snapshot()
	result := liveEdgeAdjust(
		trackSync{MP: videoMP, State: c.video.State()},
		trackSync{MP: audioMP, State: c.audio.State()},
		c.cfg.LiveOffsetS,
		seekBeyondWindow,
	)
	c.atLivePoint = result.AtLivePoint
	if result.EOS {
		c.video.State().EOSReached = true
		c.audio.State().EOSReached = true
	}
}

// AtLivePoint reports whether the most recent live-edge adjustment
// placed the presentation at the live edge (spec.md §4.5.2).
func (c *Coordinator) AtLivePoint() bool {
	return c.atLivePoint
}

// initiateDRM implements spec.md §4.5 step 9: submit each track's
// current-fragment DRM metadata for acquisition synchronously, and
// record the remainder (per drm.Coordinator's multi-metadata policy)
// for Start to prefetch in the background.
func (c *Coordinator) initiateDRM(ctx context.Context, videoMP *types.MediaPlaylist, audio *track.Controller) {
	// currentMetaIdx is the DRM metadata index of the fragment the fetch
	// loop will select first, or -1 if there is none.
	currentMetaIdx := func(mp *types.MediaPlaylist, st *track.State) int {
		for i := st.CurrentIndex; i >= 0 && i < len(mp.Fragments); i++ {
			if mp.Fragments[i].CompletionTimeFromStartS+tuning.PlaylistTimeDiffThreshold.Seconds() >= st.PlayTargetS {
				return mp.Fragments[i].DrmMetadataIdx
			}
		}
		return -1
	}
	lazy, err := c.drm.ProcessMetadata(ctx, videoMP, currentMetaIdx(videoMP, c.video.State()), types.Video, true)
	if err != nil {
		c.cfg.Logger.Warnf("video drm initiation failed: %v", err)
	} else {
		c.videoLazyDRM = lazy
	}
	if audio != nil {
		audioMP := audio.Index.Snapshot()
		lazy, err := c.drm.ProcessMetadata(ctx, audioMP, currentMetaIdx(audioMP, audio.State()), types.Audio, true)
		if err != nil {
			c.cfg.Logger.Warnf("audio drm initiation failed: %v", err)
		} else {
			c.audioLazyDRM = lazy
		}
	}
}

// downloadMasterManifest implements spec.md §4.5 step 1: up to
// MaxMasterManifestRetry retries on a 404, MasterManifestRetryInterval
// apart.
func (c *Coordinator) downloadMasterManifest(ctx context.Context) (*types.MasterManifest, error) {
	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= tuning.MaxMasterManifestRetry; attempt++ {
		attempts++
		res, err := c.cfg.Fetcher.Get(ctx, types.FetchRequest{
			URL:        c.cfg.MasterURL,
			IsManifest: true,
			MediaKind:  "playlist",
		})
		if err == nil {
			return index.ParseMasterManifest(res.Body, func(tag string) {
				c.cfg.Logger.Warnf("master manifest: unrecognized tag %s", tag)
			})
		}
		lastErr = err
		if res.HTTPStatus != 404 {
			break
		}
		timer := time.NewTimer(tuning.MasterManifestRetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, &xerrors.ManifestRequestFailedError{URL: c.cfg.MasterURL, Attempts: attempts, Cause: lastErr}
}

// resolvePlaylistURL joins a variant/rendition's (possibly relative)
// URI against the master manifest's URL, mirroring track.resolveFragmentURL's
// absolute-passthrough / net/url-relative-resolution split.
func resolvePlaylistURL(masterURL, uri string) (string, error) {
	if uri == "" {
		return "", errors.New("hlscollector: empty playlist uri")
	}
	if strings.Contains(uri, "://") {
		return uri, nil
	}
	base, err := url.Parse(masterURL)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(uri)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}

// detectContainerFormat implements spec.md §4.5 step 3's extension
// sniff, grounded on the teacher's internal/downloader URL-extension
// handling.
func detectContainerFormat(uri string) types.ContainerFormat {
	switch strings.ToLower(path.Ext(stripQuery(uri))) {
	case ".ts":
		return types.ContainerMPEGTS
	case ".mp4", ".m4s", ".m4v":
		return types.ContainerFMP4
	case ".aac":
		return types.ContainerAACES
	default:
		return types.ContainerUnknown
	}
}

func stripQuery(uri string) string {
	if i := strings.IndexByte(uri, '?'); i >= 0 {
		return uri[:i]
	}
	return uri
}
