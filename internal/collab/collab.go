// Package collab defines every external collaborator the fragment
// collector consumes but never implements: HTTP transport, the media
// sink, the DRM back-end, the ABR estimator, logging, and profiling
// (spec.md §1, §6). Each is the smallest interface its caller needs,
// grounded on the teacher's habit of small consumed interfaces
// (downloader.Downloader, client.Logger) rather than one wide SPI.
package collab

import (
	"context"
	"time"

	"github.com/streamcore/hlscollector/internal/types"
)

// HTTPFetcher performs the single HTTP GET operation the collector ever
// needs, including byte-range support and redirect-following (the
// result's EffectiveURL is the final, post-redirect URL).
type HTTPFetcher interface {
	Get(ctx context.Context, req types.FetchRequest) (types.FetchResult, error)
}

// Sink is the downstream media pipeline. SendSegment is the demux/inject
// path; SendStream is passthrough for formats with no demuxer in front
// of them. Returning ok=false means the segment was discarded with no
// backpressure charge to the track (spec.md §6).
type Sink interface {
	SendSegment(ctx context.Context, seg types.Segment) (ptsError bool, ok bool)
	SendStream(ctx context.Context, kind types.TrackKind, data []byte, positionS, ptsS, durationS float64) bool
}

// Session is an opaque DRM-backend handle. Only its identity matters to
// the collector: it's the thing a decrypt call is made against.
type Session interface{}

// DRMBackend drives license acquisition and decryption. All mutation and
// access must be safe to call concurrently; the collector's own
// drm.Coordinator additionally serializes calls with a process-wide
// mutex per spec.md §4.3/§5, but a backend must not assume that is its
// only caller.
type DRMBackend interface {
	SetMetadata(ctx context.Context, meta types.DrmMetadata, track types.TrackKind) error
	GetSession(hash [20]byte) (Session, bool)
	Decrypt(ctx context.Context, sess Session, buf []byte, timeout time.Duration) ([]byte, error)
	CancelKeyWait(sess Session)
	RestoreKeyState(sess Session)
}

// ABR is the bitrate estimator. CheckForRampDown is consulted after an
// HTTP failure on the video track (spec.md §4.4 step 5).
type ABR interface {
	CheckForRampDown(httpStatus int) bool
	CheckForProfileChange() bool
	SetBandwidth(bps int64)
}

// Logger is an optional sink for non-fatal warnings and informational
// messages, mirroring the teacher's client.Logger exactly: a single
// small interface, defaulted to a no-op rather than a concrete logging
// library (see SPEC_FULL.md §9).
type Logger interface {
	Warnf(format string, args ...any)
	Infof(format string, args ...any)
}

type NopLogger struct{}

func (NopLogger) Warnf(string, ...any) {}
func (NopLogger) Infof(string, ...any) {}

// Profiler receives coarse timing marks for the glue/profiling hooks
// named in spec.md §2 item 7. It is intentionally label-only: the
// collector has no opinion on how a host aggregates or exports timing.
type Profiler interface {
	Mark(label string)
}

type NopProfiler struct{}

func (NopProfiler) Mark(string) {}

// EventSink receives every event spec.md §6 says the collector emits.
type EventSink interface {
	BitRateChanged(bandwidthBps int64, width, height int)
	MediaMetadata(durationS float64, languages []string, bitratesBps []int64, hasDRM bool, hasIframeTrack bool)
	TimedMetadata(positionMs int64, tagName, tagBody string, length int)
	PlaylistIndexed(track types.TrackKind)
	FirstFragmentDecrypted(track types.TrackKind)
	TuneFailed(kind string, httpStatus int)
	StateTransition(from, to string)
}

type NopEventSink struct{}

func (NopEventSink) BitRateChanged(int64, int, int)                     {}
func (NopEventSink) MediaMetadata(float64, []string, []int64, bool, bool) {}
func (NopEventSink) TimedMetadata(int64, string, string, int)           {}
func (NopEventSink) PlaylistIndexed(types.TrackKind)                    {}
func (NopEventSink) FirstFragmentDecrypted(types.TrackKind)             {}
func (NopEventSink) TuneFailed(string, int)                             {}
func (NopEventSink) StateTransition(string, string)                     {}
