// Package inject wraps the collab.Sink contract (spec.md §6) behind one
// small interface so a track controller's fetch loop depends on nothing
// but Injector, never on a concrete transport or demuxer type —
// grounded on the teacher's downloader.Downloader / ProgressReporter
// minimal-interface style.
package inject

import (
	"context"

	"github.com/streamcore/hlscollector/internal/collab"
	"github.com/streamcore/hlscollector/internal/types"
)

// Injector is the fetch loop's only handle to the downstream pipeline.
type Injector interface {
	InjectSegment(ctx context.Context, seg types.Segment) (ptsError bool, ok bool)
	InjectStream(ctx context.Context, kind types.TrackKind, data []byte, positionS, ptsS, durationS float64) bool
}

// SinkInjector adapts a collab.Sink to Injector, marking a profiler
// point around each call when one is configured.
type SinkInjector struct {
	Sink     collab.Sink
	Profiler collab.Profiler
}

func New(sink collab.Sink, profiler collab.Profiler) *SinkInjector {
	if profiler == nil {
		profiler = collab.NopProfiler{}
	}
	return &SinkInjector{Sink: sink, Profiler: profiler}
}

func (i *SinkInjector) InjectSegment(ctx context.Context, seg types.Segment) (ptsError bool, ok bool) {
	i.Profiler.Mark("inject_segment_" + seg.Track.String())
	return i.Sink.SendSegment(ctx, seg)
}

func (i *SinkInjector) InjectStream(ctx context.Context, kind types.TrackKind, data []byte, positionS, ptsS, durationS float64) bool {
	i.Profiler.Mark("inject_stream_" + kind.String())
	return i.Sink.SendStream(ctx, kind, data, positionS, ptsS, durationS)
}
