// Command hlscollector-probe tunes an HLS master manifest, streams it
// for -duration, and prints each segment the sink receives followed by
// segment and byte totals, grounded on the teacher's
// cmd/ytv1 flag-driven CLI (flag.String + a plain stdout report).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	hlscollector "github.com/streamcore/hlscollector"
	"github.com/streamcore/hlscollector/internal/collab"
	"github.com/streamcore/hlscollector/internal/types"
)

type countingSink struct {
	segments int
	bytes    int64
}

func (s *countingSink) SendSegment(ctx context.Context, seg types.Segment) (ptsError bool, ok bool) {
	s.segments++
	s.bytes += int64(len(seg.Data))
	fmt.Printf("segment track=%s pos=%.3fs dur=%.3fs bytes=%d disc=%v init=%v\n",
		seg.Track, seg.PositionS, seg.DurationS, len(seg.Data), seg.Discontinuity, seg.IsInit)
	return false, true
}

func (s *countingSink) SendStream(ctx context.Context, kind types.TrackKind, data []byte, positionS, ptsS, durationS float64) bool {
	fmt.Printf("stream track=%s pos=%.3fs bytes=%d\n", kind, positionS, len(data))
	return true
}

type stdoutLogger struct{}

func (stdoutLogger) Warnf(format string, args ...any) { log.Printf("warn: "+format, args...) }
func (stdoutLogger) Infof(format string, args ...any) { log.Printf("info: "+format, args...) }

var _ collab.Logger = stdoutLogger{}

func main() {
	var (
		masterURL = flag.String("url", "", "HLS master manifest URL")
		proxy     = flag.String("proxy", "", "Proxy URL")
		audio     = flag.Bool("audio", true, "Select and fetch an audio track")
		lang      = flag.String("lang", "en", "Preferred audio language (BCP-47)")
		duration  = flag.Duration("duration", 10*time.Second, "How long to stream before stopping")
	)
	flag.Parse()

	if *masterURL == "" {
		fmt.Println("Usage: hlscollector-probe -url <master.m3u8> [-audio] [-lang en] [-duration 10s]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	sink := &countingSink{}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pres, err := hlscollector.Open(ctx, hlscollector.Config{
		MasterURL:         *masterURL,
		ProxyURL:          *proxy,
		AudioEnabled:      *audio,
		PreferredLanguage: *lang,
		Sink:              sink,
		Logger:            stdoutLogger{},
	})
	if err != nil {
		log.Fatalf("open failed: %v", err)
	}

	runCtx, runCancel := context.WithTimeout(context.Background(), *duration)
	defer runCancel()
	pres.Start(runCtx)
	<-runCtx.Done()
	pres.Stop(true)

	fmt.Printf("done: segments=%d bytes=%d\n", sink.segments, sink.bytes)
}
