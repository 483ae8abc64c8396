// Package hlscollector is the public facade over the fragment
// collector: a single Open call tunes an HLS presentation and returns
// a Presentation handle for playback control, grounded on the
// teacher's client.New/client.Client entry point.
package hlscollector

import (
	"context"

	"github.com/streamcore/hlscollector/internal/coordinator"
	"github.com/streamcore/hlscollector/internal/httpfetch"
	"github.com/streamcore/hlscollector/internal/types"
)

// Presentation is a tuned HLS presentation: video, and optionally
// audio, each run by their own fetch/inject goroutine pair.
type Presentation struct {
	coord  *coordinator.Coordinator
	cancel context.CancelFunc
}

// Open downloads and parses cfg.MasterURL, selects the initial variant
// and audio rendition, constructs and indexes both track controllers,
// synchronizes them, and adjusts to the live edge if applicable
// (spec.md §4.5). It does not start fetching; call Start for that.
func Open(ctx context.Context, cfg Config) (*Presentation, error) {
	fetcher := cfg.Fetcher
	if fetcher == nil {
		fetcher = httpfetch.New(httpfetch.Config{
			HTTPClient: cfg.HTTPClient,
			ProxyURL:   cfg.ProxyURL,
		})
	}

	coord := coordinator.New(coordinator.Config{
		MasterURL:             cfg.MasterURL,
		PreferredLanguage:     cfg.PreferredLanguage,
		AudioEnabled:          cfg.AudioEnabled,
		PersistedBandwidthBps: cfg.PersistedBandwidthBps,
		DefaultBandwidthBps:   cfg.DefaultBandwidthBps,
		LiveOffsetS:           cfg.LiveOffsetS,
		TrickPlayFPS:          cfg.TrickPlayFPS,
		RingSize:              cfg.RingSize,
		Fetcher:               fetcher,
		Sink:                  cfg.Sink,
		DRM:                   cfg.DRM,
		ABR:                   cfg.ABR,
		Logger:                cfg.Logger,
		Events:                cfg.Events,
		Profiler:              cfg.Profiler,
	})

	if err := coord.Init(ctx, types.TuneNew); err != nil {
		return nil, err
	}
	return &Presentation{coord: coord}, nil
}

// Start launches the fetch and inject goroutines for every configured
// track. The presentation runs until ctx is canceled or Stop is called.
func (p *Presentation) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.coord.Start(ctx)
}

// Stop halts all track goroutines and waits for them to exit. clearDRM
// additionally cancels the key wait on each track's current DRM
// session, after that track's goroutines have exited.
func (p *Presentation) Stop(clearDRM bool) {
	if p.cancel != nil {
		p.cancel()
	}
	p.coord.Stop(clearDRM)
}

// SetTrickPlay configures the scrub rate for every track (0 = normal
// play; positive = fast-forward multiples of the configured fps;
// negative = rewind).
func (p *Presentation) SetTrickPlay(rate int) {
	p.coord.SetTrickPlay(rate)
}

// AtLivePoint reports whether the most recent live-edge adjustment
// (tune, seek-to-live, or a seek beyond the sliding window) placed the
// presentation at the live edge (spec.md §4.5.2).
func (p *Presentation) AtLivePoint() bool {
	return p.coord.AtLivePoint()
}
