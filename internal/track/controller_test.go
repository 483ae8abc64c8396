package track

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/streamcore/hlscollector/internal/collab"
	"github.com/streamcore/hlscollector/internal/drm"
	"github.com/streamcore/hlscollector/internal/types"
)

type fakeFetcher struct {
	mu        sync.Mutex
	playlist  []byte
	fragments map[string][]byte
	calls     []string
}

func (f *fakeFetcher) Get(ctx context.Context, req types.FetchRequest) (types.FetchResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.URL)
	f.mu.Unlock()

	if req.IsManifest {
		return types.FetchResult{Body: f.playlist, EffectiveURL: req.URL}, nil
	}
	body, ok := f.fragments[req.URL]
	if !ok {
		return types.FetchResult{HTTPStatus: 404}, fmt.Errorf("no fixture for %s", req.URL)
	}
	return types.FetchResult{Body: body, EffectiveURL: req.URL}, nil
}

type recordingInjector struct {
	mu   sync.Mutex
	segs []types.Segment
	done chan struct{}
	want int
}

func newRecordingInjector(want int) *recordingInjector {
	return &recordingInjector{done: make(chan struct{}), want: want}
}

func (r *recordingInjector) InjectSegment(ctx context.Context, seg types.Segment) (bool, bool) {
	r.mu.Lock()
	r.segs = append(r.segs, seg)
	n := len(r.segs)
	r.mu.Unlock()
	if n == r.want {
		close(r.done)
	}
	return false, true
}

func (r *recordingInjector) InjectStream(ctx context.Context, kind types.TrackKind, data []byte, positionS, ptsS, durationS float64) bool {
	return true
}

func (r *recordingInjector) snapshot() []types.Segment {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.Segment, len(r.segs))
	copy(out, r.segs)
	return out
}

type noopDRMBackend struct{}

func (noopDRMBackend) SetMetadata(ctx context.Context, meta types.DrmMetadata, track types.TrackKind) error {
	return nil
}
func (noopDRMBackend) GetSession(hash [20]byte) (collab.Session, bool) { return nil, false }
func (noopDRMBackend) Decrypt(ctx context.Context, sess collab.Session, buf []byte, timeout time.Duration) ([]byte, error) {
	return buf, nil
}
func (noopDRMBackend) CancelKeyWait(collab.Session)    {}
func (noopDRMBackend) RestoreKeyState(collab.Session) {}

func vodPlaylist() []byte {
	return []byte("#EXTM3U\n" +
		"#EXT-X-TARGETDURATION:4\n" +
		"#EXT-X-PLAYLIST-TYPE:VOD\n" +
		"#EXTINF:4.0,\nseg0.ts\n" +
		"#EXTINF:4.0,\nseg1.ts\n" +
		"#EXTINF:4.0,\nseg2.ts\n" +
		"#EXT-X-ENDLIST\n")
}

func TestControllerNormalPlayFetchesFragmentsInOrderAndStops(t *testing.T) {
	fetcher := &fakeFetcher{
		playlist: vodPlaylist(),
		fragments: map[string][]byte{
			"https://cdn.example.com/seg0.ts": []byte("seg0"),
			"https://cdn.example.com/seg1.ts": []byte("seg1"),
			"https://cdn.example.com/seg2.ts": []byte("seg2"),
		},
	}
	injector := newRecordingInjector(3)
	coord := drm.New(noopDRMBackend{}, nil)

	c := New(Config{
		Kind:     types.Video,
		Fetcher:  fetcher,
		Injector: injector,
		DRM:      coord,
	})
	c.state.PlaylistURL = "https://cdn.example.com/index.m3u8"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := c.LoadPlaylist(ctx); err != nil {
		t.Fatalf("LoadPlaylist: %v", err)
	}
	c.Start(ctx, c.state.PlaylistURL)

	select {
	case <-injector.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for 3 segments, got %d", len(injector.snapshot()))
	}

	c.Stop(false)

	segs := injector.snapshot()
	if len(segs) != 3 {
		t.Fatalf("segs=%d, want 3", len(segs))
	}
	if string(segs[0].Data) != "seg0" || string(segs[1].Data) != "seg1" || string(segs[2].Data) != "seg2" {
		t.Fatalf("segs out of order: %+v", segs)
	}
}

func TestControllerInjectsInitFragmentBeforeMedia(t *testing.T) {
	playlist := []byte("#EXTM3U\n" +
		"#EXT-X-TARGETDURATION:4\n" +
		"#EXT-X-PLAYLIST-TYPE:VOD\n" +
		"#EXT-X-MAP:URI=\"init.mp4\"\n" +
		"#EXTINF:4.0,\nseg0.mp4\n" +
		"#EXT-X-ENDLIST\n")
	fetcher := &fakeFetcher{
		playlist: playlist,
		fragments: map[string][]byte{
			"https://cdn.example.com/init.mp4": []byte("INIT"),
			"https://cdn.example.com/seg0.mp4": []byte("MEDIA"),
		},
	}
	injector := newRecordingInjector(2)
	coord := drm.New(noopDRMBackend{}, nil)

	c := New(Config{Kind: types.Video, Fetcher: fetcher, Injector: injector, DRM: coord})
	c.state.PlaylistURL = "https://cdn.example.com/index.m3u8"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.LoadPlaylist(ctx); err != nil {
		t.Fatalf("LoadPlaylist: %v", err)
	}
	c.Start(ctx, c.state.PlaylistURL)

	select {
	case <-injector.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out, got %d segments", len(injector.snapshot()))
	}
	c.Stop(false)

	segs := injector.snapshot()
	if len(segs) != 2 || !segs[0].IsInit || string(segs[0].Data) != "INIT" {
		t.Fatalf("segs=%+v, want init first", segs)
	}
	if string(segs[1].Data) != "MEDIA" {
		t.Fatalf("segs[1]=%+v", segs[1])
	}
}
