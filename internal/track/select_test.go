package track

import (
	"testing"

	"github.com/streamcore/hlscollector/internal/types"
)

func sampleMediaPlaylist() *types.MediaPlaylist {
	return &types.MediaPlaylist{
		Fragments: []types.FragmentIndexNode{
			{CompletionTimeFromStartS: 4, DurationS: 4, URI: "a.ts"},
			{CompletionTimeFromStartS: 8, DurationS: 4, URI: "b.ts"},
			{CompletionTimeFromStartS: 12, DurationS: 4, URI: "c.ts"},
			{CompletionTimeFromStartS: 16, DurationS: 4, URI: "d.ts"},
		},
		Discontinuities: []types.DiscontinuityNode{
			{FragmentIndex: 2, PositionFromStartS: 8},
		},
	}
}

func TestSelectNormalPlayFindsFirstFragmentAtOrAfterTarget(t *testing.T) {
	mp := sampleMediaPlaylist()
	sel, ok := selectNormalPlay(mp, 9, 0)
	if !ok || sel.index != 2 || sel.node.URI != "c.ts" {
		t.Fatalf("sel=%+v ok=%v", sel, ok)
	}
	if !sel.crossedDisc {
		t.Fatalf("expected crossedDisc at fragment index 2")
	}
}

func TestSelectNormalPlayRespectsFromIndex(t *testing.T) {
	mp := sampleMediaPlaylist()
	sel, ok := selectNormalPlay(mp, 0, 1)
	if !ok || sel.index != 1 {
		t.Fatalf("sel=%+v ok=%v, want index 1 (search starts past index 0)", sel, ok)
	}
}

func TestSelectNormalPlayNoMoreFragments(t *testing.T) {
	mp := sampleMediaPlaylist()
	_, ok := selectNormalPlay(mp, 100, 0)
	if ok {
		t.Fatalf("expected no selection past end of playlist")
	}
}

func TestSelectTrickPlayForward(t *testing.T) {
	mp := sampleMediaPlaylist()
	sel, ok := selectTrickPlay(mp, 5, true)
	if !ok || sel.index != 1 || !sel.crossedDisc {
		t.Fatalf("sel=%+v ok=%v", sel, ok)
	}
}

func TestSelectTrickPlayBackward(t *testing.T) {
	mp := sampleMediaPlaylist()
	sel, ok := selectTrickPlay(mp, 10, false)
	if !ok || sel.index != 1 {
		t.Fatalf("sel=%+v ok=%v", sel, ok)
	}
}

func TestResolveFragmentURLRelative(t *testing.T) {
	got, err := resolveFragmentURL("https://cdn.example.com/live/index.m3u8", "seg1.ts")
	if err != nil {
		t.Fatal(err)
	}
	if got != "https://cdn.example.com/live/seg1.ts" {
		t.Fatalf("got=%q", got)
	}
}

func TestResolveFragmentURLAbsolute(t *testing.T) {
	got, err := resolveFragmentURL("https://cdn.example.com/live/index.m3u8", "https://other.example.com/seg1.ts")
	if err != nil {
		t.Fatal(err)
	}
	if got != "https://other.example.com/seg1.ts" {
		t.Fatalf("got=%q", got)
	}
}
