package coordinator

import (
	"testing"

	"github.com/streamcore/hlscollector/internal/types"
)

func profiles() []types.VariantProfile {
	return []types.VariantProfile{
		{BandwidthBps: 400_000, URI: "low.m3u8"},
		{BandwidthBps: 1_200_000, URI: "mid.m3u8"},
		{BandwidthBps: 3_000_000, URI: "high.m3u8"},
	}
}

func TestSelectInitialVariantUsesDefaultWhenNoPersisted(t *testing.T) {
	p, ok := selectInitialVariant(profiles(), 0, 1_500_000)
	if !ok {
		t.Fatal("expected a selection")
	}
	if p.URI != "mid.m3u8" {
		t.Fatalf("got %s, want mid.m3u8", p.URI)
	}
}

func TestSelectInitialVariantPrefersLowerPersistedBandwidth(t *testing.T) {
	p, ok := selectInitialVariant(profiles(), 500_000, 3_000_000)
	if !ok {
		t.Fatal("expected a selection")
	}
	if p.URI != "low.m3u8" {
		t.Fatalf("got %s, want low.m3u8", p.URI)
	}
}

func TestSelectInitialVariantIgnoresHigherPersisted(t *testing.T) {
	p, ok := selectInitialVariant(profiles(), 10_000_000, 1_200_000)
	if !ok {
		t.Fatal("expected a selection")
	}
	if p.URI != "mid.m3u8" {
		t.Fatalf("got %s, want mid.m3u8 (persisted bandwidth higher than default is ignored)", p.URI)
	}
}

func TestSelectInitialVariantFallsBackToLowestWhenTargetBelowAll(t *testing.T) {
	p, ok := selectInitialVariant(profiles(), 0, 100_000)
	if !ok {
		t.Fatal("expected a selection")
	}
	if p.URI != "low.m3u8" {
		t.Fatalf("got %s, want low.m3u8 (lowest available)", p.URI)
	}
}

func TestSelectInitialVariantEmptyProfiles(t *testing.T) {
	if _, ok := selectInitialVariant(nil, 0, 1_000_000); ok {
		t.Fatal("expected no selection for empty profile list")
	}
}

func renditions() []types.MediaRendition {
	return []types.MediaRendition{
		{Language: "es", URI: "es.m3u8"},
		{Language: "en", URI: "en.m3u8", Default: true},
		{Language: "fr", URI: "fr.m3u8"},
	}
}

func TestSelectAudioRenditionMatchesPreferredLanguage(t *testing.T) {
	r, ok := selectAudioRendition(renditions(), "fr")
	if !ok {
		t.Fatal("expected a selection")
	}
	if r.URI != "fr.m3u8" {
		t.Fatalf("got %s, want fr.m3u8", r.URI)
	}
}

func TestSelectAudioRenditionFallsBackToEnglish(t *testing.T) {
	r, ok := selectAudioRendition(renditions(), "")
	if !ok {
		t.Fatal("expected a selection")
	}
	if r.URI != "en.m3u8" {
		t.Fatalf("got %s, want en.m3u8 fallback", r.URI)
	}
}

func TestSelectAudioRenditionFallsBackToDefaultWhenNoneValidTag(t *testing.T) {
	rends := []types.MediaRendition{
		{Language: "not-a-real-tag-!!", URI: "a.m3u8"},
		{Language: "also-bad-!!", URI: "b.m3u8", Default: true},
	}
	r, ok := selectAudioRendition(rends, "de")
	if !ok {
		t.Fatal("expected a selection")
	}
	if r.URI != "b.m3u8" {
		t.Fatalf("got %s, want b.m3u8 (default)", r.URI)
	}
}
