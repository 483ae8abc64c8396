package index

import (
	"testing"

	"github.com/streamcore/hlscollector/internal/types"
)

func TestParseMasterManifestSingleVariant(t *testing.T) {
	buf := []byte("#EXTM3U\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=1000000,RESOLUTION=640x360\n" +
		"video.m3u8\n")
	m, err := ParseMasterManifest(buf, nil)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(m.Profiles) != 1 {
		t.Fatalf("profiles=%v", m.Profiles)
	}
	p := m.Profiles[0]
	if p.BandwidthBps != 1000000 || p.Width != 640 || p.Height != 360 || p.URI != "video.m3u8" || p.IsIframe {
		t.Fatalf("profile=%+v", p)
	}
}

func TestParseMasterManifestIframeAndRenditions(t *testing.T) {
	buf := []byte("#EXTM3U\n" +
		"#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID=\"aud\",NAME=\"English\",LANGUAGE=\"en\",DEFAULT=YES,URI=\"audio.m3u8\"\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=2000000,AUDIO=\"aud\"\n" +
		"video.m3u8\n" +
		"#EXT-X-I-FRAME-STREAM-INF:BANDWIDTH=100000,URI=\"iframe.m3u8\"\n")
	m, err := ParseMasterManifest(buf, nil)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(m.RegularProfiles()) != 1 || len(m.IframeProfiles()) != 1 {
		t.Fatalf("profiles=%v", m.Profiles)
	}
	if m.RegularProfiles()[0].AudioGroup != "aud" {
		t.Fatalf("audio group=%q", m.RegularProfiles()[0].AudioGroup)
	}
	rends := m.RenditionsInGroup(types.Audio, "aud")
	if len(rends) != 1 || rends[0].Language != "en" || !rends[0].Default {
		t.Fatalf("renditions=%v", rends)
	}
}

func TestParseMasterManifestInvalid(t *testing.T) {
	_, err := ParseMasterManifest([]byte("not a manifest\n"), nil)
	if err != ErrInvalidManifest {
		t.Fatalf("err=%v", err)
	}
}
