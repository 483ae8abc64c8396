package index

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/streamcore/hlscollector/internal/playlist"
	"github.com/streamcore/hlscollector/internal/types"
)

// ErrInvalidManifest is returned by ParseMasterManifest and BuildIndex
// when the buffer doesn't start with #EXTM3U (spec.md §4.2 step 1, §7).
var ErrInvalidManifest = fmt.Errorf("hlscollector: manifest does not begin with #EXTM3U")

type masterVisitor struct {
	sawM3U       bool
	pendingURI   bool
	pendingIFrame bool
	profile      types.VariantProfile
	manifest     types.MasterManifest
	onUnknown    func(name string)
}

func (m *masterVisitor) Tag(name, value string, line int) {
	switch name {
	case playlist.TagM3U:
		m.sawM3U = true
	case playlist.TagStreamInf, playlist.TagIFrameStreamInf:
		attrs := playlist.ParseAttributeMap(value)
		p := types.VariantProfile{IsIframe: name == playlist.TagIFrameStreamInf}
		if bw, err := strconv.ParseInt(attrs["BANDWIDTH"], 10, 64); err == nil {
			p.BandwidthBps = bw
		}
		if res, ok := attrs["RESOLUTION"]; ok {
			if w, h, ok := parseResolution(res); ok {
				p.Width, p.Height = w, h
			}
		}
		p.Codecs = attrs["CODECS"]
		p.AudioGroup = attrs["AUDIO"]
		if uri, ok := attrs["URI"]; ok {
			p.URI = uri
			m.manifest.Profiles = append(m.manifest.Profiles, p)
			return
		}
		// STREAM-INF has no inline URI: the following URI line supplies it.
		m.profile = p
		m.pendingURI = true
		m.pendingIFrame = p.IsIframe
	case playlist.TagMedia:
		attrs := playlist.ParseAttributeMap(value)
		r := types.MediaRendition{
			GroupID:    attrs["GROUP-ID"],
			Name:       attrs["NAME"],
			Language:   attrs["LANGUAGE"],
			URI:        attrs["URI"],
			Channels:   attrs["CHANNELS"],
			InstreamID: attrs["INSTREAM-ID"],
			Default:    strings.EqualFold(attrs["DEFAULT"], "YES"),
			AutoSelect: strings.EqualFold(attrs["AUTOSELECT"], "YES"),
			Forced:     strings.EqualFold(attrs["FORCED"], "YES"),
		}
		switch strings.ToUpper(attrs["TYPE"]) {
		case "AUDIO":
			r.Kind = types.Audio
		default:
			r.Kind = types.Video
		}
		m.manifest.Renditions = append(m.manifest.Renditions, r)
	}
}

func (m *masterVisitor) UnknownTag(name string, line int) {
	if m.onUnknown != nil {
		m.onUnknown(name)
	}
}

func (m *masterVisitor) URI(uri string, line int) {
	if !m.pendingURI {
		return
	}
	m.profile.URI = uri
	m.manifest.Profiles = append(m.manifest.Profiles, m.profile)
	m.pendingURI = false
}

func parseResolution(s string) (w, h int, ok bool) {
	parts := strings.SplitN(s, "x", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	w64, err1 := strconv.Atoi(parts[0])
	h64, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return w64, h64, true
}

// ParseMasterManifest parses a downloaded master manifest buffer into a
// MasterManifest. onUnknownTag, if non-nil, is called once per
// unrecognized "#EXT-" tag (for logging); parsing itself never fails on
// unknown tags.
func ParseMasterManifest(buf []byte, onUnknownTag func(name string)) (*types.MasterManifest, error) {
	v := &masterVisitor{onUnknown: onUnknownTag}
	playlist.Tokenize(buf, v)
	if !v.sawM3U {
		return nil, ErrInvalidManifest
	}
	return &v.manifest, nil
}
