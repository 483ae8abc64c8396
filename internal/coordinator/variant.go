package coordinator

import (
	"golang.org/x/text/language"

	"github.com/streamcore/hlscollector/internal/types"
)

// selectInitialVariant implements spec.md §4.5 step 2: prefer the
// persisted bandwidth from a previous session if it is lower than the
// configured default (avoids re-opening at a higher bitrate than the
// connection proved out last time), otherwise use the default. The
// chosen target bandwidth is matched to the highest non-iframe profile
// not exceeding it, falling back to the lowest profile available.
func selectInitialVariant(profiles []types.VariantProfile, persistedBandwidthBps, defaultBandwidthBps int64) (types.VariantProfile, bool) {
	if len(profiles) == 0 {
		return types.VariantProfile{}, false
	}
	target := defaultBandwidthBps
	if persistedBandwidthBps > 0 && persistedBandwidthBps < defaultBandwidthBps {
		target = persistedBandwidthBps
	}

	best := profiles[0]
	haveBest := false
	lowest := profiles[0]
	for _, p := range profiles {
		if p.BandwidthBps < lowest.BandwidthBps {
			lowest = p
		}
		if p.BandwidthBps <= target && (!haveBest || p.BandwidthBps > best.BandwidthBps) {
			best = p
			haveBest = true
		}
	}
	if !haveBest {
		return lowest, true
	}
	return best, true
}

// selectAudioRendition implements spec.md §4.5 step 3's audio-track
// resolution: match the user's preferred language (BCP-47) against the
// renditions in audioGroup using golang.org/x/text/language, falling
// back to "en" and then to the rendition marked DEFAULT.
func selectAudioRendition(renditions []types.MediaRendition, preferredLanguage string) (types.MediaRendition, bool) {
	if len(renditions) == 0 {
		return types.MediaRendition{}, false
	}

	tags := make([]language.Tag, 0, len(renditions))
	validIdx := make([]int, 0, len(renditions))
	for i, r := range renditions {
		tag, err := language.Parse(r.Language)
		if err != nil {
			continue
		}
		tags = append(tags, tag)
		validIdx = append(validIdx, i)
	}

	if len(tags) > 0 {
		matcher := language.NewMatcher(tags)
		for _, want := range []string{preferredLanguage, "en"} {
			if want == "" {
				continue
			}
			if wantTag, err := language.Parse(want); err == nil {
				_, idx, confidence := matcher.Match(wantTag)
				if confidence >= language.Low {
					return renditions[validIdx[idx]], true
				}
			}
		}
	}

	for _, r := range renditions {
		if r.Default {
			return r, true
		}
	}
	return renditions[0], true
}
