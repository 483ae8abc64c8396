// Package index builds and queries the per-track MediaPlaylist index
// (spec.md §4.2): a single forward pass over a freshly downloaded
// playlist buffer that produces fragment, discontinuity, and
// DRM-metadata nodes. Index additionally owns the per-track mutex and
// discontinuity-wait broadcast spec.md §4.2/§5 require.
package index

import (
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/streamcore/hlscollector/internal/playlist"
	"github.com/streamcore/hlscollector/internal/tuning"
	"github.com/streamcore/hlscollector/internal/types"
)

// Index wraps a MediaPlaylist with the mutex and publish-broadcast
// spec.md §4.2's "re-entrancy" paragraph requires: a rebuild takes the
// write lock; readers (this track's fetch loop, or another track's
// discontinuity matcher) take the read lock; anyone blocked waiting for
// "is there a discontinuity near X yet" wakes on every rebuild.
type Index struct {
	mu   sync.RWMutex
	mp   *types.MediaPlaylist

	publishedMu sync.Mutex
	published   chan struct{} // closed and replaced on every successful build

	lastMatchedDiscontinuityPosition time.Duration
}

func New() *Index {
	return &Index{
		mp:        &types.MediaPlaylist{},
		published: make(chan struct{}),
	}
}

// Snapshot returns the current MediaPlaylist. The returned pointer must
// be treated as immutable by the caller; Rebuild never mutates an
// already-published MediaPlaylist in place (spec.md §4.2: "producing a
// new index atomically with respect to fragment selection").
func (idx *Index) Snapshot() *types.MediaPlaylist {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.mp
}

// Rebuild parses buf and atomically publishes the result, waking any
// goroutine blocked in WaitForPublish.
func (idx *Index) Rebuild(buf []byte, onUnknownTag func(name string)) (*types.MediaPlaylist, error) {
	mp, err := BuildIndex(buf, onUnknownTag)
	if err != nil {
		return nil, err
	}
	idx.mu.Lock()
	idx.mp = mp
	idx.mu.Unlock()

	idx.publishedMu.Lock()
	close(idx.published)
	idx.published = make(chan struct{})
	idx.publishedMu.Unlock()
	return mp, nil
}

// WaitForPublish blocks until the next Rebuild completes, the deadline
// elapses, or ctx-like cancellation is signaled via done.
func (idx *Index) WaitForPublish(deadline time.Duration, done <-chan struct{}) {
	idx.publishedMu.Lock()
	ch := idx.published
	idx.publishedMu.Unlock()

	timer := time.NewTimer(deadline)
	defer timer.Stop()
	select {
	case <-ch:
	case <-timer.C:
	case <-done:
	}
}

// HasDiscontinuityAround implements the discontinuity matcher (spec.md
// §4.6) for this track. pos is relative to playlist start; useStartTime
// compares against program-date-time instead of position. It returns
// whether a match was found and the signed diff (other - pos semantics
// are the caller's responsibility: this returns candidateTime - pos).
func (idx *Index) HasDiscontinuityAround(pos time.Duration, useStartTime bool) (diff time.Duration, found bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	windowLo := pos - tuning.DiscontinuityMatchWindow
	windowHi := pos + tuning.DiscontinuityMatchWindow

	bestAbs := time.Duration(1<<63 - 1)
	var best time.Duration
	var bestPos time.Duration

	for _, d := range idx.mp.Discontinuities {
		candPos := time.Duration(d.PositionFromStartS * float64(time.Second))
		if candPos <= idx.lastMatchedDiscontinuityPosition {
			continue
		}
		var cand time.Duration
		if useStartTime && d.ProgramDateTime != nil {
			cand = time.Duration(d.ProgramDateTime.UnixNano())
		} else {
			cand = candPos
		}
		if cand < windowLo || cand > windowHi {
			continue
		}
		d := cand - pos
		abs := d
		if abs < 0 {
			abs = -abs
		}
		if abs < bestAbs {
			bestAbs = abs
			best = d
			bestPos = candPos
		}
		found = true
	}
	if found {
		idx.lastMatchedDiscontinuityPosition = bestPos
		diff = best
	}
	return diff, found
}

// DiscontinuityCount is used by the multi-track coordinator's initial
// sync strategy selection (spec.md §4.5.1: "equal discontinuity count > 0").
func (idx *Index) DiscontinuityCount() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.mp.Discontinuities)
}

// --- single-pass indexing algorithm (spec.md §4.2) ---

type indexBuilder struct {
	mp types.MediaPlaylist

	total             float64
	havePendingExtinf bool
	pendingDuration   float64
	pendingByteRange  *types.ByteRange
	lastByteRangeEnd  int64

	currentDrmIdx    int
	currentEncrypted bool
	currentIV        []byte
	currentKeyURI    string

	pendingDiscontinuity bool
	discPosition         float64
	pendingPDT           *time.Time

	typeTag    string
	sawEndlist bool

	onUnknown func(name string)
}

func (b *indexBuilder) Tag(name, value string, line int) {
	switch name {
	case playlist.TagTargetDuration:
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			b.mp.TargetDurationS = v
		}
	case playlist.TagMediaSequence:
		if v, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			b.mp.FirstMediaSequenceNumber = v
		}
	case playlist.TagPlaylistType:
		b.typeTag = strings.ToUpper(strings.TrimSpace(value))
	case playlist.TagEndList:
		b.sawEndlist = true
		b.mp.HasEndList = true
	case playlist.TagIndependentSegments, playlist.TagIFramesOnly, playlist.TagVersion, playlist.TagAllowCache:
		// Not represented in the index; acknowledged tags only.
	case playlist.TagMap:
		attrs := playlist.ParseAttributeMap(value)
		info := &types.InitFragmentInfo{URI: attrs["URI"]}
		if br, ok := attrs["BYTERANGE"]; ok {
			if r, ok := parseByteRange(br, 0); ok {
				info.ByteRange = &r
			}
		}
		b.mp.InitFragmentInfo = info
	case playlist.TagFaxsCM:
		raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(value))
		if err != nil {
			if b.onUnknown != nil {
				b.onUnknown("EXT-X-FAXS-CM(invalid-base64)")
			}
			return
		}
		sum := sha1.Sum(raw)
		b.mp.DrmMetadata = append(b.mp.DrmMetadata, types.DrmMetadataNode{
			Bytes:    raw,
			Sha1Hash: sum,
		})
	case playlist.TagKey:
		b.mp.DrmKeyTagCount++
		attrs := playlist.ParseAttributeMap(value)
		method := strings.ToUpper(attrs["METHOD"])
		switch method {
		case "NONE":
			b.currentEncrypted = false
			b.currentKeyURI = ""
			b.currentIV = nil
			b.currentDrmIdx = -1
		case "AES-128":
			b.currentEncrypted = true
			b.currentKeyURI = attrs["URI"]
			b.currentIV = decodeHexIV(attrs["IV"])
			b.currentDrmIdx = -1
			if hashHex, ok := attrs["CMSha1Hash"]; ok {
				if idx := b.findMetadataByHash(hashHex); idx >= 0 {
					b.currentDrmIdx = idx
				}
			}
		default:
			// SAMPLE-AES and other schemes are out of scope (spec.md §1 Non-goals).
			if b.onUnknown != nil {
				b.onUnknown("EXT-X-KEY(METHOD=" + method + ")")
			}
		}
	case playlist.TagProgramDateTime:
		if t, ok := parsePDT(value); ok {
			b.pendingPDT = &t
			if b.mp.FirstProgramDateTime == nil {
				b.mp.FirstProgramDateTime = &t
			}
		}
	case playlist.TagDiscontinuity:
		b.pendingDiscontinuity = true
		b.discPosition = b.total
	case playlist.TagByteRange:
		if r, ok := parseByteRange(value, b.lastByteRangeEnd); ok {
			b.pendingByteRange = &r
		}
	case playlist.TagExtInf:
		dur := value
		if i := strings.IndexByte(dur, ','); i >= 0 {
			dur = dur[:i]
		}
		if v, err := strconv.ParseFloat(strings.TrimSpace(dur), 64); err == nil {
			b.pendingDuration = v
			b.havePendingExtinf = true
		}
	case playlist.TagDeferredKey:
		if v, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			b.mp.DeferredKeySeconds = &v
		}
	}
}

func (b *indexBuilder) UnknownTag(name string, line int) {
	if b.onUnknown != nil {
		b.onUnknown(name)
	}
}

func (b *indexBuilder) URI(uri string, line int) {
	if !b.havePendingExtinf {
		return
	}
	node := types.FragmentIndexNode{
		CompletionTimeFromStartS: b.total + b.pendingDuration,
		DurationS:                b.pendingDuration,
		RawTagRegionLine:         line,
		URI:                      uri,
		DrmMetadataIdx:           b.currentDrmIdx,
		ByteRange:                b.pendingByteRange,
		Encrypted:                b.currentEncrypted,
		IV:                       b.currentIV,
		KeyURI:                   b.currentKeyURI,
	}
	if b.pendingDiscontinuity {
		b.mp.Discontinuities = append(b.mp.Discontinuities, types.DiscontinuityNode{
			FragmentIndex:      len(b.mp.Fragments),
			PositionFromStartS: b.discPosition,
			ProgramDateTime:    b.pendingPDT,
		})
		b.pendingDiscontinuity = false
	}
	if node.ByteRange != nil {
		b.lastByteRangeEnd = node.ByteRange.Offset + node.ByteRange.Length
	}
	b.mp.Fragments = append(b.mp.Fragments, node)
	b.total = node.CompletionTimeFromStartS
	b.havePendingExtinf = false
	b.pendingByteRange = nil
}

func (b *indexBuilder) findMetadataByHash(hashHex string) int {
	hashHex = strings.TrimPrefix(strings.TrimPrefix(hashHex, "0x"), "0X")
	want, err := hex.DecodeString(hashHex)
	if err != nil || len(want) != 20 {
		return -1
	}
	for i, node := range b.mp.DrmMetadata {
		if string(node.Sha1Hash[:]) == string(want) {
			return i
		}
	}
	return -1
}

// BuildIndex runs the single-pass indexing algorithm over a freshly
// downloaded media playlist buffer (spec.md §4.2).
func BuildIndex(buf []byte, onUnknownTag func(name string)) (*types.MediaPlaylist, error) {
	b := &indexBuilder{currentDrmIdx: -1, onUnknown: onUnknownTag}

	sawM3U := false
	playlist.Tokenize(buf, tagCaptureM3U{b, &sawM3U})
	if !sawM3U {
		return nil, ErrInvalidManifest
	}

	b.mp.TotalDurationS = b.total
	b.mp.PlaylistKind = resolveKind(b.typeTag, b.sawEndlist)
	return &b.mp, nil
}

// tagCaptureM3U wraps indexBuilder to also notice the leading EXTM3U tag.
type tagCaptureM3U struct {
	*indexBuilder
	sawM3U *bool
}

func (t tagCaptureM3U) Tag(name, value string, line int) {
	if name == playlist.TagM3U {
		*t.sawM3U = true
		return
	}
	t.indexBuilder.Tag(name, value, line)
}

func resolveKind(typeTag string, sawEndlist bool) types.PlaylistKind {
	switch typeTag {
	case "VOD":
		return types.PlaylistVOD
	case "EVENT":
		return types.PlaylistEvent
	default:
		if sawEndlist {
			return types.PlaylistVOD
		}
		return types.PlaylistUndefined
	}
}

func decodeHexIV(s string) []byte {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}

func parseByteRange(s string, prevEnd int64) (types.ByteRange, bool) {
	s = strings.TrimSpace(s)
	var length, offset int64
	var err error
	if i := strings.IndexByte(s, '@'); i >= 0 {
		length, err = strconv.ParseInt(s[:i], 10, 64)
		if err != nil {
			return types.ByteRange{}, false
		}
		offset, err = strconv.ParseInt(s[i+1:], 10, 64)
		if err != nil {
			return types.ByteRange{}, false
		}
	} else {
		length, err = strconv.ParseInt(s, 10, 64)
		if err != nil {
			return types.ByteRange{}, false
		}
		offset = prevEnd
	}
	return types.ByteRange{Offset: offset, Length: length}, true
}

func parsePDT(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	layouts := []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.000-0700"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
