package hlscollector

import (
	"net/http"

	"github.com/streamcore/hlscollector/internal/collab"
)

// Config holds configuration for a tuned presentation, grounded on the
// teacher's client.Config: plain fields, a proxy-aware default HTTP
// client when none is supplied, and small optional collaborator
// interfaces defaulted to no-ops rather than a concrete implementation.
type Config struct {
	// MasterURL is the HLS master manifest to tune.
	MasterURL string

	// HTTPClient is the client used for manifest/fragment/key requests.
	// If nil, a default client is built (proxied through ProxyURL if set).
	HTTPClient *http.Client

	// ProxyURL is used to build the default HTTPClient when one isn't
	// supplied. Ignored if HTTPClient is set.
	ProxyURL string

	// Fetcher overrides the HTTP transport entirely (tests, custom
	// caching). If nil, a collab.HTTPFetcher backed by HTTPClient/ProxyURL
	// is built internally.
	Fetcher collab.HTTPFetcher

	// Sink receives decoded segments/streams (spec.md §6). Required.
	Sink collab.Sink

	// DRM drives license acquisition and decryption. Required only if the
	// presentation's video track is encrypted; a nil backend fails any
	// EXT-X-FAXS-CM track at decrypt time.
	DRM collab.DRMBackend

	// ABR supplies bitrate ramp-down/profile-change decisions for the
	// video track. Optional: a nil ABR disables ramp-down entirely.
	ABR collab.ABR

	// PreferredLanguage is a BCP-47 tag used to select an audio rendition
	// out of the EXT-X-MEDIA group the chosen variant references. Falls
	// back to "en", then the group's DEFAULT rendition.
	PreferredLanguage string

	// AudioEnabled controls whether a second (audio) track controller is
	// constructed at all.
	AudioEnabled bool

	// PersistedBandwidthBps is a previous session's measured bandwidth,
	// used to avoid re-opening above a bitrate the connection already
	// proved out (spec.md §4.5 step 2). Zero disables this preference.
	PersistedBandwidthBps int64

	// DefaultBandwidthBps is the starting-bitrate target when no
	// persisted measurement applies.
	DefaultBandwidthBps int64

	// LiveOffsetS is the distance to sit behind the live edge on a live
	// presentation (spec.md §4.5.2).
	LiveOffsetS float64

	// TrickPlayFPS is the fragment rate trick-play's index walk steps by;
	// zero defaults to 4.
	TrickPlayFPS float64

	// RingSize bounds each track's fetch/inject channel; zero defaults to 8.
	RingSize int

	Logger   collab.Logger
	Events   collab.EventSink
	Profiler collab.Profiler
}
