// Package httpfetch is the default collab.HTTPFetcher: a single GET
// (optionally range-bounded) with exponential-backoff retry on
// transient statuses, grounded on the teacher's
// internal/downloader/transport.go retry loop and headers.go header
// plumbing, and client/http_client.go's proxy-aware default client.
package httpfetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/streamcore/hlscollector/internal/types"
)

// Config tunes the default fetcher. Zero values fall back to sane
// defaults, mirroring normalizeTransportConfig in the teacher.
type Config struct {
	HTTPClient       *http.Client
	ProxyURL         string
	Headers          http.Header
	MaxRetries       int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	RetryStatusCodes []int
}

type effectiveConfig struct {
	maxRetries       int
	initialBackoff   time.Duration
	maxBackoff       time.Duration
	retryStatusCodes []int
}

func normalize(cfg Config) effectiveConfig {
	maxRetries := cfg.MaxRetries
	switch {
	case maxRetries < 0:
		maxRetries = 0
	case maxRetries == 0:
		maxRetries = 3
	}
	initialBackoff := cfg.InitialBackoff
	if initialBackoff <= 0 {
		initialBackoff = 500 * time.Millisecond
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 3 * time.Second
	}
	statusCodes := cfg.RetryStatusCodes
	if len(statusCodes) == 0 {
		statusCodes = []int{
			http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		}
	}
	return effectiveConfig{
		maxRetries:       maxRetries,
		initialBackoff:   initialBackoff,
		maxBackoff:       maxBackoff,
		retryStatusCodes: statusCodes,
	}
}

func (c effectiveConfig) backoffFor(attempt int) time.Duration {
	backoff := c.initialBackoff
	for i := 0; i < attempt; i++ {
		backoff *= 2
		if backoff > c.maxBackoff {
			return c.maxBackoff
		}
	}
	return backoff
}

// Fetcher implements collab.HTTPFetcher.
type Fetcher struct {
	client  *http.Client
	headers http.Header
	cfg     effectiveConfig
}

func New(cfg Config) *Fetcher {
	client := cfg.HTTPClient
	if client == nil {
		client = defaultHTTPClient(cfg.ProxyURL)
	}
	return &Fetcher{
		client:  client,
		headers: cloneHeader(cfg.Headers),
		cfg:     normalize(cfg),
	}
}

func defaultHTTPClient(proxyURL string) *http.Client {
	if strings.TrimSpace(proxyURL) == "" {
		return http.DefaultClient
	}
	parsed, err := url.Parse(proxyURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return http.DefaultClient
	}
	baseTransport, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return http.DefaultClient
	}
	transport := baseTransport.Clone()
	transport.Proxy = http.ProxyURL(parsed)
	return &http.Client{Transport: transport}
}

func cloneHeader(h http.Header) http.Header {
	if h == nil {
		return nil
	}
	out := make(http.Header, len(h))
	for k, vals := range h {
		cp := make([]string, len(vals))
		copy(cp, vals)
		out[k] = cp
	}
	return out
}

// statusError carries the failing status so the retry loop can decide
// whether it's transient, and the caller (track/coordinator) can see
// the HTTP status that triggered an ABR ramp-down.
type statusError struct {
	StatusCode int
	RetryAfter time.Duration
}

func (e *statusError) Error() string {
	return fmt.Sprintf("httpfetch: status=%d", e.StatusCode)
}

// Get implements collab.HTTPFetcher: one logical fetch, retried with
// exponential backoff on a transient status or transport error.
func (f *Fetcher) Get(ctx context.Context, req types.FetchRequest) (types.FetchResult, error) {
	var lastErr error
	var lastStatus int
	for attempt := 0; attempt <= f.cfg.maxRetries; attempt++ {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
		if err != nil {
			return types.FetchResult{}, err
		}
		applyRequestHeaders(httpReq, f.headers)
		if req.Range != nil {
			httpReq.Header.Set("Range", rangeHeaderValue(*req.Range))
		}

		resp, err := f.client.Do(httpReq)
		if err != nil {
			lastErr = err
		} else {
			result, readErr := readResponse(resp)
			if readErr == nil {
				return result, nil
			}
			lastErr = readErr
			var se *statusError
			if errors.As(readErr, &se) {
				lastStatus = se.StatusCode
			}
		}

		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			return types.FetchResult{HTTPStatus: lastStatus}, lastErr
		}
		if !f.retryable(lastErr) || attempt == f.cfg.maxRetries {
			return types.FetchResult{HTTPStatus: lastStatus}, lastErr
		}

		backoff := f.cfg.backoffFor(attempt)
		var se *statusError
		if errors.As(lastErr, &se) && se.RetryAfter > backoff {
			backoff = se.RetryAfter
		}
		if err := waitBackoff(ctx, backoff); err != nil {
			return types.FetchResult{HTTPStatus: lastStatus}, err
		}
	}
	return types.FetchResult{HTTPStatus: lastStatus}, lastErr
}

func (f *Fetcher) retryable(err error) bool {
	if err == nil {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		for _, code := range f.cfg.retryStatusCodes {
			if se.StatusCode == code {
				return true
			}
		}
		return false
	}
	return true
}

func readResponse(resp *http.Response) (types.FetchResult, error) {
	defer resp.Body.Close()
	effectiveURL := ""
	if resp.Request != nil && resp.Request.URL != nil {
		effectiveURL = resp.Request.URL.String()
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return types.FetchResult{HTTPStatus: resp.StatusCode, EffectiveURL: effectiveURL}, &statusError{
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.FetchResult{}, err
	}
	return types.FetchResult{Body: body, EffectiveURL: effectiveURL, HTTPStatus: resp.StatusCode}, nil
}

func applyRequestHeaders(req *http.Request, headers http.Header) {
	for k, vals := range headers {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
}

func rangeHeaderValue(r types.ByteRange) string {
	if r.Length <= 0 {
		return fmt.Sprintf("bytes=%d-", r.Offset)
	}
	return fmt.Sprintf("bytes=%d-%d", r.Offset, r.Offset+r.Length-1)
}

func waitBackoff(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func parseRetryAfter(raw string) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if when, err := http.ParseTime(raw); err == nil {
		d := time.Until(when)
		if d < 0 {
			return 0
		}
		return d
	}
	return 0
}
