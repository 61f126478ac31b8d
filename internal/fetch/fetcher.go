// Package fetch implements the single-URL fetch primitive (C1): issuing one
// HTTP GET under the configured defensive measures (User-Agent rotation,
// proxy selection, stealth headers) and surfacing recoverable vs. fatal
// errors to callers.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/newsguild/unicrawl/internal/bypass"
	"github.com/newsguild/unicrawl/internal/fingerprint"
	"github.com/newsguild/unicrawl/internal/storage"
	"github.com/newsguild/unicrawl/pkg/httpclient"
	"github.com/newsguild/unicrawl/pkg/proxy"
	"github.com/newsguild/unicrawl/pkg/ratelimit"
	"github.com/newsguild/unicrawl/pkg/useragent"
)

type contextKey string

const proxyKey contextKey = "proxy_url"

// recoverableMarkers are substrings of an error's message that mark it as
// transient and eligible for retry. Fragile by construction — it mirrors
// observed browser-automation failure modes rather than a structured error
// taxonomy.
var recoverableMarkers = []string{
	"browsercontext.new_page",
	"connection closed while reading from the driver",
	"pipe closed by peer",
}

// IsRecoverable reports whether err's message matches one of the known
// transient-failure markers.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range recoverableMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

const maxRetries = 3

// retryBackoff returns the linear 0.5s*attempt backoff for the given retry
// attempt (1-indexed).
func retryBackoff(attempt int) time.Duration {
	return time.Duration(attempt) * 500 * time.Millisecond
}

// Config configures a Fetcher's defensive measures.
type Config struct {
	Timeout      time.Duration
	MaxRedirects int
	UseCookieJar bool

	ProxyPool      *proxy.Pool
	UAPool         *useragent.Pool
	StealthFactory *StealthFactory
	Fingerprint    fingerprint.Profile

	// RateLimiter, when set, is consulted per request host before it is
	// issued, so one throttled site never steals pacing budget from sites
	// crawled concurrently.
	RateLimiter *ratelimit.DomainPool

	// EnableUserAgentRotation selects a sticky per-host User-Agent from
	// UAPool; without it, UAPool's agents are used in sequence.
	// EnableStealthHeaders gates whether StealthFactory is consulted even
	// when configured. Both mirror the source's defensive-measures toggles.
	EnableUserAgentRotation bool
	EnableStealthHeaders    bool

	// Backend, when set, persists every raw fetch as a storage.ScrapeResult
	// snapshot (the archive_storage raw HTML artefact).
	Backend storage.Backend
}

// Fetcher performs single URL fetches using the configured bypass
// strategies. Holding a single client across requests lets cookie jars (if
// configured) persist for the Fetcher's lifetime — this is what lets a
// modal handler's consent cookies carry over to subsequent fetches.
type Fetcher struct {
	config Config
	client *httpclient.Client
}

// New initializes a new Fetcher with the given configuration.
func New(cfg Config) (*Fetcher, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.UAPool == nil {
		cfg.UAPool = useragent.NewPool(nil)
	}
	if string(cfg.Fingerprint) == "" {
		cfg.Fingerprint = fingerprint.ProfileChrome
	}

	proxyFunc := func(req *http.Request) (*url.URL, error) {
		if val := req.Context().Value(proxyKey); val != nil {
			if u, ok := val.(*url.URL); ok {
				return u, nil
			}
		}
		return http.ProxyFromEnvironment(req)
	}

	transport, err := fingerprint.Transport(cfg.Fingerprint, proxyFunc)
	if err != nil {
		return nil, fmt.Errorf("fetch: setup transport: %w", err)
	}

	client, err := httpclient.New(httpclient.Config{
		Timeout:      cfg.Timeout,
		MaxRedirects: cfg.MaxRedirects,
		UseCookieJar: cfg.UseCookieJar,
		Transport:    transport,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch: create client: %w", err)
	}

	return &Fetcher{config: cfg, client: client}, nil
}

// Fetch executes a single GET request, applying UA rotation, proxy
// selection and stealth headers, and records the outcome into a
// storage.ScrapeResult (optionally persisted to the configured Backend).
func (f *Fetcher) Fetch(ctx context.Context, targetURL string) (*storage.ScrapeResult, error) {
	start := time.Now()
	result := &storage.ScrapeResult{
		ID:        uuid.New().String(),
		URL:       targetURL,
		Method:    http.MethodGet,
		CreatedAt: start.UTC(),
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		result.Error = fmt.Sprintf("failed to create request: %v", err)
		result.Duration = time.Since(start)
		return result, nil
	}
	result.Domain = req.URL.Hostname()

	var activeProxy *url.URL
	if f.config.ProxyPool != nil {
		// Sticky per-host assignment, mirroring the User-Agent pool: a crawl
		// target keeps seeing the same egress proxy across its requests.
		activeProxy = f.config.ProxyPool.NextForDomain(req.URL.Hostname())
	}

	if activeProxy != nil {
		req = req.WithContext(context.WithValue(req.Context(), proxyKey, activeProxy))
	}

	if f.config.RateLimiter != nil {
		if err := f.config.RateLimiter.Wait(req.Context(), req.URL.Hostname()); err != nil {
			result.Error = fmt.Sprintf("rate limit wait: %v", err)
			result.Duration = time.Since(start)
			return result, nil
		}
	}

	f.applyHeaders(req)

	resp, err := f.client.Do(req.Context(), req)
	if err != nil {
		if activeProxy != nil {
			_ = f.config.ProxyPool.MarkFailure(activeProxy)
		}
		result.Error = fmt.Sprintf("request failed: %v", err)
		result.Duration = time.Since(start)
		f.persist(ctx, result)
		return result, nil
	}
	defer resp.Body.Close()

	if activeProxy != nil {
		_ = f.config.ProxyPool.MarkSuccess(activeProxy)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		result.Error = fmt.Sprintf("failed to read body: %v", err)
	}

	result.StatusCode = resp.StatusCode
	result.Headers = resp.Header
	result.Body = body
	result.Duration = time.Since(start)

	bypass.Analyze(result, bypass.DefaultDetectors())

	if result.DetectedBot && activeProxy != nil {
		// A bot-challenge response is not a transport success: the proxy
		// that produced it earned the MarkSuccess above under false
		// pretenses, so it's reclassified as a failure for health tracking.
		_ = f.config.ProxyPool.MarkFailure(activeProxy)
	}

	f.persist(ctx, result)
	return result, nil
}

// FetchWithRetry wraps Fetch with the recoverable-error retry policy: up to
// 3 attempts with 0.5s*attempt linear backoff, only for errors whose
// message matches a recoverable marker.
func (f *Fetcher) FetchWithRetry(ctx context.Context, targetURL string) (*storage.ScrapeResult, error) {
	var lastResult *storage.ScrapeResult
	var lastErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		result, err := f.Fetch(ctx, targetURL)
		if err == nil && result.Error == "" {
			return result, nil
		}

		lastResult = result
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("fetch: %s", result.Error)
		}

		if !IsRecoverable(lastErr) || attempt == maxRetries {
			break
		}

		select {
		case <-time.After(retryBackoff(attempt)):
		case <-ctx.Done():
			return lastResult, ctx.Err()
		}
	}

	return lastResult, lastErr
}

// ApplyCookies merges cookies into the client's jar scoped to rawURL's
// host, making consent cookies surfaced by a modal handler visible to every
// subsequent fetch against that site. A no-op when the Fetcher was built
// without a cookie jar.
func (f *Fetcher) ApplyCookies(rawURL string, cookies map[string]string) {
	if len(cookies) == 0 || f.client.Jar == nil {
		return
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return
	}
	set := make([]*http.Cookie, 0, len(cookies))
	for name, value := range cookies {
		set = append(set, &http.Cookie{Name: name, Value: value, Path: "/"})
	}
	f.client.Jar.SetCookies(u, set)
}

// UserAgentFor returns the sticky per-host User-Agent for host, so callers
// evaluating external policy (robots.txt) can do it under the same identity
// the fetches present. Requests carry this value only when
// EnableUserAgentRotation is set; otherwise they take UAPool's agents in
// sequence and need not match it.
func (f *Fetcher) UserAgentFor(host string) string {
	if f.config.UAPool == nil {
		return ""
	}
	return f.config.UAPool.ChooseForDomain(host)
}

func (f *Fetcher) applyHeaders(req *http.Request) {
	ua := ""
	if f.config.UAPool != nil {
		if f.config.EnableUserAgentRotation {
			// Sticky per-host assignment: a target domain sees a consistent
			// User-Agent across every request issued to it, rather than a
			// different one on every call.
			ua = f.config.UAPool.ChooseForDomain(req.URL.Hostname())
		} else {
			ua = f.config.UAPool.GetSequential()
		}
	}
	if ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	base := map[string]string{
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
		"Accept-Language": "en-US,en;q=0.5",
	}

	if f.config.EnableStealthHeaders && f.config.StealthFactory != nil {
		if profile, ok := f.config.StealthFactory.ForUserAgent(ua); ok {
			base = MergeHeaders(base, profile)
		}
	}

	for k, v := range base {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
}

func (f *Fetcher) persist(ctx context.Context, result *storage.ScrapeResult) {
	if f.config.Backend == nil {
		return
	}
	_ = f.config.Backend.Save(ctx, result)
}
