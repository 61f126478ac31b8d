// Package sources declares the read-only interfaces the scheduler consults
// for site identity, historical crawl performance, paywall state, and global
// defensive-measures configuration. Concrete implementations (a database, a
// config file, a remote service) live outside the core and are injected by
// cmd/crawld.
package sources

import "context"

// SourceRecord is a publisher target as known to the configuration store.
type SourceRecord struct {
	ID               *int64
	Name             string
	Domain           string
	URL              string
	Metadata         map[string]any
	CrawlingStrategy string
}

// Repository resolves domains to their configured SourceRecord.
type Repository interface {
	// GetSourcesByDomain looks up one SourceRecord per requested domain. A
	// domain with no matching record is simply omitted from the result; the
	// caller synthesizes a minimal SiteConfig for it instead.
	GetSourcesByDomain(ctx context.Context, domains []string) ([]SourceRecord, error)
}

// PerformanceRecord is one historical crawl-strategy observation for a
// source, used by the strategy selector.
type PerformanceRecord struct {
	StrategyUsed   string
	ArticlesPerSec float64
}

// PerformanceHistory exposes recent crawl performance per source, used to
// pick the fastest-performing strategy for a given site.
type PerformanceHistory interface {
	GetSourcePerformanceHistory(ctx context.Context, sourceID int64, limit int) ([]PerformanceRecord, error)
}

// PaywallRecorder persists the cumulative paywall-skip state for a source.
// Implementations decide what "persistently marked paywalled" means
// downstream (e.g. flipping a flag future crawls will consult); the
// scheduler only initiates the call.
type PaywallRecorder interface {
	RecordPaywallDetection(ctx context.Context, sourceID *int64, domain string, skipCount, threshold int, kind string) (statusChanged bool, err error)
}

// DefensiveMeasuresConfig bundles the toggles and pools the fetcher and its
// capability slots consult.
type DefensiveMeasuresConfig struct {
	EnableUserAgentRotation bool
	EnableProxyPool         bool
	EnableStealthHeaders    bool
	EnableModalHandler      bool
	EnablePaywallDetector   bool

	UserAgents      []string
	ProxyURLs       []string
	StealthProfiles []StealthProfileConfig

	ConsentCookieDefaults  map[string]string
	PaywallDetectorOptions map[string]any
}

// StealthProfileConfig describes one stealth header bundle as loaded from
// configuration, keyed to a User-Agent substring match.
type StealthProfileConfig struct {
	Name    string
	UAMatch string
	Headers map[string]string
}

// CrawlConfigProvider supplies the run-wide defensive-measures configuration.
type CrawlConfigProvider interface {
	GetCrawlingConfig(ctx context.Context) (DefensiveMeasuresConfig, error)
}

// ProfileOverride lets a caller force a specific crawl engine for a domain
// or source name, bypassing the Strategy Selector. A non-generic Engine
// value is also passed to the profile engine as its batch-fetch payload.
type ProfileOverride struct {
	Engine string
	Name   string
}

// NormalizeOverrides builds a case-insensitive lookup keyed by both domain
// and display name, per the coordinator's profile-override normalization
// step.
func NormalizeOverrides(overrides map[string]ProfileOverride) map[string]ProfileOverride {
	out := make(map[string]ProfileOverride, len(overrides)*2)
	for key, v := range overrides {
		out[normalizeKey(key)] = v
		if v.Name != "" {
			out[normalizeKey(v.Name)] = v
		}
	}
	return out
}

func normalizeKey(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}
