// Package crawlsite implements the Site Crawler (C4): landing-page fetch,
// link discovery, and bounded-concurrency article fetch for a single site,
// plus the robots.txt and sitemap helpers that feed seed discovery.
package crawlsite

import (
	"fmt"
	"net/url"
	"strings"
)

// Config identifies a single publisher crawl target. Immutable after
// construction: NewConfig applies the normalization invariants once and the
// zero value is never handed out directly.
type Config struct {
	SourceID         *int64
	Name             string
	Domain           string
	StartURL         string
	Metadata         map[string]any
	CrawlingStrategy string
}

// NewConfig builds a Config from whatever identity a caller has: a bare
// host, a full URL, or both. If only a host is given, StartURL is derived
// as "https://" + host; if only a URL is given, Domain is derived from its
// host. At least one of domain or rawURL must be non-empty.
func NewConfig(domain, rawURL, name string, strategy string, metadata map[string]any) (Config, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	rawURL = strings.TrimSpace(rawURL)

	if domain == "" && rawURL == "" {
		return Config{}, fmt.Errorf("crawlsite: domain and url both empty")
	}

	if rawURL == "" {
		rawURL = "https://" + domain
	}

	if domain == "" {
		parsed, err := url.Parse(rawURL)
		if err != nil {
			return Config{}, fmt.Errorf("crawlsite: parse url %q: %w", rawURL, err)
		}
		domain = strings.ToLower(parsed.Hostname())
		if domain == "" {
			return Config{}, fmt.Errorf("crawlsite: url %q has no host", rawURL)
		}
	}

	if metadata == nil {
		metadata = map[string]any{}
	}

	if name == "" {
		name = domain
	}

	return Config{
		Name:             name,
		Domain:           domain,
		StartURL:         rawURL,
		Metadata:         metadata,
		CrawlingStrategy: strategy,
	}, nil
}

// ownsHost reports whether host belongs to this site: the configured
// domain (allowing a www. prefix either way) or the start URL's own host,
// which may differ from the domain when a source record points at a
// mirror or regional edition.
func (c Config) ownsHost(host string) bool {
	if sameRegistrableDomain(host, c.Domain) {
		return true
	}
	if u, err := url.Parse(c.StartURL); err == nil && strings.EqualFold(host, u.Hostname()) {
		return true
	}
	return false
}
