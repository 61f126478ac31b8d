// Package storage defines the raw-fetch archive: every Fetch call's HTTP
// snapshot, regardless of which crawl target produced it, so archived
// traffic can be replayed or audited per site after the crawl run ends.
package storage

import (
	"context"
	"time"
)

// ScrapeResult represents the outcome of a single scrape action.
type ScrapeResult struct {
	ID  string
	URL string
	// Domain is the request's hostname, recorded separately from URL so a
	// backend can filter/query archived fetches per crawl target without
	// re-parsing URL.
	Domain       string
	Method       string
	StatusCode   int
	Headers      map[string][]string
	Body         []byte
	Duration     time.Duration
	DetectedBot  bool
	DetectionSrc string // e.g. "Cloudflare", "Akamai", "PerimeterX", "DataDome"
	CreatedAt    time.Time
	Error        string // non-empty if the scrape failed before HTTP response
}

// Filter allows querying for specific ScrapeResults.
type Filter struct {
	URL         string
	Domain      string
	DetectedBot *bool
	Since       *time.Time
	Limit       int
	Offset      int
}

// Backend defines the interface for storing and querying scrape results.
type Backend interface {
	Save(ctx context.Context, result *ScrapeResult) error
	Query(ctx context.Context, filter Filter) ([]*ScrapeResult, error)
	Close() error
}
