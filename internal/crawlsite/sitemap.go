package crawlsite

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	sitemap "github.com/oxffaa/gopher-parse-sitemap"

	"github.com/newsguild/unicrawl/internal/fetch"
)

// SitemapFetcher fetches and parses sitemaps to discover seed URLs. The Site
// Crawler consults it, whatever the strategy, when a landing page yields no
// links and a robots auditor supplies the sitemap URLs.
type SitemapFetcher struct {
	fetcher *fetch.Fetcher
	logger  *slog.Logger
}

// NewSitemapFetcher initializes a new SitemapFetcher.
func NewSitemapFetcher(fetcher *fetch.Fetcher, logger *slog.Logger) *SitemapFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &SitemapFetcher{fetcher: fetcher, logger: logger}
}

// FetchSitemap fetches a sitemap XML or sitemap index and recursively
// extracts all URLs.
func (s *SitemapFetcher) FetchSitemap(ctx context.Context, sitemapURL string) ([]string, error) {
	s.logger.Debug("fetching sitemap", "url", sitemapURL)

	result, err := s.fetcher.Fetch(ctx, sitemapURL)
	if err != nil {
		return nil, fmt.Errorf("crawlsite: fetch sitemap: %w", err)
	}
	if result.Error != "" {
		return nil, fmt.Errorf("crawlsite: fetch error: %s", result.Error)
	}
	if result.StatusCode >= 400 {
		return nil, fmt.Errorf("crawlsite: bad status code: %d", result.StatusCode)
	}

	var urls []string
	err = sitemap.Parse(bytes.NewReader(result.Body), func(e sitemap.Entry) error {
		urls = append(urls, e.GetLocation())
		return nil
	})

	if err != nil || len(urls) == 0 {
		var nested []string
		indexErr := sitemap.ParseIndex(bytes.NewReader(result.Body), func(e sitemap.IndexEntry) error {
			nested = append(nested, e.GetLocation())
			return nil
		})

		if indexErr != nil || (len(urls) == 0 && len(nested) == 0) {
			return nil, fmt.Errorf("crawlsite: failed to parse as sitemap or index: %w", err)
		}

		for _, nestedURL := range nested {
			nestedURLs, fetchErr := s.FetchSitemap(ctx, nestedURL)
			if fetchErr != nil {
				s.logger.Warn("failed to fetch nested sitemap", "url", nestedURL, "err", fetchErr)
				continue
			}
			urls = append(urls, nestedURLs...)
		}
	}

	return urls, nil
}
