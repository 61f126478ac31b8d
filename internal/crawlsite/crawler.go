package crawlsite

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/semaphore"

	"github.com/newsguild/unicrawl/internal/extract"
	"github.com/newsguild/unicrawl/internal/fetch"
	"github.com/newsguild/unicrawl/internal/modal"
)

// linkDiscoveryCap bounds how many candidate article links one landing
// page contributes.
const linkDiscoveryCap = 50

// majorPublisherSections maps a domain substring to the path prefixes that
// publisher uses for article sections, so the heuristic can accept a
// tighter pattern than the generic rule.
var majorPublisherSections = map[string][]string{
	"nytimes.com":        {"/2", "/section/"},
	"washingtonpost.com": {"/world/", "/politics/", "/business/"},
	"bbc.com":            {"/news/"},
	"bbc.co.uk":          {"/news/"},
	"theguardian.com":    {"/world/", "/us-news/", "/politics/"},
	"reuters.com":        {"/world/", "/business/", "/markets/"},
}

var genericArticlePatternRE = regexp.MustCompile(`/(19|20)\d{2}/|/article/|/story/|/news/`)

// Crawler implements the Site Crawler (C4): it fetches a site's landing
// page, discovers article-shaped links, and fetches them with bounded
// concurrency, running the modal handler and paywall detector over every
// page along the way.
type Crawler struct {
	fetcher            *fetch.Fetcher
	modalHandler       modal.Handler
	paywallDetector    modal.Detector
	extractOpts        extract.Options
	persister          extract.Persister
	buildOpts          BuildOptions
	robots             *RobotsAuditor
	sitemaps           *SitemapFetcher
	concurrentBrowsers int64
	logger             *slog.Logger
}

// Option configures a Crawler at construction time.
type Option func(*Crawler)

// WithConcurrentBrowsers overrides the default fetch fan-out width.
func WithConcurrentBrowsers(n int) Option {
	return func(c *Crawler) {
		if n > 0 {
			c.concurrentBrowsers = int64(n)
		}
	}
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Crawler) { c.logger = logger }
}

// WithRobotsAuditor makes the crawler consult robots.txt before fetching
// discovered links. Disallowed links are dropped; a robots fetch failure
// fails open.
func WithRobotsAuditor(auditor *RobotsAuditor) Option {
	return func(c *Crawler) { c.robots = auditor }
}

// WithSitemapFetcher enables sitemap-based seed discovery when a landing
// page yields no article links. Requires WithRobotsAuditor, which supplies
// the sitemap URLs.
func WithSitemapFetcher(fetcher *SitemapFetcher) Option {
	return func(c *Crawler) { c.sitemaps = fetcher }
}

// NewCrawler builds a Crawler. modalHandler and paywallDetector may be the
// Noop variants when their respective capability is disabled.
func NewCrawler(fetcher *fetch.Fetcher, modalHandler modal.Handler, paywallDetector modal.Detector, extractOpts extract.Options, persister extract.Persister, buildOpts BuildOptions, opts ...Option) *Crawler {
	c := &Crawler{
		fetcher:            fetcher,
		modalHandler:       modalHandler,
		paywallDetector:    paywallDetector,
		extractOpts:        extractOpts,
		persister:          persister,
		buildOpts:          buildOpts,
		concurrentBrowsers: 2,
		logger:             slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Result is what CrawlSite returns: accepted articles plus the ones it
// dropped as paywalled (still useful to the per-site loop for counting
// site.paywalls even though they never reach ingestion).
type Result struct {
	Accepted  []*Article
	Paywalled []*Article
}

// CrawlSite fetches site's landing page, discovers up to linkDiscoveryCap
// article links, fetches them with bounded concurrency, and returns at
// most maxArticles accepted records plus any paywalled ones it found along
// the way.
func (c *Crawler) CrawlSite(ctx context.Context, site Config, maxArticles int) (Result, error) {
	if site.StartURL == "" {
		return Result{}, nil
	}
	if maxArticles <= 0 {
		return Result{}, nil
	}

	landing, err := c.fetcher.FetchWithRetry(ctx, site.StartURL)
	if err != nil {
		return Result{}, fmt.Errorf("crawlsite: fetch landing page: %w", err)
	}
	if landing.Error != "" || landing.StatusCode >= 400 {
		return Result{}, fmt.Errorf("crawlsite: landing page error: status=%d err=%s", landing.StatusCode, landing.Error)
	}

	landingModal := c.modalHandler.Handle(string(landing.Body))
	c.fetcher.ApplyCookies(site.StartURL, landingModal.AppliedCookies)

	links, err := discoverLinks(landingModal.CleanedHTML, site)
	if err != nil {
		return Result{}, fmt.Errorf("crawlsite: discover links: %w", err)
	}

	if len(links) == 0 && c.sitemaps != nil && c.robots != nil {
		links = c.sitemapSeeds(ctx, site)
	}

	if c.robots != nil {
		links = c.filterDisallowed(ctx, site, links)
	}

	return c.fetchLinks(ctx, site, links, maxArticles), nil
}

// filterDisallowed drops links the site's robots.txt disallows for the
// User-Agent the fetcher presents to this site. Consultation only — a
// robots fetch failure or parse error lets the link through.
func (c *Crawler) filterDisallowed(ctx context.Context, site Config, links []string) []string {
	ua := c.fetcher.UserAgentFor(site.Domain)
	kept := links[:0]
	for _, link := range links {
		allowed, err := c.robots.IsAllowed(ctx, link, ua)
		if err != nil || allowed {
			kept = append(kept, link)
			continue
		}
		c.logger.Debug("link disallowed by robots.txt", "url", link)
	}
	return kept
}

// sitemapSeeds discovers article links through the site's sitemaps when its
// landing page offered none, applying the same domain and article-shape
// filters as landing-page discovery.
func (c *Crawler) sitemapSeeds(ctx context.Context, site Config) []string {
	maps, err := c.robots.Sitemaps(ctx, site.StartURL)
	if err != nil || len(maps) == 0 {
		return nil
	}

	seen := make(map[string]struct{})
	var out []string
	for _, sitemapURL := range maps {
		urls, err := c.sitemaps.FetchSitemap(ctx, sitemapURL)
		if err != nil {
			c.logger.Debug("sitemap fetch failed", "url", sitemapURL, "err", err)
			continue
		}
		for _, raw := range urls {
			u, err := url.Parse(raw)
			if err != nil {
				continue
			}
			if !site.ownsHost(u.Hostname()) || !looksLikeArticle(u.Path, site.Domain) {
				continue
			}
			if _, dup := seen[raw]; dup {
				continue
			}
			seen[raw] = struct{}{}
			out = append(out, raw)
			if len(out) >= linkDiscoveryCap {
				return out
			}
		}
	}
	return out
}

func (c *Crawler) fetchLinks(ctx context.Context, site Config, links []string, maxArticles int) Result {
	sem := semaphore.NewWeighted(c.concurrentBrowsers)

	outcomes := make([]fetchOutcome, len(links))

	var wg sync.WaitGroup
	for i, link := range links {
		i, link := i, link
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			outcomes[i] = c.fetchOne(ctx, site, link)
		}()
	}
	wg.Wait()

	result := Result{}
	for _, o := range outcomes {
		switch {
		case o.article != nil:
			result.Accepted = append(result.Accepted, o.article)
		case o.paywall != nil:
			result.Paywalled = append(result.Paywalled, o.paywall)
		}
	}

	if len(result.Accepted) > maxArticles {
		result.Accepted = result.Accepted[:maxArticles]
	}
	return result
}

type fetchOutcome = struct {
	article *Article
	paywall *Article
}

func (c *Crawler) fetchOne(ctx context.Context, site Config, link string) fetchOutcome {
	res, err := c.fetcher.FetchWithRetry(ctx, link)
	if err != nil || res.Error != "" || res.StatusCode >= 400 {
		c.logger.Debug("article fetch failed", "url", link, "err", err)
		return fetchOutcome{}
	}

	handled := c.modalHandler.Handle(string(res.Body))
	c.fetcher.ApplyCookies(link, handled.AppliedCookies)

	outcome, err := extract.Extract([]byte(handled.CleanedHTML), link, c.extractOpts, c.persister)
	if err != nil {
		c.logger.Debug("extraction failed", "url", link, "err", err)
		return fetchOutcome{}
	}

	article, err := buildArticle(link, site, outcome, c.buildOpts)
	if err != nil || article == nil {
		return fetchOutcome{}
	}

	detection := c.paywallDetector.Detect(link, handled.CleanedHTML, outcome.Text)
	if detection.IsPaywall {
		article.PaywallFlag = true
		if detection.ShouldSkip {
			article.IngestionStatus = IngestionPaywallSkipped
			return fetchOutcome{paywall: article}
		}
	}
	article.ExtractionMetadata.PaywallDetection = map[string]any{
		"is_paywall": detection.IsPaywall,
		"confidence": detection.Confidence,
		"reasons":    detection.Reasons,
	}

	return fetchOutcome{article: article}
}

// discoverLinks parses all <a href> in html, absolutises them against the
// site's start URL, keeps only links the site owns (same registrable
// domain, allowing a www. prefix, or the start URL's own host), applies
// article-URL heuristics, deduplicates preserving order, and caps the
// result at linkDiscoveryCap.
func discoverLinks(html string, site Config) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(site.StartURL)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var out []string

	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, ok := s.Attr("href")
		if !ok {
			return true
		}
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return true
		}
		abs := base.ResolveReference(ref)
		abs.Fragment = ""

		if !site.ownsHost(abs.Hostname()) {
			return true
		}
		if !looksLikeArticle(abs.Path, site.Domain) {
			return true
		}

		key := abs.String()
		if _, dup := seen[key]; dup {
			return true
		}
		seen[key] = struct{}{}
		out = append(out, key)

		return len(out) < linkDiscoveryCap
	})

	return out, nil
}

func sameRegistrableDomain(host, domain string) bool {
	host = strings.ToLower(host)
	domain = strings.ToLower(domain)
	if host == domain {
		return true
	}
	return host == "www."+domain || domain == "www."+host
}

func looksLikeArticle(path, domain string) bool {
	domain = strings.ToLower(domain)
	for publisher, prefixes := range majorPublisherSections {
		if !strings.Contains(domain, publisher) {
			continue
		}
		for _, prefix := range prefixes {
			if strings.HasPrefix(path, prefix) {
				segments := strings.Split(strings.Trim(path, "/"), "/")
				last := segments[len(segments)-1]
				if len(last) > 5 {
					return true
				}
			}
		}
	}

	return genericArticlePatternRE.MatchString(path)
}
