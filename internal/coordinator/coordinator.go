// Package coordinator implements the Multi-Site Coordinator (C8): it fans
// out a Per-Site Loop per requested domain under a concurrency semaphore,
// aggregates results under a single aggregation lock, and returns the
// well-formed RunSummary that is the scheduler's sole external contract —
// the caller never sees an individual site's exception.
package coordinator

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/newsguild/unicrawl/internal/analyzer"
	"github.com/newsguild/unicrawl/internal/budget"
	"github.com/newsguild/unicrawl/internal/crawlsite"
	"github.com/newsguild/unicrawl/internal/siteloop"
	"github.com/newsguild/unicrawl/internal/sources"
)

// DefaultConcurrency is the default number of sites crawled in parallel.
const DefaultConcurrency = 3

// MaxDocumentedConcurrency is the documented upper bound for concurrency.
const MaxDocumentedConcurrency = 10

// SiteBreakdown is one domain's contribution to a RunSummary.
type SiteBreakdown struct {
	Domain           string
	Attempted        int
	Candidates       int
	Ingested         int
	Duplicates       int
	Errors           int
	Paywalls         int
	ExhaustionReason siteloop.ExhaustionReason
}

// RunSummary is the coordinator's sole contract with its caller:
// well-formed even when every site failed.
type RunSummary struct {
	SitesCrawled           int
	TotalArticles          int
	TotalDuplicates        int
	TotalErrors            int
	TotalPaywalls          int
	Articles               []*crawlsite.Article
	SiteBreakdowns         map[string]SiteBreakdown
	SiteIngestedBreakdown  map[string]int
	SiteDuplicateBreakdown map[string]int
	SiteErrorBreakdown     map[string]int
	SitePaywallBreakdown   map[string]int
	SiteExhaustion         map[string]siteloop.ExhaustionReason
	GlobalTargetTotal      *int
	GlobalTargetReached    bool
	ArticlesPerSecond      float64
	Elapsed                time.Duration
	AdaptiveSummary        *AdaptiveSummary
	TermMatches            []analyzer.TermMatch
}

// AdaptiveSummary reduces per-article extraction telemetry into a
// run-level view.
type AdaptiveSummary struct {
	MeanConfidence   float64
	NeedsReviewCount int
	StrategyCounts   map[string]int
	ExtractorCounts  map[string]int
}

// Coordinator drives a multi-site run. One Coordinator is built per process
// and reused across runs; each Run call gets its own Arbiter since the
// global budget's lifetime is exactly one invocation.
type Coordinator struct {
	Repository sources.Repository
	Loop       *siteloop.Loop
	Logger     *slog.Logger
}

// RunRequest is the coordinator's single entrypoint input.
type RunRequest struct {
	Domains          []string
	PerSiteCap       int
	Concurrency      int
	GlobalTarget     *int
	ProfileOverrides map[string]sources.ProfileOverride
}

func (c *Coordinator) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Run resolves every requested domain to a Site Config, launches one
// per-site task per resolved site under a semaphore of size req.Concurrency
// (DefaultConcurrency when that is below 1), and aggregates their results
// into a RunSummary.
// An individual site's exception never propagates to the caller — it is
// contained to that site's breakdown and counted in the run's totals.
func (c *Coordinator) Run(ctx context.Context, req RunRequest) RunSummary {
	start := time.Now()

	summary := RunSummary{
		SiteBreakdowns:         make(map[string]SiteBreakdown),
		SiteIngestedBreakdown:  make(map[string]int),
		SiteDuplicateBreakdown: make(map[string]int),
		SiteErrorBreakdown:     make(map[string]int),
		SitePaywallBreakdown:   make(map[string]int),
		SiteExhaustion:         make(map[string]siteloop.ExhaustionReason),
		GlobalTargetTotal:      req.GlobalTarget,
	}

	if req.GlobalTarget != nil && *req.GlobalTarget == 0 {
		summary.GlobalTargetReached = true
		summary.Elapsed = time.Since(start)
		return summary
	}

	sites := c.resolveSites(ctx, req.Domains)
	if len(sites) == 0 {
		summary.Elapsed = time.Since(start)
		summary.GlobalTargetReached = req.GlobalTarget != nil && summary.TotalArticles >= *req.GlobalTarget
		return summary
	}

	overrides := sources.NormalizeOverrides(req.ProfileOverrides)
	arbiter := budget.NewArbiter(req.GlobalTarget)

	concurrency := req.Concurrency
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	sem := semaphore.NewWeighted(int64(concurrency))

	var aggregationLock sync.Mutex
	var wg sync.WaitGroup

	loopArbiter := *c.Loop
	loopArbiter.Arbiter = arbiter

	for _, site := range sites {
		site := site
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)

			override := lookupOverride(overrides, site)
			result := loopArbiter.Run(ctx, site, req.PerSiteCap, override)

			aggregationLock.Lock()
			defer aggregationLock.Unlock()
			publish(&summary, site, result)
		}()
	}
	wg.Wait()

	summary.Elapsed = time.Since(start)
	if summary.Elapsed > 0 {
		summary.ArticlesPerSecond = float64(summary.TotalArticles) / summary.Elapsed.Seconds()
	}
	if req.GlobalTarget != nil {
		summary.GlobalTargetReached = summary.TotalArticles >= *req.GlobalTarget
	}
	summary.AdaptiveSummary = reduceAdaptiveTelemetry(summary.Articles)

	return summary
}

// publish merges one site's Result into summary under the caller-held
// aggregation lock — the only place a Per-Site Loop's local aggregates
// become visible to the coordinator, and it happens exactly once per site.
func publish(summary *RunSummary, site crawlsite.Config, result siteloop.Result) {
	summary.SitesCrawled++
	summary.TotalArticles += result.Metrics.Ingested
	summary.TotalDuplicates += result.Metrics.Duplicates
	summary.TotalErrors += result.Metrics.Errors
	summary.TotalPaywalls += result.Metrics.Paywalls
	summary.Articles = append(summary.Articles, result.Articles...)
	summary.TermMatches = append(summary.TermMatches, result.Metrics.TermMatches...)

	summary.SiteBreakdowns[site.Domain] = SiteBreakdown{
		Domain:           site.Domain,
		Attempted:        result.Metrics.Attempted,
		Candidates:       result.Metrics.Candidates,
		Ingested:         result.Metrics.Ingested,
		Duplicates:       result.Metrics.Duplicates,
		Errors:           result.Metrics.Errors,
		Paywalls:         result.Metrics.Paywalls,
		ExhaustionReason: result.Metrics.ExhaustionReason,
	}
	summary.SiteExhaustion[site.Domain] = result.Metrics.ExhaustionReason

	if result.Metrics.Ingested > 0 {
		summary.SiteIngestedBreakdown[site.Domain] = result.Metrics.Ingested
	}
	if result.Metrics.Duplicates > 0 {
		summary.SiteDuplicateBreakdown[site.Domain] = result.Metrics.Duplicates
	}
	if result.Metrics.Errors > 0 {
		summary.SiteErrorBreakdown[site.Domain] = result.Metrics.Errors
	}
	if result.Metrics.Paywalls > 0 {
		summary.SitePaywallBreakdown[site.Domain] = result.Metrics.Paywalls
	}
}

// resolveSites looks up every requested domain in the Repository, falling
// back to a minimal synthesized Config for domains (or bare URLs) with no
// matching record. A domain that cannot be resolved at all is dropped with
// a warning before task launch.
func (c *Coordinator) resolveSites(ctx context.Context, domains []string) []crawlsite.Config {
	if len(domains) == 0 {
		return nil
	}

	var records []sources.SourceRecord
	if c.Repository != nil {
		var err error
		records, err = c.Repository.GetSourcesByDomain(ctx, domains)
		if err != nil {
			c.logger().Warn("source repository lookup failed, synthesizing configs", "err", err)
		}
	}

	byDomain := make(map[string]sources.SourceRecord, len(records))
	for _, r := range records {
		byDomain[strings.ToLower(r.Domain)] = r
	}

	var sites []crawlsite.Config
	for _, domain := range domains {
		key := strings.ToLower(strings.TrimSpace(domain))
		if record, ok := byDomain[key]; ok {
			cfg, err := crawlsite.NewConfig(record.Domain, record.URL, record.Name, record.CrawlingStrategy, record.Metadata)
			if err != nil {
				c.logger().Warn("dropping site with invalid resolved config", "domain", domain, "err", err)
				continue
			}
			cfg.SourceID = record.ID
			sites = append(sites, cfg)
			continue
		}

		// A bare host synthesizes a domain-first config; anything with a
		// scheme is treated as a start URL.
		var cfg crawlsite.Config
		var err error
		if strings.Contains(key, "://") {
			cfg, err = crawlsite.NewConfig("", key, "", "", nil)
		} else {
			cfg, err = crawlsite.NewConfig(key, "", "", "", nil)
		}
		if err != nil {
			c.logger().Warn("dropping unresolvable site", "domain", domain, "err", err)
			continue
		}
		sites = append(sites, cfg)
	}

	return sites
}

func lookupOverride(overrides map[string]sources.ProfileOverride, site crawlsite.Config) *sources.ProfileOverride {
	if o, ok := overrides[strings.ToLower(site.Domain)]; ok {
		return &o
	}
	if o, ok := overrides[strings.ToLower(site.Name)]; ok {
		return &o
	}
	return nil
}

// reduceAdaptiveTelemetry folds each ingested/seen article's extraction
// telemetry into a run-level summary.
func reduceAdaptiveTelemetry(articles []*crawlsite.Article) *AdaptiveSummary {
	if len(articles) == 0 {
		return nil
	}

	summary := &AdaptiveSummary{
		StrategyCounts:  make(map[string]int),
		ExtractorCounts: make(map[string]int),
	}

	var confidenceSum float64
	for _, a := range articles {
		confidenceSum += a.Confidence
		if a.NeedsReview {
			summary.NeedsReviewCount++
		}
		if a.ExtractionMetadata.Strategy != "" {
			summary.StrategyCounts[a.ExtractionMetadata.Strategy]++
		}
		if a.ExtractionMetadata.Extractor != "" {
			summary.ExtractorCounts[a.ExtractionMetadata.Extractor]++
		}
	}
	summary.MeanConfidence = confidenceSum / float64(len(articles))

	return summary
}
