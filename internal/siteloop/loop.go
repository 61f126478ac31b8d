// Package siteloop implements the Per-Site Loop (C6): it drives repeated
// batches against one site until local budget, global budget, duplicate
// saturation, or the batch limit triggers exhaustion, reserving from the
// shared Budget Arbiter (C7) before each ingestion attempt and restoring
// whatever a batch's reservation overshoots actual new-ingests.
package siteloop

import (
	"context"
	"log/slog"
	"sync"

	"github.com/newsguild/unicrawl/internal/analyzer"
	"github.com/newsguild/unicrawl/internal/budget"
	"github.com/newsguild/unicrawl/internal/crawlsite"
	"github.com/newsguild/unicrawl/internal/hitl"
	"github.com/newsguild/unicrawl/internal/ingest"
	"github.com/newsguild/unicrawl/internal/sources"
)

// ExhaustionReason enumerates why a Per-Site Loop stopped.
type ExhaustionReason string

const (
	ExhaustionNone                ExhaustionReason = ""
	ExhaustionLimitReached        ExhaustionReason = "limit_reached"
	ExhaustionNoCandidates        ExhaustionReason = "no_candidates"
	ExhaustionNoNewCandidates     ExhaustionReason = "no_new_candidates"
	ExhaustionIngestionStalled    ExhaustionReason = "ingestion_stalled"
	ExhaustionMaxBatchesReached   ExhaustionReason = "max_batches_reached"
	ExhaustionGlobalTargetReached ExhaustionReason = "global_target_reached"
	ExhaustionPaywallsOnly        ExhaustionReason = "paywalls_only"
	ExhaustionProfileCompleted    ExhaustionReason = "profile_completed"
	ExhaustionError               ExhaustionReason = "error"
)

// DefaultMaxSiteBatches is UNIFIED_CRAWLER_MAX_SITE_BATCHES's default.
const DefaultMaxSiteBatches = 4

// DefaultPaywallThreshold is PAYWALL_SKIP_ACTIVATION_THRESHOLD's default.
const DefaultPaywallThreshold = 3

// Metrics is one site's per-run aggregate record, owned exclusively by the
// Loop until it is published to the coordinator.
type Metrics struct {
	Attempted        int
	Candidates       int
	Ingested         int
	Duplicates       int
	Errors           int
	Paywalls         int
	ExhaustionReason ExhaustionReason
	Details          []ingest.Detail
	TermMatches      []analyzer.TermMatch
}

// Result is what Run returns: the site's metrics plus every article it
// touched (ingested, duplicate, errored, or paywall-skipped).
type Result struct {
	Metrics  Metrics
	Articles []*crawlsite.Article
}

// ProfileEngine is the external batch-fetch engine consulted by the
// profiled path (an override requests a non-generic engine for a domain).
// It is injected, not implemented here — the core treats it as a pure
// capability slot, same as the crawler's defensive-measures dependencies.
type ProfileEngine interface {
	FetchBatch(ctx context.Context, site crawlsite.Config, payload string, size int) ([]*crawlsite.Article, error)
}

// Loop drives one site's batches. One Loop instance is reused across sites
// in a coordinator run; all of its dependencies are read-mostly singletons
// shared across concurrent per-site tasks.
type Loop struct {
	Crawler         *crawlsite.Crawler
	Selector        *crawlsite.Selector
	Arbiter         *budget.Arbiter
	HITL            *hitl.Forwarder
	Ingest          *ingest.Client
	ProfileEngine   ProfileEngine
	PaywallRecorder sources.PaywallRecorder

	MaxBatches       int
	PaywallThreshold int

	// WatchTerms, when non-empty, are scanned against every ingested
	// article's content and recorded on the Result's Metrics, per the
	// adaptive telemetry the coordinator folds into AdaptiveSummary.
	WatchTerms []string

	Logger *slog.Logger
}

// scanWatchTerms appends a TermMatch for every ingested article that
// mentions one of l.WatchTerms. It is a no-op when WatchTerms is empty.
func (l *Loop) scanWatchTerms(m *Metrics, site crawlsite.Config, articles []*crawlsite.Article) {
	if len(l.WatchTerms) == 0 {
		return
	}
	for _, a := range articles {
		if a.IngestionStatus != crawlsite.IngestionNew {
			continue
		}
		matches := analyzer.FindTermMatches(a.Content, a.URL, site.Domain, l.WatchTerms)
		m.TermMatches = append(m.TermMatches, matches...)
	}
}

func (l *Loop) maxBatches() int {
	if l.MaxBatches > 0 {
		return l.MaxBatches
	}
	return DefaultMaxSiteBatches
}

func (l *Loop) paywallThreshold() int {
	if l.PaywallThreshold > 0 {
		return l.PaywallThreshold
	}
	return DefaultPaywallThreshold
}

func (l *Loop) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

// Run drives site to exhaustion, honoring perSiteCap as the local article
// budget and reserving from the shared Arbiter before every ingestion
// attempt. override, when non-nil with a non-generic engine, routes the
// site through the profiled one-shot path instead of the batched loop.
func (l *Loop) Run(ctx context.Context, site crawlsite.Config, perSiteCap int, override *sources.ProfileOverride) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			result.Metrics.Errors++
			if result.Metrics.ExhaustionReason == ExhaustionNone {
				result.Metrics.ExhaustionReason = ExhaustionError
			}
			l.logger().Error("per-site loop panicked", "domain", site.Domain, "panic", r)
		}
	}()

	strategy := crawlsite.ResolveForLoop(ctx, l.Selector, site, override)

	if strategy.Kind == crawlsite.Profiled {
		return l.runProfiled(ctx, site, perSiteCap, strategy.Payload)
	}
	return l.runBatched(ctx, site, perSiteCap)
}

func (l *Loop) runProfiled(ctx context.Context, site crawlsite.Config, perSiteCap int, payload string) Result {
	var m Metrics
	var articles []*crawlsite.Article

	if l.ProfileEngine == nil {
		m.Errors++
		m.ExhaustionReason = ExhaustionError
		return Result{Metrics: m}
	}

	batch, err := l.ProfileEngine.FetchBatch(ctx, site, payload, perSiteCap)
	if err != nil {
		m.Errors++
		m.ExhaustionReason = ExhaustionError
		return Result{Metrics: m}
	}
	m.Attempted += len(batch)

	seen := make(map[string]struct{}, len(batch))
	var accepted, paywalled []*crawlsite.Article
	for _, a := range batch {
		key := a.SeenKey()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if a.IngestionStatus == crawlsite.IngestionPaywallSkipped {
			paywalled = append(paywalled, a)
		} else {
			accepted = append(accepted, a)
		}
	}
	m.Candidates += len(accepted) + len(paywalled)
	m.Paywalls += len(paywalled)
	articles = append(articles, paywalled...)

	if len(accepted) > perSiteCap {
		accepted = accepted[:perSiteCap]
	}

	reservation := l.Arbiter.Reserve(len(accepted))
	if reservation < len(accepted) {
		accepted = accepted[:reservation]
	}

	l.forwardToHITL(ctx, accepted)

	batchResult := l.Ingest.Batch(ctx, accepted)
	m.Ingested += batchResult.NewArticles
	m.Duplicates += batchResult.Duplicates
	m.Errors += batchResult.Errors
	m.Details = append(m.Details, batchResult.Details...)
	articles = append(articles, accepted...)
	l.scanWatchTerms(&m, site, accepted)

	if shortfall := reservation - batchResult.NewArticles; shortfall > 0 {
		l.Arbiter.Restore(shortfall)
	}

	l.recordPaywallState(ctx, site, m)

	if m.Ingested == 0 && m.Paywalls > 0 {
		m.ExhaustionReason = ExhaustionPaywallsOnly
	} else {
		m.ExhaustionReason = ExhaustionProfileCompleted
	}

	return Result{Metrics: m, Articles: articles}
}

func (l *Loop) runBatched(ctx context.Context, site crawlsite.Config, perSiteCap int) Result {
	var m Metrics
	var articles []*crawlsite.Article

	seen := make(map[string]struct{})
	remainingBudget := perSiteCap
	batchesRun := 0

	for remainingBudget > 0 && batchesRun < l.maxBatches() {
		if ctx.Err() != nil {
			m.Errors++
			m.ExhaustionReason = ExhaustionError
			break
		}

		remaining, unbounded := l.Arbiter.Snapshot()
		if !unbounded && remaining <= 0 {
			m.ExhaustionReason = ExhaustionGlobalTargetReached
			break
		}

		requestCap := remainingBudget
		if !unbounded && remaining < requestCap {
			requestCap = remaining
		}
		if requestCap < 1 {
			requestCap = 1
		}

		crawlResult, err := l.Crawler.CrawlSite(ctx, site, requestCap)
		batchesRun++
		if err != nil {
			m.Errors++
			m.ExhaustionReason = ExhaustionError
			break
		}

		rawSize := len(crawlResult.Accepted) + len(crawlResult.Paywalled)
		m.Attempted += rawSize
		if rawSize == 0 {
			m.ExhaustionReason = ExhaustionNoCandidates
			break
		}

		freshAccepted := dedupNew(crawlResult.Accepted, seen)
		freshPaywalled := dedupNew(crawlResult.Paywalled, seen)
		m.Candidates += len(freshAccepted) + len(freshPaywalled)
		m.Paywalls += len(freshPaywalled)
		articles = append(articles, freshPaywalled...)

		if len(freshAccepted) == 0 {
			if len(freshPaywalled) > 0 && remainingBudget > 0 {
				continue
			}
			m.ExhaustionReason = ExhaustionNoNewCandidates
			break
		}

		if len(freshAccepted) > remainingBudget {
			freshAccepted = freshAccepted[:remainingBudget]
		}

		reservation := l.Arbiter.Reserve(len(freshAccepted))
		if reservation == 0 {
			continue
		}
		if reservation < len(freshAccepted) {
			freshAccepted = freshAccepted[:reservation]
		}

		l.forwardToHITL(ctx, freshAccepted)

		batchResult := l.Ingest.Batch(ctx, freshAccepted)
		m.Ingested += batchResult.NewArticles
		m.Duplicates += batchResult.Duplicates
		m.Errors += batchResult.Errors
		m.Details = append(m.Details, batchResult.Details...)
		articles = append(articles, freshAccepted...)
		l.scanWatchTerms(&m, site, freshAccepted)

		if shortfall := reservation - batchResult.NewArticles; shortfall > 0 {
			l.Arbiter.Restore(shortfall)
		}

		remainingBudget -= batchResult.NewArticles
		if batchResult.NewArticles == 0 {
			m.ExhaustionReason = ExhaustionIngestionStalled
			break
		}

		if l.Arbiter.Exhausted() {
			m.ExhaustionReason = ExhaustionGlobalTargetReached
			break
		}
	}

	if m.ExhaustionReason == ExhaustionNone {
		switch {
		case m.Ingested == 0 && m.Paywalls > 0:
			m.ExhaustionReason = ExhaustionPaywallsOnly
		case remainingBudget <= 0:
			m.ExhaustionReason = ExhaustionLimitReached
		case batchesRun >= l.maxBatches():
			m.ExhaustionReason = ExhaustionMaxBatchesReached
		}
	}

	l.recordPaywallState(ctx, site, m)

	return Result{Metrics: m, Articles: articles}
}

// dedupNew returns the subset of batch not already present in seen,
// inserting each kept article's key into seen.
func dedupNew(batch []*crawlsite.Article, seen map[string]struct{}) []*crawlsite.Article {
	var out []*crawlsite.Article
	for _, a := range batch {
		key := a.SeenKey()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, a)
	}
	return out
}

// forwardToHITL submits every article to the HITL service concurrently and
// fire-and-forget: its failures never affect the crawl's outcome, so Run
// does not wait on these goroutines' results, only their completion
// relative to this batch.
func (l *Loop) forwardToHITL(ctx context.Context, articles []*crawlsite.Article) {
	if l.HITL == nil || len(articles) == 0 {
		return
	}
	var wg sync.WaitGroup
	for _, a := range articles {
		a := a
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.HITL.Submit(ctx, a); err != nil {
				l.logger().Debug("hitl submit failed", "url", a.URL, "err", err)
			}
		}()
	}
	wg.Wait()
}

// recordPaywallState issues the external paywall-state persistence call
// when a site has produced only paywalled candidates so far. The scheduler
// only initiates the call; the recorder owns what "persistently marked"
// means downstream.
func (l *Loop) recordPaywallState(ctx context.Context, site crawlsite.Config, m Metrics) {
	if l.PaywallRecorder == nil || m.Paywalls == 0 || m.Ingested != 0 {
		return
	}
	changed, err := l.PaywallRecorder.RecordPaywallDetection(ctx, site.SourceID, site.Domain, m.Paywalls, l.paywallThreshold(), "crawl")
	if err != nil {
		l.logger().Warn("paywall state record failed", "domain", site.Domain, "err", err)
		return
	}
	if changed {
		l.logger().Info("source marked persistently paywalled", "domain", site.Domain, "paywalls", m.Paywalls)
	}
}
