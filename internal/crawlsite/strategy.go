package crawlsite

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/newsguild/unicrawl/internal/sources"
)

// Strategy is the tagged union the per-site loop dispatches on. Profiled
// carries the opaque engine payload the external profile engine expects;
// the other variants carry no payload.
type Strategy struct {
	Kind    StrategyKind
	Payload string
}

// StrategyKind names one member of the Strategy tagged union. A plain enum
// plus a dispatch function is sufficient here; there is no inheritance.
type StrategyKind string

const (
	UltraFast  StrategyKind = "ultra_fast"
	AIEnhanced StrategyKind = "ai_enhanced"
	Generic    StrategyKind = "generic"
	Profiled   StrategyKind = "profiled"
)

// minMeanArticlesPerSec is the bar a strategy's historical performance must
// clear for the selector to trust it over the allow-list defaults.
const minMeanArticlesPerSec = 0.1

// performanceHistoryLimit bounds how many recent records the selector
// consults per source.
const performanceHistoryLimit = 5

// Selector implements the Strategy Selector (C5): cache, performance
// history, then domain allow-lists, falling back to generic.
type Selector struct {
	history sources.PerformanceHistory

	fastTier    []string
	complexTier []string

	mu    sync.Mutex
	cache map[string]Strategy
}

// NewSelector builds a Selector. fastTier and complexTier are substrings
// matched case-insensitively against a site's domain.
func NewSelector(history sources.PerformanceHistory, fastTier, complexTier []string) *Selector {
	return &Selector{
		history:     history,
		fastTier:    fastTier,
		complexTier: complexTier,
		cache:       make(map[string]Strategy),
	}
}

func cacheKey(domain string, sourceID *int64) string {
	if sourceID != nil {
		return strings.ToLower(domain) + "#" + strconv.FormatInt(*sourceID, 10)
	}
	return strings.ToLower(domain)
}

// Select picks a strategy for site, consulting the cache, then performance
// history, then domain allow-lists, defaulting to generic.
func (s *Selector) Select(ctx context.Context, site Config) Strategy {
	key := cacheKey(site.Domain, site.SourceID)

	s.mu.Lock()
	if cached, ok := s.cache[key]; ok {
		s.mu.Unlock()
		return cached
	}
	s.mu.Unlock()

	strategy := s.selectUncached(ctx, site)

	s.mu.Lock()
	s.cache[key] = strategy
	s.mu.Unlock()

	return strategy
}

func (s *Selector) selectUncached(ctx context.Context, site Config) Strategy {
	if s.history != nil && site.SourceID != nil {
		if kind, ok := s.fromPerformanceHistory(ctx, *site.SourceID); ok {
			return Strategy{Kind: kind}
		}
	}

	domain := strings.ToLower(site.Domain)
	for _, substr := range s.fastTier {
		if substr != "" && strings.Contains(domain, strings.ToLower(substr)) {
			return Strategy{Kind: UltraFast}
		}
	}
	for _, substr := range s.complexTier {
		if substr != "" && strings.Contains(domain, strings.ToLower(substr)) {
			return Strategy{Kind: AIEnhanced}
		}
	}

	return Strategy{Kind: Generic}
}

func (s *Selector) fromPerformanceHistory(ctx context.Context, sourceID int64) (StrategyKind, bool) {
	records, err := s.history.GetSourcePerformanceHistory(ctx, sourceID, performanceHistoryLimit)
	if err != nil || len(records) == 0 {
		return "", false
	}

	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, r := range records {
		sums[r.StrategyUsed] += r.ArticlesPerSec
		counts[r.StrategyUsed]++
	}

	var best string
	var bestMean float64
	for strategyUsed, sum := range sums {
		mean := sum / float64(counts[strategyUsed])
		if mean > bestMean {
			bestMean = mean
			best = strategyUsed
		}
	}

	if best == "" || bestMean <= minMeanArticlesPerSec {
		return "", false
	}
	return StrategyKind(best), true
}

// ResolveForLoop decides whether the per-site loop should take the profiled
// path (a profile override with a non-generic engine bypasses the
// selector entirely) or fall through to Select.
func ResolveForLoop(ctx context.Context, sel *Selector, site Config, override *sources.ProfileOverride) Strategy {
	if override != nil && override.Engine != "" && override.Engine != string(Generic) {
		return Strategy{Kind: Profiled, Payload: override.Engine}
	}
	return sel.Select(ctx, site)
}
