// Package extract implements the tiered HTML-to-article extraction pipeline
// (C2): a chain of pure functions, each returning partial text/metadata,
// merged under a dominance rule (longer text wins, first non-empty metadata
// wins). The driver is a pure function with respect to its inputs; the only
// side effect is persisting the raw HTML snapshot.
package extract

import "time"

// Tier names recorded in Outcome.ExtractorUsed / FallbacksAttempted.
const (
	TierPrimary     = "primary"
	TierReadability = "readability"
	TierBoilerplate = "boilerplate"
	TierSanitiser   = "sanitiser"
)

// Default quality thresholds, overridable via configuration
// (ARTICLE_MIN_WORDS, ARTICLE_MIN_TEXT_HTML_RATIO).
const (
	DefaultMinWords         = 120
	DefaultMinTextHTMLRatio = 0.015
)

// Outcome is the pure value produced by Extract: the best text and metadata
// found across all attempted tiers, plus the quality/telemetry fields the
// scheduler uses to build an ArticleRecord.
type Outcome struct {
	Text            string
	Title           string
	CanonicalURL    string
	PublicationDate *time.Time
	Authors         []string
	Section         string
	Tags            []string
	Language        string

	ExtractorUsed      string
	FallbacksAttempted []string
	WordCount          int
	BoilerplateRatio   float64
	NeedsReview        bool
	ReviewReasons      []string

	Metadata           map[string]any
	StructuredMetadata map[string]any

	RawHTMLPath string
	Confidence  float64
}

// Options configures a single Extract call.
type Options struct {
	MinWords         int
	MinTextHTMLRatio float64
}

func (o Options) withDefaults() Options {
	if o.MinWords <= 0 {
		o.MinWords = DefaultMinWords
	}
	if o.MinTextHTMLRatio <= 0 {
		o.MinTextHTMLRatio = DefaultMinTextHTMLRatio
	}
	return o
}
