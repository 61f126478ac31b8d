package crawlsite

import (
	"time"

	"github.com/newsguild/unicrawl/internal/extract"
	"github.com/newsguild/unicrawl/internal/urlnorm"
)

// IngestionStatus records what happened to an article after it left the
// crawler. Unset until the HITL/ingestion stages classify it.
type IngestionStatus string

const (
	IngestionUnset          IngestionStatus = ""
	IngestionNew            IngestionStatus = "new"
	IngestionDuplicate      IngestionStatus = "duplicate"
	IngestionError          IngestionStatus = "error"
	IngestionPaywallSkipped IngestionStatus = "paywall_skipped"
)

// ExtractionMetadata is the extraction-telemetry block carried alongside an
// Article, consumed by the run-level adaptive summary.
type ExtractionMetadata struct {
	Strategy           string
	Extractor          string
	FallbacksAttempted []string
	WordCount          int
	BoilerplateRatio   float64
	NeedsReview        bool
	ReviewReasons      []string
	RawHTMLPath        string
	ModalHandler       string
	PaywallDetection   map[string]any
}

// Article is the structured record produced by the Site Crawler for a
// single fetched page.
type Article struct {
	URL           string
	Canonical     string
	NormalizedURL string
	URLHash       string

	Title         string
	Content       string
	Domain        string
	SourceName    string
	PublisherMeta map[string]any

	ExtractedMetadata  map[string]any
	StructuredMetadata map[string]any
	Language           string
	Authors            []string
	Section            string
	Tags               []string
	PublicationDate    *time.Time

	Confidence    float64
	PaywallFlag   bool
	NeedsReview   bool
	ReviewReasons []string

	ExtractionMetadata ExtractionMetadata

	RawHTMLRef string
	Timestamp  time.Time

	IngestionStatus IngestionStatus
}

// BuildOptions configures buildArticle. HashAlgo and NormalizeMode default
// to sha256/strict when zero-valued (see urlnorm).
type BuildOptions struct {
	HashAlgo      string
	NormalizeMode urlnorm.Mode
	Strategy      string
}

// buildArticle composes an Article from an extraction outcome. It returns
// (nil, nil) when the extractor produced no usable text — that is not an
// error, just an empty page that the crawler drops without counting it
// against site.errors.
func buildArticle(fetchedURL string, site Config, outcome extract.Outcome, opts BuildOptions) (*Article, error) {
	if outcome.Text == "" {
		return nil, nil
	}

	canonical := outcome.CanonicalURL
	if canonical == "" {
		canonical = fetchedURL
	}

	normalized, err := urlnorm.Normalize(fetchedURL, canonical, opts.NormalizeMode)
	if err != nil {
		return nil, err
	}
	hash, err := urlnorm.Hash(normalized, opts.HashAlgo)
	if err != nil {
		return nil, err
	}

	a := &Article{
		URL:           fetchedURL,
		Canonical:     canonical,
		NormalizedURL: normalized,
		URLHash:       hash,

		Title:         outcome.Title,
		Content:       outcome.Text,
		Domain:        site.Domain,
		SourceName:    site.Name,
		PublisherMeta: site.Metadata,

		ExtractedMetadata:  outcome.Metadata,
		StructuredMetadata: outcome.StructuredMetadata,
		Language:           outcome.Language,
		Authors:            outcome.Authors,
		Section:            outcome.Section,
		Tags:               outcome.Tags,
		PublicationDate:    outcome.PublicationDate,

		Confidence:    outcome.Confidence,
		NeedsReview:   outcome.NeedsReview,
		ReviewReasons: outcome.ReviewReasons,

		ExtractionMetadata: ExtractionMetadata{
			Strategy:           opts.Strategy,
			Extractor:          outcome.ExtractorUsed,
			FallbacksAttempted: outcome.FallbacksAttempted,
			WordCount:          outcome.WordCount,
			BoilerplateRatio:   outcome.BoilerplateRatio,
			NeedsReview:        outcome.NeedsReview,
			ReviewReasons:      outcome.ReviewReasons,
			RawHTMLPath:        outcome.RawHTMLPath,
		},

		RawHTMLRef: outcome.RawHTMLPath,
		Timestamp:  time.Now().UTC(),
	}

	return a, nil
}

// SeenKey returns the dedup key a per-site loop tracks in its seen_keys set,
// preferring the most specific identity available.
func (a *Article) SeenKey() string {
	switch {
	case a.URLHash != "":
		return a.URLHash
	case a.NormalizedURL != "":
		return a.NormalizedURL
	default:
		return a.URL
	}
}
