// Package hitl implements the HITL Forwarder (C9): a best-effort submitter
// that posts accepted candidates to the human-in-the-loop review service,
// tracking a failure streak that trips a temporary backoff suspension.
// Submission is fire-and-forget relative to ingestion — a failure here
// never fails the crawl.
package hitl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/newsguild/unicrawl/internal/crawlsite"
	"github.com/newsguild/unicrawl/internal/metrics"
)

// defaultFailureStreak is the number of consecutive failures that trips
// suspension.
const defaultFailureStreak = 3

// defaultBackoff is the suspension duration once the streak trips, per
// HITL_FAILURE_BACKOFF_SECONDS.
const defaultBackoff = 180 * time.Second

// defaultStatsInterval bounds how often the queue-depth probe runs.
const defaultStatsInterval = 60 * time.Second

// CandidateEvent is the payload posted to /api/candidates for one article.
// Features carries word_count, confidence, paywall_flag and language when
// available; every numeric field must be numeric, never stringified — the
// review service rejects string-typed numbers.
type CandidateEvent struct {
	URL            string         `json:"url"`
	SiteID         *int64         `json:"site_id,omitempty"`
	ExtractedTitle string         `json:"extracted_title,omitempty"`
	ExtractedText  string         `json:"extracted_text,omitempty"`
	RawHTMLRef     string         `json:"raw_html_ref,omitempty"`
	Features       map[string]any `json:"features,omitempty"`
	CrawlerTS      string         `json:"crawler_ts"`
	CrawlerJobID   string         `json:"crawler_job_id,omitempty"`
}

// Stats is the shape of a GET /api/stats response.
type Stats struct {
	Pending        int `json:"pending"`
	InReview       int `json:"in_review"`
	IngestQueueLen int `json:"ingest_queue_len"`
}

// Config configures a Forwarder.
type Config struct {
	BaseURL          string
	SourceID         *int64
	JobID            string
	FailureThreshold int
	Backoff          time.Duration
	StatsInterval    time.Duration
	HTTPClient       *http.Client
	Logger           *slog.Logger
}

// Forwarder implements C9. It is safe for concurrent use: every per-site
// task shares one Forwarder instance, so the failure streak and suspension
// state are process-wide, not per-site.
type Forwarder struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger

	mu             sync.Mutex
	failureStreak  int
	suspendedUntil time.Time
	lastStatsCall  time.Time
}

// New builds a Forwarder, applying defaults for zero-valued fields.
func New(cfg Config) *Forwarder {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaultFailureStreak
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = defaultStatsInterval
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 6 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Forwarder{cfg: cfg, client: cfg.HTTPClient, logger: cfg.Logger}
}

// Submit builds a CandidateEvent from article and POSTs it to the HITL
// service. It never returns an error that the caller must act on — the
// return value exists only for tests and logging; callers invoke this
// fire-and-forget, typically via a goroutine.
func (f *Forwarder) Submit(ctx context.Context, article *crawlsite.Article) error {
	if f.cfg.BaseURL == "" {
		return nil
	}

	if f.suspended() {
		return nil
	}

	event := f.buildEvent(article)
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("hitl: marshal candidate: %w", err)
	}

	submitCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(submitCtx, http.MethodPost, f.cfg.BaseURL+"/api/candidates", bytes.NewReader(body))
	if err != nil {
		f.recordFailure(err)
		return fmt.Errorf("hitl: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		f.recordFailure(err)
		return fmt.Errorf("hitl: submit candidate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		f.recordFailure(fmt.Errorf("hitl: unexpected status %d", resp.StatusCode))
		return fmt.Errorf("hitl: submit candidate: status %d", resp.StatusCode)
	}

	f.recordSuccess()
	f.maybeProbeStats(ctx)
	return nil
}

func (f *Forwarder) buildEvent(article *crawlsite.Article) CandidateEvent {
	features := map[string]any{}
	if article.ExtractionMetadata.WordCount != 0 {
		features["word_count"] = article.ExtractionMetadata.WordCount
	}
	if article.Confidence != 0 {
		features["confidence"] = article.Confidence
	}
	features["paywall_flag"] = article.PaywallFlag
	if article.Language != "" {
		features["language"] = article.Language
	}

	return CandidateEvent{
		URL:            article.URL,
		SiteID:         f.cfg.SourceID,
		ExtractedTitle: article.Title,
		ExtractedText:  article.Content,
		RawHTMLRef:     article.RawHTMLRef,
		Features:       features,
		CrawlerTS:      article.Timestamp.Format(time.RFC3339),
		CrawlerJobID:   f.cfg.JobID,
	}
}

func (f *Forwarder) suspended() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return time.Now().Before(f.suspendedUntil)
}

func (f *Forwarder) recordFailure(err error) {
	f.mu.Lock()
	f.failureStreak++
	streak := f.failureStreak
	if streak >= f.cfg.FailureThreshold {
		f.suspendedUntil = time.Now().Add(f.cfg.Backoff)
	}
	f.mu.Unlock()

	metrics.RecordHITLFailure()
	f.logger.Warn("hitl submission failed", "err", err, "failure_streak", streak)
}

func (f *Forwarder) recordSuccess() {
	f.mu.Lock()
	f.failureStreak = 0
	f.suspendedUntil = time.Time{}
	f.mu.Unlock()
}

// maybeProbeStats fetches /api/stats at most once per StatsInterval,
// logging the result at info level. Failures are swallowed — the probe is
// a diagnostic nicety, not part of the submission contract.
func (f *Forwarder) maybeProbeStats(ctx context.Context) {
	f.mu.Lock()
	if time.Since(f.lastStatsCall) < f.cfg.StatsInterval {
		f.mu.Unlock()
		return
	}
	f.lastStatsCall = time.Now()
	f.mu.Unlock()

	statsCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(statsCtx, http.MethodGet, f.cfg.BaseURL+"/api/stats", nil)
	if err != nil {
		return
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return
	}
	defer resp.Body.Close()

	var stats Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return
	}
	f.logger.Info("hitl queue depth", "pending", stats.Pending, "in_review", stats.InReview, "ingest_queue_len", stats.IngestQueueLen)
}
