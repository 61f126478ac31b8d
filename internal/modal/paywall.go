package modal

import (
	"regexp"
	"strings"
)

// Detection is what a Detector returns for one page.
type Detection struct {
	IsPaywall  bool
	Confidence float64
	Reasons    []string
	ShouldSkip bool
}

// Detector analyses a fetched page and flags whether it sits behind a
// paywall. A capability slot like Handler: optional, read-only, no
// branching on concrete type by the crawler.
type Detector interface {
	Detect(url, html, text string) Detection
}

var paywallMarkerRE = regexp.MustCompile(`(?i)(subscribe to (continue|read)|this (article|content) is for subscribers|create a free account to (continue|read)|paywall|metered content|you('|’)ve reached your (free )?article limit)`)

// DefaultDetector flags a page as paywalled when known subscription-prompt
// phrasing appears, or when the visible text is implausibly short relative
// to the HTML it came from (a strong signal that the real body is hidden
// behind a client-side gate).
type DefaultDetector struct {
	// SkipThreshold is the confidence at or above which ShouldSkip is set.
	SkipThreshold float64
	// MinTextRatio below which a short-text signal is raised.
	MinTextRatio float64
}

// NewDefaultDetector builds a DefaultDetector with the given thresholds,
// defaulting SkipThreshold to 0.6 and MinTextRatio to 0.05 when zero.
func NewDefaultDetector(skipThreshold, minTextRatio float64) *DefaultDetector {
	if skipThreshold <= 0 {
		skipThreshold = 0.6
	}
	if minTextRatio <= 0 {
		minTextRatio = 0.05
	}
	return &DefaultDetector{SkipThreshold: skipThreshold, MinTextRatio: minTextRatio}
}

// Detect implements Detector.
func (d *DefaultDetector) Detect(url, html, text string) Detection {
	var reasons []string
	var confidence float64

	if paywallMarkerRE.MatchString(html) || paywallMarkerRE.MatchString(text) {
		reasons = append(reasons, "subscription_prompt_text")
		confidence += 0.6
	}

	if len(html) > 0 {
		ratio := float64(len(text)) / float64(len(html))
		if ratio < d.MinTextRatio && len(strings.TrimSpace(text)) > 0 {
			reasons = append(reasons, "text_html_ratio_too_low")
			confidence += 0.3
		}
	}

	if confidence > 1 {
		confidence = 1
	}

	isPaywall := len(reasons) > 0
	return Detection{
		IsPaywall:  isPaywall,
		Confidence: confidence,
		Reasons:    reasons,
		ShouldSkip: isPaywall && confidence >= d.SkipThreshold,
	}
}

// NoopDetector never flags a paywall. Used when enable_paywall_detector is
// false.
type NoopDetector struct{}

// Detect implements Detector by always returning a clean result.
func (NoopDetector) Detect(_, _, _ string) Detection {
	return Detection{}
}
