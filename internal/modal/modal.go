// Package modal implements the Modal/Paywall Filters (C3): a handler that
// strips consent overlays from fetched HTML and merges any cookies they set
// into the active session, and a detector that flags paywalled pages so
// they are routed around ingestion.
package modal

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Result is what a Handler returns for one page.
type Result struct {
	CleanedHTML    string
	ModalsDetected []string
	AppliedCookies map[string]string
	Notes          []string
}

// Handler processes raw HTML and returns it with consent/cookie overlays
// removed. Implementations are capability slots: optional, read-only to the
// crawler, which never branches on the concrete type.
type Handler interface {
	Handle(html string) Result
}

// selector describes one known overlay shape: the goquery selector that
// matches it, a human-readable name, and the cookies it implies once
// dismissed.
type selector struct {
	name    string
	query   string
	cookies map[string]string
}

// DefaultHandler recognizes a small, fixed set of common consent-overlay
// markup shapes (cookie banners, GDPR modals, newsletter interstitials) and
// removes them, merging in whatever consent cookies a dismissal would have
// set.
type DefaultHandler struct {
	selectors       []selector
	consentDefaults map[string]string
}

// NewDefaultHandler builds a DefaultHandler. consentDefaults are cookies
// applied whenever any overlay is detected, sourced from the run's
// defensive-measures configuration.
func NewDefaultHandler(consentDefaults map[string]string) *DefaultHandler {
	return &DefaultHandler{
		selectors: []selector{
			{name: "cookie_banner", query: `.cookie-banner, #cookie-consent, [class*="cookie-consent"], [id*="cookie-banner"]`},
			{name: "gdpr_modal", query: `.gdpr-modal, [class*="gdpr"], #gdpr-overlay`},
			{name: "newsletter_interstitial", query: `.newsletter-modal, .signup-overlay, [class*="newsletter-popup"]`},
		},
		consentDefaults: consentDefaults,
	}
}

// Handle strips known overlay markup and reports which shapes were found.
func (h *DefaultHandler) Handle(html string) Result {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Result{CleanedHTML: html}
	}

	var detected []string
	for _, sel := range h.selectors {
		matches := doc.Find(sel.query)
		if matches.Length() == 0 {
			continue
		}
		matches.Remove()
		detected = append(detected, sel.name)
	}

	cleaned, err := doc.Html()
	if err != nil {
		cleaned = html
	}

	applied := map[string]string{}
	if len(detected) > 0 {
		for k, v := range h.consentDefaults {
			applied[k] = v
		}
	}

	return Result{
		CleanedHTML:    cleaned,
		ModalsDetected: detected,
		AppliedCookies: applied,
	}
}

// NoopHandler passes HTML through unchanged. Used when
// enable_modal_handler is false.
type NoopHandler struct{}

// Handle implements Handler by doing nothing.
func (NoopHandler) Handle(html string) Result {
	return Result{CleanedHTML: html}
}
