package extract

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
)

// domHints are the metadata fields recoverable directly from <link>/<meta>
// tags. Where a hint is present it takes precedence over the matching
// structured JSON-LD/OpenGraph field; structured metadata fills the fields
// the hints leave empty.
type domHints struct {
	canonicalURL  string
	ogURL         string
	publishedTime string
	authors       []string
	section       string
	tags          []string
}

func extractDOMHints(doc *goquery.Document) domHints {
	var h domHints

	if href, ok := doc.Find(`link[rel="canonical"]`).First().Attr("href"); ok {
		h.canonicalURL = strings.TrimSpace(href)
	}
	if content, ok := doc.Find(`meta[property="og:url"]`).First().Attr("content"); ok {
		h.ogURL = strings.TrimSpace(content)
	}
	if content, ok := doc.Find(`meta[property="article:published_time"]`).First().Attr("content"); ok {
		h.publishedTime = strings.TrimSpace(content)
	}

	doc.Find(`meta[name="author"]`).Each(func(_ int, s *goquery.Selection) {
		if content, ok := s.Attr("content"); ok && strings.TrimSpace(content) != "" {
			h.authors = append(h.authors, strings.TrimSpace(content))
		}
	})

	if content, ok := doc.Find(`meta[property="article:section"]`).First().Attr("content"); ok {
		h.section = strings.TrimSpace(content)
	}

	doc.Find(`meta[property="article:tag"]`).Each(func(_ int, s *goquery.Selection) {
		content, ok := s.Attr("content")
		if !ok {
			return
		}
		for _, tag := range strings.Split(content, ",") {
			tag = strings.TrimSpace(tag)
			if tag != "" {
				h.tags = append(h.tags, tag)
			}
		}
	})

	return h
}

// resolveCanonical resolves the extracted canonical URL relative to the
// page's own fetch URL, falling back through og:url, then the structured
// metadata "url" field, then the fetch URL itself.
func resolveCanonical(sourceURL string, hints domHints, structured map[string]any) string {
	candidate := hints.canonicalURL
	if candidate == "" {
		candidate = hints.ogURL
	}
	if candidate == "" {
		if v, ok := structured["url"].(string); ok {
			candidate = v
		}
	}
	if candidate == "" {
		return sourceURL
	}

	base, err := url.Parse(sourceURL)
	if err != nil {
		return candidate
	}
	ref, err := url.Parse(candidate)
	if err != nil {
		return candidate
	}
	return base.ResolveReference(ref).String()
}

// extractStructuredMetadata parses JSON-LD <script type="application/ld+json">
// blocks and OpenGraph og:* meta tags into a flat metadata map. Microdata
// (itemprop attributes) is not read. The first value for a given key wins
// across blocks.
func extractStructuredMetadata(doc *goquery.Document) map[string]any {
	out := make(map[string]any)

	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		var raw any
		if err := json.Unmarshal([]byte(s.Text()), &raw); err != nil {
			return
		}
		mergeJSONLD(out, raw)
	})

	doc.Find(`meta[property^="og:"]`).Each(func(_ int, s *goquery.Selection) {
		prop, _ := s.Attr("property")
		content, ok := s.Attr("content")
		if !ok {
			return
		}
		key := strings.TrimPrefix(prop, "og:")
		if _, exists := out[key]; !exists {
			out[key] = content
		}
	})

	return out
}

func mergeJSONLD(out map[string]any, raw any) {
	switch v := raw.(type) {
	case map[string]any:
		for k, val := range v {
			if _, exists := out[k]; !exists {
				out[k] = val
			}
		}
	case []any:
		for _, item := range v {
			mergeJSONLD(out, item)
		}
	}
}

// parsePublicationDate attempts a loose date parse, used for both
// structured metadata strings and DOM hint strings.
func parsePublicationDate(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	t, err := dateparse.ParseAny(raw)
	if err != nil {
		return "", false
	}
	return t.UTC().Format("2006-01-02T15:04:05Z07:00"), true
}
