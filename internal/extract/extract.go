package extract

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
)

var loremIpsumRE = regexp.MustCompile(`(?i)lorem ipsum`)

// Extract runs the full tier pipeline over html for the given sourceURL,
// merging results under the dominance rule (longer text wins, first
// non-empty metadata wins), and persists the raw HTML via persister.
func Extract(rawHTML []byte, sourceURL string, opts Options, persister Persister) (Outcome, error) {
	opts = opts.withDefaults()

	now := time.Now().UTC()
	path, err := persister.Persist(rawHTML, now)
	if err != nil {
		path = ""
	}

	doc, docErr := goquery.NewDocumentFromReader(bytes.NewReader(rawHTML))

	out := Outcome{
		RawHTMLPath: path,
		Metadata:    map[string]any{},
	}

	var hints domHints
	if docErr == nil {
		hints = extractDOMHints(doc)
		out.StructuredMetadata = extractStructuredMetadata(doc)
		applyMetadata(&out, hints, out.StructuredMetadata)
	} else {
		out.StructuredMetadata = map[string]any{}
	}

	out.CanonicalURL = resolveCanonical(sourceURL, hints, out.StructuredMetadata)

	// Tier 1: primary structured extractor (goquery article-shaped heuristics).
	if docErr == nil {
		if text, title, ok := extractPrimary(doc); ok {
			out.Text = text
			out.Title = firstNonEmpty(out.Title, title)
			out.ExtractorUsed = TierPrimary
		}
	}

	// Tier 2: readability-style fallback, runs when no text or below MIN_WORDS.
	if wordCount(out.Text) < opts.MinWords {
		out.FallbacksAttempted = append(out.FallbacksAttempted, TierReadability)
		if text, title, ok := extractReadability(rawHTML, sourceURL); ok {
			if wordCount(text) > wordCount(out.Text) {
				out.Text = text
				out.ExtractorUsed = TierReadability
			}
			out.Title = firstNonEmpty(out.Title, title)
		}
	}

	// Tier 3: boilerplate-pruning fallback, only if still empty.
	if out.Text == "" && docErr == nil {
		out.FallbacksAttempted = append(out.FallbacksAttempted, TierBoilerplate)
		if text, ok := extractBoilerplatePruned(doc); ok {
			out.Text = text
			out.ExtractorUsed = TierBoilerplate
		}
	}

	// Tier 4: plain-text sanitiser, the last resort.
	if out.Text == "" {
		out.FallbacksAttempted = append(out.FallbacksAttempted, TierSanitiser)
		out.Text = sanitisePlainText(rawHTML)
		if out.Text != "" {
			out.ExtractorUsed = TierSanitiser
		}
	}

	out.Text = truncate(out.Text, 10000)
	out.WordCount = wordCount(out.Text)
	out.BoilerplateRatio = boilerplateRatio(out.Text, rawHTML)

	applyQualityFlags(&out, opts)

	return out, nil
}

func applyMetadata(out *Outcome, hints domHints, structured map[string]any) {
	if len(hints.authors) > 0 {
		out.Authors = hints.authors
	} else if v, ok := structured["author"]; ok {
		out.Authors = authorsFromStructured(v)
	}

	if hints.section != "" {
		out.Section = hints.section
	} else if v, ok := structured["articleSection"].(string); ok {
		out.Section = v
	}

	if len(hints.tags) > 0 {
		out.Tags = hints.tags
	} else if v, ok := structured["keywords"].(string); ok {
		for _, tag := range strings.Split(v, ",") {
			tag = strings.TrimSpace(tag)
			if tag != "" {
				out.Tags = append(out.Tags, tag)
			}
		}
	}

	if hints.publishedTime != "" {
		if parsed, ok := parsePublicationDate(hints.publishedTime); ok {
			t, _ := time.Parse(time.RFC3339, parsed)
			out.PublicationDate = &t
		}
	} else if v, ok := structured["datePublished"].(string); ok {
		if parsed, ok := parsePublicationDate(v); ok {
			t, _ := time.Parse(time.RFC3339, parsed)
			out.PublicationDate = &t
		}
	}

	if v, ok := structured["headline"].(string); ok && out.Title == "" {
		out.Title = v
	}
	if v, ok := structured["inLanguage"].(string); ok {
		out.Language = v
	}

	out.Metadata = structured
}

func authorsFromStructured(v any) []string {
	switch val := v.(type) {
	case string:
		return []string{val}
	case map[string]any:
		if name, ok := val["name"].(string); ok {
			return []string{name}
		}
	case []any:
		var out []string
		for _, item := range val {
			out = append(out, authorsFromStructured(item)...)
		}
		return out
	}
	return nil
}

// extractPrimary pulls title + the largest <article>/main-content-shaped
// text block, treating it as the publisher's own structured markup.
func extractPrimary(doc *goquery.Document) (text, title string, ok bool) {
	title = strings.TrimSpace(doc.Find("title").First().Text())
	if t, exists := doc.Find(`meta[property="og:title"]`).First().Attr("content"); exists && title == "" {
		title = strings.TrimSpace(t)
	}

	var best string
	doc.Find("article").Each(func(_ int, s *goquery.Selection) {
		candidate := strings.TrimSpace(s.Text())
		if len(candidate) > len(best) {
			best = candidate
		}
	})

	if best == "" {
		doc.Find(`[itemprop="articleBody"], main, #content, .article-body, .post-content`).Each(func(_ int, s *goquery.Selection) {
			candidate := strings.TrimSpace(s.Text())
			if len(candidate) > len(best) {
				best = candidate
			}
		})
	}

	return collapseWhitespace(best), title, best != ""
}

func extractReadability(rawHTML []byte, sourceURL string) (text, title string, ok bool) {
	pageURL, err := url.Parse(sourceURL)
	if err != nil {
		pageURL = &url.URL{}
	}
	article, err := readability.FromReader(bytes.NewReader(rawHTML), pageURL)
	if err != nil {
		return "", "", false
	}
	content := strings.TrimSpace(article.TextContent)
	if content == "" {
		return "", "", false
	}
	return collapseWhitespace(content), strings.TrimSpace(article.Title), true
}

// extractBoilerplatePruned strips common chrome (nav/header/footer/aside/
// script/style) and returns whatever text remains from the body. It is only
// reached once the primary tier has already read what it needs from doc, so
// mutating it in place here is safe.
func extractBoilerplatePruned(doc *goquery.Document) (string, bool) {
	doc.Find("nav, header, footer, aside, script, style, noscript, form, .ad, .advertisement, .sidebar").Remove()
	text := collapseWhitespace(strings.TrimSpace(doc.Find("body").Text()))
	return text, text != ""
}

// sanitisePlainText strips <script>/<style>/comments/tags and collapses
// whitespace, the pipeline's final fallback.
func sanitisePlainText(rawHTML []byte) string {
	tokenizer := html.NewTokenizer(bytes.NewReader(rawHTML))

	var b strings.Builder
	skipDepth := 0

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return collapseWhitespace(b.String())
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := tokenizer.TagName()
			tag := string(name)
			if tag == "script" || tag == "style" {
				if tt == html.StartTagToken {
					skipDepth++
				}
				continue
			}
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			tag := string(name)
			if tag == "script" || tag == "style" {
				if skipDepth > 0 {
					skipDepth--
				}
				continue
			}
		case html.TextToken:
			if skipDepth == 0 {
				b.Write(tokenizer.Text())
				b.WriteByte(' ')
			}
		case html.CommentToken:
			// dropped intentionally
		}
	}
}

func collapseWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

func wordCount(s string) int {
	if s == "" {
		return 0
	}
	return len(strings.Fields(s))
}

// truncate limits s to max characters, not bytes, so a multibyte rune is
// never split at the cut point.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

func boilerplateRatio(text string, rawHTML []byte) float64 {
	if len(rawHTML) == 0 {
		return 1
	}
	return 1 - float64(len(text))/float64(len(rawHTML))
}

func applyQualityFlags(out *Outcome, opts Options) {
	var reasons []string

	if out.WordCount < opts.MinWords {
		reasons = append(reasons, "word_count_below_minimum")
	}
	if ratio := 1 - out.BoilerplateRatio; ratio < opts.MinTextHTMLRatio {
		reasons = append(reasons, "text_html_ratio_below_minimum")
	}
	if loremIpsumRE.MatchString(out.Text) {
		reasons = append(reasons, "lorem_ipsum_detected")
	}

	out.NeedsReview = len(reasons) > 0
	out.ReviewReasons = reasons

	if out.NeedsReview {
		out.Confidence = 0.35
	} else {
		out.Confidence = 0.75
	}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
