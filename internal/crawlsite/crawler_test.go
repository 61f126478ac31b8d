package crawlsite

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/newsguild/unicrawl/internal/extract"
	"github.com/newsguild/unicrawl/internal/fetch"
	"github.com/newsguild/unicrawl/internal/fingerprint"
	"github.com/newsguild/unicrawl/internal/modal"
)

func newTestFetcher(t *testing.T) *fetch.Fetcher {
	t.Helper()
	fetcher, err := fetch.New(fetch.Config{Fingerprint: fingerprint.ProfileGo, UseCookieJar: true})
	if err != nil {
		t.Fatalf("build fetcher: %v", err)
	}
	return fetcher
}

func newTestCrawler(t *testing.T, fetcher *fetch.Fetcher, opts ...Option) *Crawler {
	t.Helper()
	return NewCrawler(
		fetcher,
		modal.NewDefaultHandler(map[string]string{"cookie_consent": "accepted"}),
		modal.NewDefaultDetector(0, 0),
		extract.Options{MinWords: 1, MinTextHTMLRatio: 0},
		extract.NoopPersister{},
		BuildOptions{},
		opts...,
	)
}

func articleBody(word string) string {
	return "<html><body><article>" + strings.Repeat(word+" ", 60) + "</article></body></html>"
}

func TestNewConfig_DerivesStartURLFromBareHost(t *testing.T) {
	cfg, err := NewConfig("Example.COM", "", "", "", nil)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	if cfg.Domain != "example.com" {
		t.Errorf("domain = %q, want %q", cfg.Domain, "example.com")
	}
	if cfg.StartURL != "https://example.com" {
		t.Errorf("start url = %q, want %q", cfg.StartURL, "https://example.com")
	}
	if cfg.Name != "example.com" {
		t.Errorf("name = %q, want domain fallback", cfg.Name)
	}
}

func TestNewConfig_DerivesDomainFromURL(t *testing.T) {
	cfg, err := NewConfig("", "https://News.Example.org", "", "", nil)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	if cfg.Domain != "news.example.org" {
		t.Errorf("domain = %q, want %q", cfg.Domain, "news.example.org")
	}
}

func TestNewConfig_RejectsEmptyIdentity(t *testing.T) {
	if _, err := NewConfig("", "", "", "", nil); err == nil {
		t.Fatal("expected error for empty domain and url")
	}
}

func TestDiscoverLinks_KeepsArticleShapedSameDomainLinks(t *testing.T) {
	html := `<html><body>
		<a href="/2024/03/local-budget-vote">story</a>
		<a href="/article/water-main-break">story</a>
		<a href="/about">about page</a>
		<a href="https://other.example.net/2024/03/elsewhere">offsite</a>
		<a href="https://www.example.com/news/school-board">www variant</a>
	</body></html>`

	site, err := NewConfig("example.com", "", "", "", nil)
	if err != nil {
		t.Fatalf("build site config: %v", err)
	}
	links, err := discoverLinks(html, site)
	if err != nil {
		t.Fatalf("discoverLinks: %v", err)
	}

	want := []string{
		"https://example.com/2024/03/local-budget-vote",
		"https://example.com/article/water-main-break",
		"https://www.example.com/news/school-board",
	}
	if len(links) != len(want) {
		t.Fatalf("links = %v, want %v", links, want)
	}
	for i := range want {
		if links[i] != want[i] {
			t.Errorf("links[%d] = %q, want %q", i, links[i], want[i])
		}
	}
}

func TestDiscoverLinks_DeduplicatesAndCaps(t *testing.T) {
	var b strings.Builder
	b.WriteString("<html><body>")
	for i := 0; i < 60; i++ {
		fmt.Fprintf(&b, `<a href="/news/story-%d">s</a>`, i)
		fmt.Fprintf(&b, `<a href="/news/story-%d">same again</a>`, i)
	}
	b.WriteString("</body></html>")

	site, err := NewConfig("example.com", "", "", "", nil)
	if err != nil {
		t.Fatalf("build site config: %v", err)
	}
	links, err := discoverLinks(b.String(), site)
	if err != nil {
		t.Fatalf("discoverLinks: %v", err)
	}
	if len(links) != linkDiscoveryCap {
		t.Fatalf("len(links) = %d, want cap %d", len(links), linkDiscoveryCap)
	}
}

func TestLooksLikeArticle_MajorPublisherSectionPrefix(t *testing.T) {
	cases := []struct {
		path   string
		domain string
		want   bool
	}{
		{"/news/uk-politics-budget-row", "bbc.com", true},
		{"/sport/fixtures", "bbc.com", false}, // outside the publisher's section prefixes and the generic patterns
		{"/2023/07/some-headline", "smalltownpaper.example", true},
		{"/story/flood-warning", "smalltownpaper.example", true},
		{"/contact", "smalltownpaper.example", false},
	}
	for _, tc := range cases {
		if got := looksLikeArticle(tc.path, tc.domain); got != tc.want {
			t.Errorf("looksLikeArticle(%q, %q) = %v, want %v", tc.path, tc.domain, got, tc.want)
		}
	}
}

func TestCrawlSite_ReturnsArticlesUpToMax(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
			<a href="/article/one">One</a>
			<a href="/article/two">Two</a>
			<a href="/article/three">Three</a>
		</body></html>`)
	})
	for _, name := range []string{"one", "two", "three"} {
		name := name
		mux.HandleFunc("/article/"+name, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, articleBody(name))
		})
	}
	srv := httptest.NewServer(mux)
	defer srv.Close()

	crawler := newTestCrawler(t, newTestFetcher(t))
	site, err := NewConfig("", srv.URL, "", "", nil)
	if err != nil {
		t.Fatalf("build site config: %v", err)
	}

	result, err := crawler.CrawlSite(context.Background(), site, 2)
	if err != nil {
		t.Fatalf("CrawlSite: %v", err)
	}
	if len(result.Accepted) != 2 {
		t.Fatalf("accepted = %d, want 2", len(result.Accepted))
	}
	for _, a := range result.Accepted {
		if a.URLHash == "" || a.NormalizedURL == "" {
			t.Errorf("article %q missing url hash or normalized url", a.URL)
		}
		if a.Domain != site.Domain {
			t.Errorf("article domain = %q, want %q", a.Domain, site.Domain)
		}
	}
}

func TestCrawlSite_SplitsPaywalledArticles(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
			<a href="/article/open">Open</a>
			<a href="/article/gated">Gated</a>
		</body></html>`)
	})
	mux.HandleFunc("/article/open", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, articleBody("open"))
	})
	mux.HandleFunc("/article/gated", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><article>Subscribe to continue reading this exclusive report. `+
			strings.Repeat("teaser ", 40)+`</article></body></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	crawler := newTestCrawler(t, newTestFetcher(t))
	site, err := NewConfig("", srv.URL, "", "", nil)
	if err != nil {
		t.Fatalf("build site config: %v", err)
	}

	result, err := crawler.CrawlSite(context.Background(), site, 5)
	if err != nil {
		t.Fatalf("CrawlSite: %v", err)
	}
	if len(result.Accepted) != 1 {
		t.Fatalf("accepted = %d, want 1", len(result.Accepted))
	}
	if len(result.Paywalled) != 1 {
		t.Fatalf("paywalled = %d, want 1", len(result.Paywalled))
	}
	gated := result.Paywalled[0]
	if !gated.PaywallFlag {
		t.Error("paywalled article not flagged")
	}
	if gated.IngestionStatus != IngestionPaywallSkipped {
		t.Errorf("ingestion status = %q, want %q", gated.IngestionStatus, IngestionPaywallSkipped)
	}
}

func TestCrawlSite_RobotsDisallowedLinksAreDropped(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "User-agent: *\nDisallow: /article/blocked\n")
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
			<a href="/article/allowed">Allowed</a>
			<a href="/article/blocked">Blocked</a>
		</body></html>`)
	})
	mux.HandleFunc("/article/allowed", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, articleBody("allowed"))
	})
	mux.HandleFunc("/article/blocked", func(w http.ResponseWriter, r *http.Request) {
		t.Error("disallowed article was fetched")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	fetcher := newTestFetcher(t)
	crawler := newTestCrawler(t, fetcher, WithRobotsAuditor(NewRobotsAuditor(fetcher, nil)))
	site, err := NewConfig("", srv.URL, "", "", nil)
	if err != nil {
		t.Fatalf("build site config: %v", err)
	}

	result, err := crawler.CrawlSite(context.Background(), site, 5)
	if err != nil {
		t.Fatalf("CrawlSite: %v", err)
	}
	if len(result.Accepted) != 1 {
		t.Fatalf("accepted = %d, want 1", len(result.Accepted))
	}
	if !strings.HasSuffix(result.Accepted[0].URL, "/article/allowed") {
		t.Errorf("accepted url = %q, want the allowed article", result.Accepted[0].URL)
	}
}

func TestCrawlSite_SitemapSeedsWhenLandingPageIsBare(t *testing.T) {
	var srvURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "User-agent: *\nAllow: /\nSitemap: %s/sitemap.xml\n", srvURL)
	})
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>%s/news/sitemap-only-story</loc></url>
  <url><loc>%s/about</loc></url>
</urlset>`, srvURL, srvURL)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><p>nothing linked here</p></body></html>`)
	})
	mux.HandleFunc("/news/sitemap-only-story", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, articleBody("seeded"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	srvURL = srv.URL

	fetcher := newTestFetcher(t)
	crawler := newTestCrawler(t, fetcher,
		WithRobotsAuditor(NewRobotsAuditor(fetcher, nil)),
		WithSitemapFetcher(NewSitemapFetcher(fetcher, nil)),
	)
	site, err := NewConfig("", srv.URL, "", "", nil)
	if err != nil {
		t.Fatalf("build site config: %v", err)
	}

	result, err := crawler.CrawlSite(context.Background(), site, 5)
	if err != nil {
		t.Fatalf("CrawlSite: %v", err)
	}
	if len(result.Accepted) != 1 {
		t.Fatalf("accepted = %d, want 1 seeded from sitemap", len(result.Accepted))
	}
	if !strings.HasSuffix(result.Accepted[0].URL, "/news/sitemap-only-story") {
		t.Errorf("accepted url = %q, want the sitemap-discovered story", result.Accepted[0].URL)
	}
}

func TestCrawlSite_ConsentCookiesCarryToArticleFetches(t *testing.T) {
	var sawCookie atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
			<div class="cookie-banner">We use cookies</div>
			<a href="/article/one">One</a>
		</body></html>`)
	})
	mux.HandleFunc("/article/one", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("cookie_consent"); err == nil && c.Value == "accepted" {
			sawCookie.Store(true)
		}
		fmt.Fprint(w, articleBody("alpha"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	crawler := newTestCrawler(t, newTestFetcher(t))
	site, err := NewConfig("", srv.URL, "", "", nil)
	if err != nil {
		t.Fatalf("build site config: %v", err)
	}

	if _, err := crawler.CrawlSite(context.Background(), site, 1); err != nil {
		t.Fatalf("CrawlSite: %v", err)
	}
	if !sawCookie.Load() {
		t.Error("consent cookie from modal handler did not reach the article fetch")
	}
}

func TestSeenKey_PrefersHashThenNormalizedThenURL(t *testing.T) {
	a := &Article{URL: "u", NormalizedURL: "n", URLHash: "h"}
	if a.SeenKey() != "h" {
		t.Errorf("SeenKey = %q, want hash", a.SeenKey())
	}
	a.URLHash = ""
	if a.SeenKey() != "n" {
		t.Errorf("SeenKey = %q, want normalized url", a.SeenKey())
	}
	a.NormalizedURL = ""
	if a.SeenKey() != "u" {
		t.Errorf("SeenKey = %q, want raw url", a.SeenKey())
	}
}
