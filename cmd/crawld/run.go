package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/newsguild/unicrawl/internal/budget"
	"github.com/newsguild/unicrawl/internal/config"
	"github.com/newsguild/unicrawl/internal/coordinator"
	"github.com/newsguild/unicrawl/internal/crawlsite"
	"github.com/newsguild/unicrawl/internal/extract"
	"github.com/newsguild/unicrawl/internal/fetch"
	"github.com/newsguild/unicrawl/internal/fingerprint"
	"github.com/newsguild/unicrawl/internal/hitl"
	"github.com/newsguild/unicrawl/internal/ingest"
	"github.com/newsguild/unicrawl/internal/modal"
	"github.com/newsguild/unicrawl/internal/report"
	"github.com/newsguild/unicrawl/internal/siteloop"
	"github.com/newsguild/unicrawl/internal/sources"
	"github.com/newsguild/unicrawl/internal/storage"
	"github.com/newsguild/unicrawl/internal/storage/csvbackend"
	"github.com/newsguild/unicrawl/internal/storage/jsonbackend"
	"github.com/newsguild/unicrawl/internal/storage/postgres"
	"github.com/newsguild/unicrawl/internal/storage/sqlite"
	"github.com/newsguild/unicrawl/pkg/proxy"
	"github.com/newsguild/unicrawl/pkg/ratelimit"
	"github.com/newsguild/unicrawl/pkg/useragent"
)

// emptyRepository is the default sources.Repository when no real one is
// wired in: every lookup misses, so the coordinator falls back to
// synthesizing a minimal Site Config per domain. Loading real source
// records is a caller's integration concern, not this binary's.
type emptyRepository struct{}

func (emptyRepository) GetSourcesByDomain(context.Context, []string) ([]sources.SourceRecord, error) {
	return nil, nil
}

func newRunCmd() *cobra.Command {
	var (
		domains        []string
		perSiteCap     int
		concurrency    int
		globalTarget   int
		configPath     string
		outputFormat   string
		storageBackend string
		storageDSN     string
		watchTerms     []string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a multi-site crawl and print the resulting summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(domains) == 0 {
				return fmt.Errorf("crawld run: at least one --domain is required")
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

			backend, err := openStorageBackend(cmd.Context(), storageBackend, storageDSN)
			if err != nil {
				return err
			}

			coord, err := buildCoordinator(cfg, logger, backend, watchTerms)
			if err != nil {
				return err
			}

			req := coordinator.RunRequest{
				Domains:     domains,
				PerSiteCap:  perSiteCap,
				Concurrency: concurrency,
			}
			if cmd.Flags().Changed("global-target") {
				req.GlobalTarget = &globalTarget
			}

			summary := coord.Run(cmd.Context(), req)
			return renderSummary(cmd, summary, outputFormat)
		},
	}

	cmd.Flags().StringSliceVar(&domains, "domain", nil, "domain or URL to crawl (repeatable)")
	cmd.Flags().IntVar(&perSiteCap, "per-site-cap", 5, "maximum new articles per site")
	cmd.Flags().IntVar(&concurrency, "concurrency", coordinator.DefaultConcurrency, "number of sites crawled concurrently")
	cmd.Flags().IntVar(&globalTarget, "global-target", 0, "global article cap across all sites")
	cmd.Flags().StringVar(&configPath, "config", "", "optional config file path")
	cmd.Flags().StringVar(&outputFormat, "output", "json", "summary output format: json|text")
	cmd.Flags().StringVar(&storageBackend, "storage-backend", "", "raw-fetch archive backend: json|csv|sqlite|postgres (unset disables archiving)")
	cmd.Flags().StringVar(&storageDSN, "storage-dsn", "", "file path or DSN for --storage-backend")
	cmd.Flags().StringSliceVar(&watchTerms, "watch-term", nil, "term to scan ingested articles for (repeatable)")

	return cmd
}

// openStorageBackend opens the raw-fetch archive backend named by kind,
// or returns a nil storage.Backend when kind is empty so fetches are
// simply not archived.
func openStorageBackend(ctx context.Context, kind, dsn string) (storage.Backend, error) {
	switch strings.ToLower(kind) {
	case "":
		return nil, nil
	case "json":
		return jsonbackend.New(dsn)
	case "csv":
		return csvbackend.New(dsn)
	case "sqlite":
		return sqlite.New(dsn)
	case "postgres":
		return postgres.New(ctx, dsn)
	default:
		return nil, fmt.Errorf("crawld: unknown --storage-backend %q", kind)
	}
}

func buildCoordinator(cfg config.Config, logger *slog.Logger, backend storage.Backend, watchTerms []string) (*coordinator.Coordinator, error) {
	uaPool := useragent.NewPool(nil)
	proxyPool := proxy.NewPool(proxy.Config{})
	stealthFactory := fetch.NewStealthFactory(nil)
	domainLimiter := ratelimit.NewDomainPool(cfg.PerDomainRPS, cfg.PerDomainJitter)

	fetcher, err := fetch.New(fetch.Config{
		Timeout:                 10 * time.Second,
		UseCookieJar:            true,
		UAPool:                  uaPool,
		ProxyPool:               proxyPool,
		StealthFactory:          stealthFactory,
		Fingerprint:             fingerprint.ProfileChrome,
		EnableUserAgentRotation: true,
		EnableStealthHeaders:    true,
		Backend:                 backend,
		RateLimiter:             domainLimiter,
	})
	if err != nil {
		return nil, fmt.Errorf("crawld: build fetcher: %w", err)
	}

	modalHandler := modal.NewDefaultHandler(nil)
	paywallDetector := modal.NewDefaultDetector(0, 0)

	extractOpts := extract.Options{
		MinWords:         cfg.MinWords,
		MinTextHTMLRatio: cfg.MinTextHTMLRatio,
	}
	persister := extract.FilePersister{BaseDir: "."}

	robotsAuditor := crawlsite.NewRobotsAuditor(fetcher, logger)
	sitemapFetcher := crawlsite.NewSitemapFetcher(fetcher, logger)

	crawler := crawlsite.NewCrawler(fetcher, modalHandler, paywallDetector, extractOpts, persister, crawlsite.BuildOptions{
		HashAlgo:      cfg.URLHashAlgo,
		NormalizeMode: cfg.NormalizationMode(),
	},
		crawlsite.WithLogger(logger),
		crawlsite.WithRobotsAuditor(robotsAuditor),
		crawlsite.WithSitemapFetcher(sitemapFetcher),
	)

	selector := crawlsite.NewSelector(nil, nil, nil)

	var hitlForwarder *hitl.Forwarder
	if cfg.EnableHITLPipeline && cfg.HITLURL() != "" {
		hitlForwarder = hitl.New(hitl.Config{
			BaseURL:       cfg.HITLURL(),
			StatsInterval: time.Duration(cfg.HITLStatsIntervalSecs) * time.Second,
			Backoff:       time.Duration(cfg.HITLFailureBackoffSecs) * time.Second,
			Logger:        logger,
		})
	} else {
		hitlForwarder = hitl.New(hitl.Config{Logger: logger})
	}

	ingestClient := ingest.New(cfg.MCPBusURL)

	loop := &siteloop.Loop{
		Crawler:          crawler,
		Selector:         selector,
		Arbiter:          budget.NewArbiter(nil),
		HITL:             hitlForwarder,
		Ingest:           ingestClient,
		MaxBatches:       cfg.MaxSiteBatches,
		PaywallThreshold: cfg.PaywallSkipThreshold,
		WatchTerms:       watchTerms,
		Logger:           logger,
	}

	return &coordinator.Coordinator{
		Repository: emptyRepository{},
		Loop:       loop,
		Logger:     logger,
	}, nil
}

func renderSummary(cmd *cobra.Command, summary coordinator.RunSummary, format string) error {
	if strings.EqualFold(format, "text") {
		return report.WriteRunSummaryText(cmd.OutOrStdout(), summary)
	}
	return report.WriteRunSummaryJSON(cmd.OutOrStdout(), summary)
}
