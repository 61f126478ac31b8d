package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/newsguild/unicrawl/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FetchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unicrawl_fetch_requests_total",
			Help: "Total number of page fetches executed",
		},
		[]string{"domain", "status", "detected", "detection_src"},
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "unicrawl_fetch_duration_seconds",
			Help:    "Duration of page fetches in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"domain"},
	)

	FetchBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unicrawl_fetch_bytes_total",
			Help: "Total bytes downloaded across all fetches",
		},
		[]string{"domain"},
	)

	ProxyFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unicrawl_proxy_failures_total",
			Help: "Total number of proxy failures during fetches",
		},
		[]string{"proxy_url"},
	)

	// BudgetReservations tracks the Budget Arbiter's grant outcomes (C7):
	// outcome is "full", "partial", or "empty" depending on how the grant
	// compared to the request.
	BudgetReservations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unicrawl_budget_reservations_total",
			Help: "Global budget reservation outcomes",
		},
		[]string{"outcome"},
	)

	// HITLFailuresTotal counts HITL Forwarder (C9) submission failures.
	HITLFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "unicrawl_hitl_failures_total",
			Help: "Total HITL candidate-submission failures",
		},
	)

	// IngestionOutcomesTotal counts Ingestion Client (C10) response
	// classifications: new, duplicate, or error.
	IngestionOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unicrawl_ingestion_outcomes_total",
			Help: "Ingestion RPC outcomes by classification",
		},
		[]string{"status"},
	)
)

// RecordReservation classifies one Arbiter.Reserve call's outcome.
func RecordReservation(requested, granted int) {
	switch {
	case granted <= 0:
		BudgetReservations.WithLabelValues("empty").Inc()
	case granted < requested:
		BudgetReservations.WithLabelValues("partial").Inc()
	default:
		BudgetReservations.WithLabelValues("full").Inc()
	}
}

// RecordHITLFailure increments the HITL failure counter.
func RecordHITLFailure() {
	HITLFailuresTotal.Inc()
}

// RecordIngestionOutcome increments the ingestion-outcome counter for the
// given classification ("new", "duplicate", or "error").
func RecordIngestionOutcome(status string) {
	IngestionOutcomesTotal.WithLabelValues(status).Inc()
}

// RecordScrape updates the fetch metrics given a ScrapeResult and domain.
func RecordScrape(domain string, res *storage.ScrapeResult) {
	if res == nil {
		return
	}

	detectedStr := "false"
	if res.DetectedBot {
		detectedStr = "true"
	}

	statusStr := strconv.Itoa(res.StatusCode)
	if res.Error != "" {
		statusStr = "error"
	}

	FetchRequestsTotal.WithLabelValues(domain, statusStr, detectedStr, res.DetectionSrc).Inc()
	FetchDuration.WithLabelValues(domain).Observe(res.Duration.Seconds())
	FetchBytesTotal.WithLabelValues(domain).Add(float64(len(res.Body)))
}

// Server encapsulates an HTTP server for Prometheus metrics.
type Server struct {
	srv *http.Server
}

// Start begins listening on the specified port and exposes /metrics.
// The server runs in a background goroutine and must be stopped via Server.Stop()
// to release resources and avoid leaks.
func Start(port int) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         fmt.Sprintf("127.0.0.1:%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		// Suppress the error from intentional shutdown
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server failed: %v\n", err)
		}
	}()

	return &Server{srv: srv}
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
