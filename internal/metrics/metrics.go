// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package metrics exposes Prometheus metrics for research sessions, stage
// invocations, and search items.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	// Session metrics
	SessionsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deep_research_sessions_started_total",
			Help: "Total number of research sessions started",
		},
		[]string{"depth"},
	)

	SessionsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deep_research_sessions_completed_total",
			Help: "Total number of research sessions reaching a terminal state",
		},
		[]string{"outcome"},
	)

	SessionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deep_research_session_duration_seconds",
			Help:    "Research session duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"depth"},
	)

	StateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deep_research_state_transitions_total",
			Help: "Total number of session state transitions by target state",
		},
		[]string{"state"},
	)

	// Stage metrics
	StageInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deep_research_stage_invocations_total",
			Help: "Total number of stage backend invocations",
		},
		[]string{"kind", "outcome"},
	)

	StageLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deep_research_stage_latency_seconds",
			Help:    "Stage backend call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// Search metrics
	SearchItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deep_research_search_items_total",
			Help: "Total number of search plan items by final outcome",
		},
		[]string{"outcome"},
	)

	SearchRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deep_research_search_retries_total",
			Help: "Total number of search retries",
		},
	)

	ProviderRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deep_research_provider_requests_total",
			Help: "Total number of search provider requests",
		},
		[]string{"provider", "outcome"},
	)

	// Evidence metrics
	LowConfidenceItems = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deep_research_low_confidence_items_total",
			Help: "Total number of evidence items flagged low-confidence",
		},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deep_research_events_published_total",
			Help: "Total number of progress events delivered to sinks",
		},
		[]string{"sink", "outcome"},
	)
)

// Outcome label values.
const (
	OutcomeSuccess   = "success"
	OutcomeError     = "error"
	OutcomeCancelled = "cancelled"
)

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Metrics endpoint listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
