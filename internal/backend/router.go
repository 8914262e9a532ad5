// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package backend assembles stage backends: a Router that sends each stage
// kind to the implementation serving it, an instrumentation wrapper, and an
// offline Heuristic reasoning backend that needs no model access.
package backend

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/deep-research/internal/metrics"
	"github.com/pdiddy/deep-research/internal/stage"
)

// Router dispatches the search stage to Search and every other stage to
// Reasoning.
type Router struct {
	Reasoning stage.Backend
	Search    stage.Backend
}

// Invoke forwards the call to the backend serving kind.
func (r *Router) Invoke(ctx context.Context, kind stage.Kind, input stage.Payload) (stage.Payload, error) {
	b := r.Reasoning
	if kind == stage.KindSearch {
		b = r.Search
	}
	if b == nil {
		return nil, stage.Unsupported(kind)
	}
	return b.Invoke(ctx, kind, input)
}

// instrumented wraps a backend with logging and stage metrics.
type instrumented struct {
	next   stage.Backend
	logger *zap.Logger
}

// Instrument returns a backend that logs every call and records its outcome
// and latency per stage kind.
func Instrument(b stage.Backend, logger *zap.Logger) stage.Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &instrumented{next: b, logger: logger}
}

func (i *instrumented) Invoke(ctx context.Context, kind stage.Kind, input stage.Payload) (stage.Payload, error) {
	start := time.Now()
	out, err := i.next.Invoke(ctx, kind, input)
	elapsed := time.Since(start)

	metrics.StageLatency.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
	outcome := metrics.OutcomeSuccess
	switch {
	case err == nil:
	case ctx.Err() != nil:
		outcome = metrics.OutcomeCancelled
	default:
		outcome = metrics.OutcomeError
	}
	metrics.StageInvocations.WithLabelValues(string(kind), outcome).Inc()

	if err != nil && outcome == metrics.OutcomeError {
		fields := []zap.Field{zap.String("kind", string(kind)), zap.Duration("elapsed", elapsed), zap.Error(err)}
		var be *stage.BackendError
		if errors.As(err, &be) {
			fields = append(fields, zap.String("code", be.Code))
		}
		i.logger.Warn("Stage call failed", fields...)
		return out, err
	}
	i.logger.Debug("Stage call finished",
		zap.String("kind", string(kind)),
		zap.String("outcome", outcome),
		zap.Duration("elapsed", elapsed),
	)
	return out, err
}
