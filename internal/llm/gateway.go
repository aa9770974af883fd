package llm

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/leadline-ai/lead-concierge/internal/observability/metrics"
	"github.com/leadline-ai/lead-concierge/pkg/logging"
)

var gatewayTracer = otel.Tracer("leadline.internal.llm.gateway")

// Gateway routes completions to a primary backend and fails over to a
// secondary on any error. Conversation latency budgets are tight, so
// there is exactly one immediate retry and no backoff within a turn.
type Gateway struct {
	primary   Client
	secondary Client
	timeout   time.Duration
	logger    *logging.Logger
	metrics   *metrics.GatewayMetrics
}

// NewGateway wires a failover gateway around the supplied backends.
// secondary may be nil, in which case only the primary is attempted.
func NewGateway(primary, secondary Client, attemptTimeout time.Duration, logger *logging.Logger, m *metrics.GatewayMetrics) *Gateway {
	if primary == nil {
		panic("llm: primary client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if attemptTimeout <= 0 {
		attemptTimeout = 20 * time.Second
	}
	return &Gateway{
		primary:   primary,
		secondary: secondary,
		timeout:   attemptTimeout,
		logger:    logger,
		metrics:   m,
	}
}

// Complete attempts the primary backend, then the secondary. The returned
// Result carries the identity of the backend that answered and the latency
// of the winning attempt.
func (g *Gateway) Complete(ctx context.Context, req Request) (Result, error) {
	ctx, span := gatewayTracer.Start(ctx, "llm.complete")
	defer span.End()

	result, primaryErr := g.attempt(ctx, g.primary, req)
	if primaryErr == nil {
		span.SetAttributes(attribute.String("leadline.llm.provider", result.Provider))
		return result, nil
	}

	g.logger.Warn("primary LLM backend failed, attempting failover",
		"provider", g.primary.Provider(),
		"error", primaryErr.Error(),
		"failover_available", g.secondary != nil,
	)

	if g.secondary == nil {
		span.RecordError(primaryErr)
		return Result{}, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, primaryErr)
	}

	result, secondaryErr := g.attempt(ctx, g.secondary, req)
	if secondaryErr != nil {
		g.logger.Error("secondary LLM backend also failed",
			"primary_error", primaryErr.Error(),
			"secondary_error", secondaryErr.Error(),
		)
		span.RecordError(secondaryErr)
		return Result{}, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, secondaryErr)
	}

	g.logger.Info("failover LLM backend succeeded after primary failure",
		"provider", result.Provider,
		"latency_ms", result.LatencyMs,
	)
	span.SetAttributes(attribute.String("leadline.llm.provider", result.Provider))
	return result, nil
}

func (g *Gateway) attempt(ctx context.Context, client Client, req Request) (Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	started := time.Now()
	result, err := client.Complete(callCtx, req)
	elapsed := time.Since(started)

	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	g.metrics.ObserveAttempt(client.Provider(), outcome, elapsed.Seconds())
	g.logger.Debug("LLM backend attempt",
		"provider", client.Provider(),
		"outcome", outcome,
		"latency_ms", elapsed.Milliseconds(),
	)

	if err != nil {
		return Result{}, err
	}
	result.Provider = client.Provider()
	result.LatencyMs = elapsed.Milliseconds()
	return result, nil
}
