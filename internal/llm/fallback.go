package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/LEO0072003/VoiceAI/internal/observability"
)

// FallbackProvider prefers primary and regenerates with fallback when primary
// reports a rate limit or exhausted quota. Any other primary error is returned.
type FallbackProvider struct {
	primary  Provider
	fallback Provider
	metrics  *observability.Metrics
	logger   *slog.Logger
}

func NewFallbackProvider(primary, fallback Provider, metrics *observability.Metrics, logger *slog.Logger) *FallbackProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackProvider{
		primary:  primary,
		fallback: fallback,
		metrics:  metrics,
		logger:   logger,
	}
}

func (p *FallbackProvider) Name() string { return p.primary.Name() }

func (p *FallbackProvider) Generate(ctx context.Context, req Request) (Response, error) {
	resp, err := p.primary.Generate(ctx, req)
	if err == nil {
		return resp, nil
	}
	if !IsRateLimited(err) {
		p.observeError("error")
		return Response{}, err
	}

	p.observeError("rate_limited")
	p.logger.Warn("llm rate limited, using fallback provider",
		"primary", p.primary.Name(),
		"fallback", p.fallback.Name(),
		"error", err,
	)
	if p.metrics != nil {
		p.metrics.LLMFallbacks.WithLabelValues(p.primary.Name()).Inc()
	}
	resp, fbErr := p.fallback.Generate(ctx, req)
	if fbErr != nil {
		return Response{}, fmt.Errorf("llm primary failed: %v; llm fallback failed: %w", err, fbErr)
	}
	return resp, nil
}

func (p *FallbackProvider) observeError(code string) {
	if p.metrics == nil {
		return
	}
	p.metrics.ProviderErrors.WithLabelValues(p.primary.Name(), code).Inc()
}
