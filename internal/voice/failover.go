package voice

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/LEO0072003/VoiceAI/internal/observability"
)

// FailoverSynthesizer prefers the primary backend and switches to fallback
// when primary fails. Once fallback is active, primary is retried after
// retryAfter has elapsed.
type FailoverSynthesizer struct {
	primary    Synthesizer
	fallback   Synthesizer
	retryAfter time.Duration
	metrics    *observability.Metrics
	logger     *slog.Logger

	fallbackActive atomic.Bool
	activatedAt    atomic.Int64
	now            func() time.Time
}

func NewFailoverSynthesizer(primary, fallback Synthesizer, retryAfter time.Duration, metrics *observability.Metrics, logger *slog.Logger) *FailoverSynthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &FailoverSynthesizer{
		primary:    primary,
		fallback:   fallback,
		retryAfter: retryAfter,
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
	}
}

func (f *FailoverSynthesizer) Name() string {
	if f.fallbackActive.Load() {
		return f.fallback.Name()
	}
	return f.primary.Name()
}

func (f *FailoverSynthesizer) activateFallback() {
	f.activatedAt.Store(f.now().UnixNano())
	f.fallbackActive.Store(true)
}

func (f *FailoverSynthesizer) primaryDue() bool {
	if !f.fallbackActive.Load() {
		return true
	}
	since := f.now().Sub(time.Unix(0, f.activatedAt.Load()))
	return since >= f.retryAfter
}

func (f *FailoverSynthesizer) Synthesize(ctx context.Context, text string) (Speech, error) {
	if !f.primaryDue() {
		speech, fbErr := f.fallback.Synthesize(ctx, text)
		if fbErr == nil {
			return speech, nil
		}
		// Fallback failed while active; try primary again.
		speech, prErr := f.primary.Synthesize(ctx, text)
		if prErr == nil {
			f.fallbackActive.Store(false)
			return speech, nil
		}
		return Speech{}, fmt.Errorf("tts fallback failed: %v; tts primary failed: %w", fbErr, prErr)
	}

	speech, prErr := f.primary.Synthesize(ctx, text)
	if prErr == nil {
		f.fallbackActive.Store(false)
		return speech, nil
	}
	if f.metrics != nil {
		f.metrics.ProviderErrors.WithLabelValues(f.primary.Name(), "synthesis_failed").Inc()
	}
	f.logger.Warn("tts primary failed, using fallback", "primary", f.primary.Name(), "error", prErr)

	speech, fbErr := f.fallback.Synthesize(ctx, text)
	if fbErr != nil {
		return Speech{}, fmt.Errorf("tts primary failed: %v; tts fallback failed: %w", prErr, fbErr)
	}
	f.activateFallback()
	return speech, nil
}
