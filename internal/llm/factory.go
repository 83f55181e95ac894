package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/LEO0072003/VoiceAI/internal/config"
	"github.com/LEO0072003/VoiceAI/internal/observability"
)

// NewProvider resolves LLM_PROVIDER. "auto" prefers Groq, then Gemini, then
// the mock. Real providers fall back to the mock on rate limits.
func NewProvider(ctx context.Context, cfg config.Config, metrics *observability.Metrics, logger *slog.Logger) (Provider, error) {
	var primary Provider
	switch strings.ToLower(strings.TrimSpace(cfg.LLMProvider)) {
	case "mock":
		return NewMockProvider(), nil
	case "groq":
		if cfg.GroqAPIKey == "" {
			return nil, fmt.Errorf("LLM_PROVIDER=groq requires GROQ_API_KEY")
		}
		primary = NewGroqProvider(cfg.GroqAPIKey, cfg.GroqBaseURL, cfg.GroqModel, cfg.GroqRequestsPerMinute)
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("LLM_PROVIDER=gemini requires GEMINI_API_KEY")
		}
		p, err := NewGeminiProvider(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, err
		}
		primary = p
	case "", "auto":
		switch {
		case cfg.GroqAPIKey != "":
			primary = NewGroqProvider(cfg.GroqAPIKey, cfg.GroqBaseURL, cfg.GroqModel, cfg.GroqRequestsPerMinute)
		case cfg.GeminiAPIKey != "":
			p, err := NewGeminiProvider(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
			if err != nil {
				return nil, err
			}
			primary = p
		default:
			return NewMockProvider(), nil
		}
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.LLMProvider)
	}
	return NewFallbackProvider(primary, NewMockProvider(), metrics, logger), nil
}
