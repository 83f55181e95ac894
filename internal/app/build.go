package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/LEO0072003/VoiceAI/internal/agent"
	"github.com/LEO0072003/VoiceAI/internal/appointments"
	"github.com/LEO0072003/VoiceAI/internal/auth"
	"github.com/LEO0072003/VoiceAI/internal/config"
	"github.com/LEO0072003/VoiceAI/internal/cost"
	"github.com/LEO0072003/VoiceAI/internal/httpapi"
	"github.com/LEO0072003/VoiceAI/internal/llm"
	"github.com/LEO0072003/VoiceAI/internal/observability"
	"github.com/LEO0072003/VoiceAI/internal/session"
	"github.com/LEO0072003/VoiceAI/internal/voice"
)

type ProviderInfo struct {
	LLM string
	STT string
	TTS string
}

type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Sessions     *session.Store
	Orchestrator *voice.Orchestrator
	Metrics      *observability.Metrics
	Providers    ProviderInfo

	// Cleanup should be called on shutdown to release Redis and the database pool.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace,
		observability.WithLatencyWindow(cfg.LatencyWindow),
		observability.WithStageTargets(cfg.StageTargets),
	)

	validator, err := auth.NewValidator(cfg.JWTSecret, cfg.JWTAlgorithm)
	if err != nil {
		return nil, err
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(redisOpts)

	store, err := appointments.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("appointment store init failed: %w", err)
	}

	provider, err := llm.NewProvider(ctx, cfg, metrics, logger)
	if err != nil {
		_ = store.Close()
		_ = rdb.Close()
		return nil, fmt.Errorf("llm provider init failed: %w", err)
	}

	voiceSetup := resolveVoiceProviders(cfg, metrics, logger)
	sessions := session.NewStore(rdb, cfg.SessionTTL, cfg.HistoryLimit)
	ledger := cost.NewLedger(rdb, pricingFor(cfg, provider.Name()), cfg.CostTTL)
	loop := agent.NewLoop(provider, sessions, agent.Config{
		MaxIterations: cfg.AgentMaxIterations,
		Temperature:   cfg.AgentTemperature,
		MaxTokens:     cfg.AgentMaxTokens,
	}, metrics, logger)

	orchestrator := voice.NewOrchestrator(voice.Dependencies{
		Sessions:     sessions,
		Appointments: store,
		Auth:         validator,
		Ledger:       ledger,
		Agent:        loop,
		LLM:          provider,
		STT:          voiceSetup.stt,
		TTS:          voiceSetup.tts,
		Metrics:      metrics,
		Logger:       logger,
		Slots:        cfg.AppointmentSlots,
		SampleRate:   cfg.STTSampleRate,
	})

	api := httpapi.New(cfg, orchestrator, validator, metrics, logger)

	cleanup := func() error {
		return errors.Join(store.Close(), rdb.Close())
	}

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Sessions:     sessions,
		Orchestrator: orchestrator,
		Metrics:      metrics,
		Providers: ProviderInfo{
			LLM: provider.Name(),
			STT: voiceSetup.sttDetail,
			TTS: voiceSetup.ttsDetail,
		},
		Cleanup: cleanup,
	}, nil
}

// pricingFor applies configured unit prices and labels the LLM line with the
// provider actually serving requests.
func pricingFor(cfg config.Config, llmName string) cost.Pricing {
	p := cost.DefaultPricing()
	p.STTPerMinute = cfg.PriceSTTPerMinute
	p.LLMInputPerMillion = cfg.PriceLLMInputPerMillion
	p.LLMOutputPerMillion = cfg.PriceLLMOutputPerMillion
	p.TTSPerThousandChars = cfg.PriceTTSPerThousandChars
	p.AvatarPerMinute = cfg.PriceAvatarPerMinute
	p.STTModel = cfg.DeepgramModel
	p.TTSModel = cfg.CartesiaModel
	switch llmName {
	case "groq":
		p.LLMProvider, p.LLMModel = "Groq", cfg.GroqModel
	case "gemini":
		p.LLMProvider, p.LLMModel = "Gemini", cfg.GeminiModel
	case "mock":
		p.LLMProvider, p.LLMModel = "Mock", "mock"
	}
	return p
}
