package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/LEO0072003/VoiceAI/internal/config"
	"github.com/LEO0072003/VoiceAI/internal/observability"
	"github.com/LEO0072003/VoiceAI/internal/voice"
)

func testConfig(redisAddr string) config.Config {
	return config.Config{
		MetricsNamespace:         "voiceai_app_test",
		RedisURL:                 "redis://" + redisAddr + "/0",
		JWTSecret:                "test-secret",
		JWTAlgorithm:             "HS256",
		LLMProvider:              "mock",
		SessionTTL:               time.Hour,
		HistoryLimit:             100,
		CostTTL:                  time.Hour,
		AgentMaxIterations:       10,
		AgentTemperature:         0.7,
		AgentMaxTokens:           500,
		DeepgramModel:            "nova-2",
		STTSampleRate:            16000,
		CartesiaModel:            "sonic-english",
		AppointmentSlots:         config.DefaultSlots,
		PriceLLMInputPerMillion:  0.59,
		PriceLLMOutputPerMillion: 0.79,
	}
}

func TestBuildWiresOfflineStack(t *testing.T) {
	mr := miniredis.RunT(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	res, err := Build(context.Background(), testConfig(mr.Addr()), logger)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer func() {
		if err := res.Cleanup(); err != nil {
			t.Fatalf("Cleanup() error = %v", err)
		}
	}()

	if res.API == nil || res.Orchestrator == nil || res.Sessions == nil {
		t.Fatalf("Build() left components nil: %+v", res)
	}
	if res.Providers.LLM != "mock" {
		t.Fatalf("LLM provider = %q, want mock", res.Providers.LLM)
	}
	if err := res.Orchestrator.Ready(context.Background()); err != nil {
		t.Fatalf("Ready() error = %v", err)
	}

	// Keyless synthesis falls back to the silent mock.
	speech, err := res.Orchestrator.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if speech.SampleRate != 16000 || len(speech.Audio) == 0 {
		t.Fatalf("unexpected speech: rate=%d bytes=%d", speech.SampleRate, len(speech.Audio))
	}
}

func TestBuildRejectsMissingSecret(t *testing.T) {
	cfg := testConfig("127.0.0.1:6379")
	cfg.JWTSecret = ""
	if _, err := Build(context.Background(), cfg, nil); err == nil {
		t.Fatalf("Build() error = nil, want missing secret error")
	}
}

func TestResolveVoiceProvidersUsesCartesiaWhenKeyed(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := testConfig("127.0.0.1:6379")
	cfg.CartesiaAPIKey = "ct-key"

	setup := resolveVoiceProviders(cfg, nil, logger)
	if _, ok := setup.tts.(*voice.FailoverSynthesizer); !ok {
		t.Fatalf("tts = %T, want *voice.FailoverSynthesizer", setup.tts)
	}
	if setup.tts.Name() != "cartesia" {
		t.Fatalf("tts name = %q, want cartesia", setup.tts.Name())
	}
}

func TestResolveVoiceProvidersCountsTranscriptSegments(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetricsWith(prometheus.NewRegistry(), "voiceai_app_test")

	setup := resolveVoiceProviders(testConfig("127.0.0.1:6379"), metrics, logger)
	factory, ok := setup.stt.(*voice.DeepgramFactory)
	if !ok {
		t.Fatalf("stt = %T, want *voice.DeepgramFactory", setup.stt)
	}
	if factory.OnTranscript == nil {
		t.Fatalf("OnTranscript hook not installed")
	}
	factory.OnTranscript("sess_1", "book an", false)
	factory.OnTranscript("sess_1", "book an appointment", true)
	factory.OnTranscript("sess_1", "tomorrow", true)

	counts := map[string]int{}
	for _, ind := range metrics.SnapshotTurnStages().Indicators {
		counts[ind.Name] = ind.Count
	}
	if counts[sttInterimIndicator] != 1 || counts[sttFinalIndicator] != 2 {
		t.Fatalf("indicators = %v, want 1 interim and 2 final", counts)
	}
}

func TestPricingForLabelsProvider(t *testing.T) {
	cfg := testConfig("127.0.0.1:6379")
	cfg.GeminiModel = "gemini-2.0-flash"
	p := pricingFor(cfg, "gemini")
	if p.LLMProvider != "Gemini" || p.LLMModel != "gemini-2.0-flash" {
		t.Fatalf("pricing labels = %s/%s", p.LLMProvider, p.LLMModel)
	}
	if p.LLMInputPerMillion != 0.59 || p.STTPerMinute != 0 {
		t.Fatalf("pricing prices = %+v", p)
	}
}
