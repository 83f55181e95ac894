package config

import (
	"reflect"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.SessionTTL != 2*time.Hour {
		t.Fatalf("SessionTTL = %s, want 2h", cfg.SessionTTL)
	}
	if cfg.HistoryLimit != 100 {
		t.Fatalf("HistoryLimit = %d, want 100", cfg.HistoryLimit)
	}
	if cfg.AgentMaxIterations != 10 {
		t.Fatalf("AgentMaxIterations = %d, want 10", cfg.AgentMaxIterations)
	}
	if !reflect.DeepEqual(cfg.AppointmentSlots, DefaultSlots) {
		t.Fatalf("AppointmentSlots = %v, want %v", cfg.AppointmentSlots, DefaultSlots)
	}
	if cfg.PriceSTTPerMinute != 0.0043 {
		t.Fatalf("PriceSTTPerMinute = %v, want 0.0043", cfg.PriceSTTPerMinute)
	}
	if cfg.STTBufferBytes != 16384 || cfg.STTFlushInterval != 500*time.Millisecond {
		t.Fatalf("unexpected stt buffering defaults: %d %s", cfg.STTBufferBytes, cfg.STTFlushInterval)
	}
}

func TestLoadParsesSlotsAndPrices(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APPOINTMENT_SLOTS", " 08:00, 12:30 ,,")
	t.Setenv("PRICE_TTS_PER_THOUSAND_CHARS", "0.02")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !reflect.DeepEqual(cfg.AppointmentSlots, []string{"08:00", "12:30"}) {
		t.Fatalf("AppointmentSlots = %v", cfg.AppointmentSlots)
	}
	if cfg.PriceTTSPerThousandChars != 0.02 {
		t.Fatalf("PriceTTSPerThousandChars = %v, want 0.02", cfg.PriceTTSPerThousandChars)
	}
}

func TestLoadParsesStageTargets(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_LATENCY_WINDOW", "64")
	t.Setenv("TURN_STAGE_TARGETS", "agent=2.5s, synthesis=900ms")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LatencyWindow != 64 {
		t.Fatalf("LatencyWindow = %d, want 64", cfg.LatencyWindow)
	}
	want := map[string]time.Duration{"agent": 2500 * time.Millisecond, "synthesis": 900 * time.Millisecond}
	if !reflect.DeepEqual(cfg.StageTargets, want) {
		t.Fatalf("StageTargets = %v, want %v", cfg.StageTargets, want)
	}
}

func TestLoadRejectsMalformedStageTarget(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("TURN_STAGE_TARGETS", "agent")
	if _, err := Load(); err == nil {
		t.Fatal("Load() error = nil, want error for missing duration")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"AGENT_MAX_ITERATIONS": "25",
		"APPOINTMENT_SLOTS":    "9am",
		"LLM_PROVIDER":         "openrouter",
		"PRICE_STT_PER_MINUTE": "-1",
		"STT_FLUSH_INTERVAL":   "soon",
		"JWT_ALGORITHM":        "RS256",
		"APP_LATENCY_WINDOW":   "0",
		"TURN_STAGE_TARGETS":   "agent=-1s",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() error = nil, want error for %s=%s", key, value)
			}
		})
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"APP_LOG_LEVEL",
		"APP_LOG_FORMAT",
		"APP_LATENCY_WINDOW",
		"TURN_STAGE_TARGETS",
		"REDIS_URL",
		"SESSION_TTL",
		"HISTORY_LIMIT",
		"COST_TTL",
		"DATABASE_URL",
		"JWT_SECRET_KEY",
		"JWT_ALGORITHM",
		"LLM_PROVIDER",
		"GROQ_API_KEY",
		"GROQ_BASE_URL",
		"GROQ_MODEL",
		"GROQ_REQUESTS_PER_MINUTE",
		"GEMINI_API_KEY",
		"GEMINI_MODEL",
		"AGENT_MAX_ITERATIONS",
		"AGENT_TEMPERATURE",
		"AGENT_MAX_TOKENS",
		"DEEPGRAM_API_KEY",
		"DEEPGRAM_WS_URL",
		"DEEPGRAM_MODEL",
		"STT_SAMPLE_RATE",
		"STT_BUFFER_BYTES",
		"STT_FLUSH_INTERVAL",
		"STT_FINALIZE_GRACE",
		"CARTESIA_API_KEY",
		"CARTESIA_BASE_URL",
		"CARTESIA_VOICE_ID",
		"CARTESIA_MODEL",
		"CARTESIA_VERSION",
		"APPOINTMENT_SLOTS",
		"PRICE_STT_PER_MINUTE",
		"PRICE_LLM_INPUT_PER_MILLION",
		"PRICE_LLM_OUTPUT_PER_MILLION",
		"PRICE_TTS_PER_THOUSAND_CHARS",
		"PRICE_AVATAR_PER_MINUTE",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
