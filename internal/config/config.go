package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the voice appointment service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool
	LogLevel         string
	LogFormat        string
	LatencyWindow    int
	StageTargets     map[string]time.Duration

	RedisURL     string
	SessionTTL   time.Duration
	HistoryLimit int
	CostTTL      time.Duration

	DatabaseURL string

	JWTSecret    string
	JWTAlgorithm string

	LLMProvider           string
	GroqAPIKey            string
	GroqBaseURL           string
	GroqModel             string
	GroqRequestsPerMinute int
	GeminiAPIKey          string
	GeminiModel           string

	AgentMaxIterations int
	AgentTemperature   float64
	AgentMaxTokens     int

	DeepgramAPIKey   string
	DeepgramWSURL    string
	DeepgramModel    string
	STTSampleRate    int
	STTBufferBytes   int
	STTFlushInterval time.Duration
	STTFinalizeGrace time.Duration

	CartesiaAPIKey  string
	CartesiaBaseURL string
	CartesiaVoiceID string
	CartesiaModel   string
	CartesiaVersion string

	AppointmentSlots []string

	PriceSTTPerMinute        float64
	PriceLLMInputPerMillion  float64
	PriceLLMOutputPerMillion float64
	PriceTTSPerThousandChars float64
	PriceAvatarPerMinute     float64
}

// DefaultSlots is the daily booking catalog used when APPOINTMENT_SLOTS is unset.
var DefaultSlots = []string{"09:00", "10:00", "11:00", "14:00", "15:00", "16:00", "17:00", "18:00"}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "voiceai"),
		AllowAnyOrigin:   false,
		LogLevel:         envOrDefault("APP_LOG_LEVEL", "info"),
		LogFormat:        envOrDefault("APP_LOG_FORMAT", "text"),
		RedisURL:         envOrDefault("REDIS_URL", "redis://localhost:6379/0"),
		DatabaseURL:      stringsTrimSpace("DATABASE_URL"),
		JWTSecret:        stringsTrimSpace("JWT_SECRET_KEY"),
		JWTAlgorithm:     envOrDefault("JWT_ALGORITHM", "HS256"),
		LLMProvider:      envOrDefault("LLM_PROVIDER", "auto"),
		GroqAPIKey:       stringsTrimSpace("GROQ_API_KEY"),
		GroqBaseURL:      envOrDefault("GROQ_BASE_URL", "https://api.groq.com/openai/v1"),
		GroqModel:        envOrDefault("GROQ_MODEL", "llama-3.3-70b-versatile"),
		GeminiAPIKey:     stringsTrimSpace("GEMINI_API_KEY"),
		GeminiModel:      envOrDefault("GEMINI_MODEL", "gemini-2.0-flash"),
		DeepgramAPIKey:   stringsTrimSpace("DEEPGRAM_API_KEY"),
		DeepgramWSURL:    envOrDefault("DEEPGRAM_WS_URL", "wss://api.deepgram.com/v1/listen"),
		DeepgramModel:    envOrDefault("DEEPGRAM_MODEL", "nova-2"),
		CartesiaAPIKey:   stringsTrimSpace("CARTESIA_API_KEY"),
		CartesiaBaseURL:  envOrDefault("CARTESIA_BASE_URL", "https://api.cartesia.ai"),
		// Default English female voice from the Cartesia library.
		CartesiaVoiceID: envOrDefault("CARTESIA_VOICE_ID", "a0e99841-438c-4a64-b679-ae501e7d6091"),
		CartesiaModel:   envOrDefault("CARTESIA_MODEL", "sonic-english"),
		CartesiaVersion: envOrDefault("CARTESIA_VERSION", "2024-06-10"),

		ShutdownTimeout:       15 * time.Second,
		LatencyWindow:         256,
		SessionTTL:            2 * time.Hour,
		HistoryLimit:          100,
		CostTTL:               24 * time.Hour,
		GroqRequestsPerMinute: 30,
		AgentMaxIterations:    10,
		AgentTemperature:      0.7,
		AgentMaxTokens:        500,
		STTSampleRate:         16000,
		STTBufferBytes:        16384,
		STTFlushInterval:      500 * time.Millisecond,
		STTFinalizeGrace:      500 * time.Millisecond,

		PriceSTTPerMinute:        0.0043,
		PriceLLMInputPerMillion:  0.59,
		PriceLLMOutputPerMillion: 0.79,
		PriceTTSPerThousandChars: 0.015,
		PriceAvatarPerMinute:     0.35,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.LatencyWindow, err = intFromEnv("APP_LATENCY_WINDOW", cfg.LatencyWindow)
	if err != nil {
		return Config{}, err
	}
	cfg.StageTargets, err = durationMapFromEnv("TURN_STAGE_TARGETS")
	if err != nil {
		return Config{}, err
	}
	cfg.SessionTTL, err = durationFromEnv("SESSION_TTL", cfg.SessionTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.HistoryLimit, err = intFromEnv("HISTORY_LIMIT", cfg.HistoryLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.CostTTL, err = durationFromEnv("COST_TTL", cfg.CostTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.GroqRequestsPerMinute, err = intFromEnv("GROQ_REQUESTS_PER_MINUTE", cfg.GroqRequestsPerMinute)
	if err != nil {
		return Config{}, err
	}
	cfg.AgentMaxIterations, err = intFromEnv("AGENT_MAX_ITERATIONS", cfg.AgentMaxIterations)
	if err != nil {
		return Config{}, err
	}
	cfg.AgentTemperature, err = floatFromEnv("AGENT_TEMPERATURE", cfg.AgentTemperature)
	if err != nil {
		return Config{}, err
	}
	cfg.AgentMaxTokens, err = intFromEnv("AGENT_MAX_TOKENS", cfg.AgentMaxTokens)
	if err != nil {
		return Config{}, err
	}
	cfg.STTSampleRate, err = intFromEnv("STT_SAMPLE_RATE", cfg.STTSampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.STTBufferBytes, err = intFromEnv("STT_BUFFER_BYTES", cfg.STTBufferBytes)
	if err != nil {
		return Config{}, err
	}
	cfg.STTFlushInterval, err = durationFromEnv("STT_FLUSH_INTERVAL", cfg.STTFlushInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.STTFinalizeGrace, err = durationFromEnv("STT_FINALIZE_GRACE", cfg.STTFinalizeGrace)
	if err != nil {
		return Config{}, err
	}
	cfg.AppointmentSlots = listFromEnv("APPOINTMENT_SLOTS", DefaultSlots)

	prices := []struct {
		key string
		dst *float64
	}{
		{"PRICE_STT_PER_MINUTE", &cfg.PriceSTTPerMinute},
		{"PRICE_LLM_INPUT_PER_MILLION", &cfg.PriceLLMInputPerMillion},
		{"PRICE_LLM_OUTPUT_PER_MILLION", &cfg.PriceLLMOutputPerMillion},
		{"PRICE_TTS_PER_THOUSAND_CHARS", &cfg.PriceTTSPerThousandChars},
		{"PRICE_AVATAR_PER_MINUTE", &cfg.PriceAvatarPerMinute},
	}
	for _, p := range prices {
		*p.dst, err = floatFromEnv(p.key, *p.dst)
		if err != nil {
			return Config{}, err
		}
		if *p.dst < 0 {
			return Config{}, fmt.Errorf("%s must be >= 0", p.key)
		}
	}

	if cfg.LatencyWindow <= 0 {
		return Config{}, fmt.Errorf("APP_LATENCY_WINDOW must be positive")
	}
	if cfg.SessionTTL < time.Minute {
		return Config{}, fmt.Errorf("SESSION_TTL must be at least 1m")
	}
	if cfg.HistoryLimit < 2 {
		return Config{}, fmt.Errorf("HISTORY_LIMIT must be at least 2")
	}
	if cfg.AgentMaxIterations < 5 || cfg.AgentMaxIterations > 10 {
		return Config{}, fmt.Errorf("AGENT_MAX_ITERATIONS must be between 5 and 10")
	}
	if cfg.AgentMaxTokens <= 0 {
		return Config{}, fmt.Errorf("AGENT_MAX_TOKENS must be positive")
	}
	if cfg.GroqRequestsPerMinute < 0 {
		return Config{}, fmt.Errorf("GROQ_REQUESTS_PER_MINUTE must be >= 0")
	}
	if cfg.STTSampleRate <= 0 {
		return Config{}, fmt.Errorf("STT_SAMPLE_RATE must be positive")
	}
	if cfg.STTBufferBytes <= 0 {
		return Config{}, fmt.Errorf("STT_BUFFER_BYTES must be positive")
	}
	if cfg.STTFlushInterval <= 0 {
		return Config{}, fmt.Errorf("STT_FLUSH_INTERVAL must be positive")
	}
	if len(cfg.AppointmentSlots) == 0 {
		return Config{}, fmt.Errorf("APPOINTMENT_SLOTS must list at least one slot")
	}
	for _, slot := range cfg.AppointmentSlots {
		if _, err := time.Parse("15:04", slot); err != nil || len(slot) != 5 {
			return Config{}, fmt.Errorf("APPOINTMENT_SLOTS entry %q must be HH:MM", slot)
		}
	}
	switch strings.ToLower(cfg.LLMProvider) {
	case "auto", "groq", "gemini", "mock":
	default:
		return Config{}, fmt.Errorf("LLM_PROVIDER must be one of auto|groq|gemini|mock")
	}
	switch strings.ToUpper(cfg.JWTAlgorithm) {
	case "HS256", "HS384", "HS512":
	default:
		return Config{}, fmt.Errorf("JWT_ALGORITHM must be one of HS256|HS384|HS512")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}

// durationMapFromEnv parses "name=duration" pairs such as "agent=2.5s,synthesis=900ms".
func durationMapFromEnv(key string) (map[string]time.Duration, error) {
	out := map[string]time.Duration{}
	for _, pair := range listFromEnv(key, nil) {
		name, raw, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("%s entry %q must be name=duration", key, pair)
		}
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("%s entry %q parse error: %w", key, pair, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("%s entry %q must be positive", key, pair)
		}
		out[name] = d
	}
	return out, nil
}

// listFromEnv splits a comma separated value, dropping empty items.
func listFromEnv(key string, fallback []string) []string {
	v := stringsTrimSpace(key)
	if v == "" {
		return append([]string(nil), fallback...)
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
