package app

import (
	"log/slog"
	"strings"
	"time"

	"github.com/LEO0072003/VoiceAI/internal/config"
	"github.com/LEO0072003/VoiceAI/internal/observability"
	"github.com/LEO0072003/VoiceAI/internal/voice"
)

// ttsRetryPrimaryAfter is how long synthesis stays on the mock after a
// Cartesia failure before Cartesia is tried again.
const ttsRetryPrimaryAfter = 30 * time.Second

// Transcript segments are counted on the latency window next to the turn
// stages, so /api/voice/perf/latency shows how chatty STT is per turn.
const (
	sttInterimIndicator = "stt_interim_segments"
	sttFinalIndicator   = "stt_final_segments"
)

type voiceSetup struct {
	stt       voice.TranscriberFactory
	tts       voice.Synthesizer
	sttDetail string
	ttsDetail string
}

func resolveVoiceProviders(cfg config.Config, metrics *observability.Metrics, logger *slog.Logger) voiceSetup {
	deepgram := voice.NewDeepgramFactory(voice.DeepgramConfig{
		APIKey:        cfg.DeepgramAPIKey,
		URL:           cfg.DeepgramWSURL,
		Model:         cfg.DeepgramModel,
		SampleRate:    cfg.STTSampleRate,
		BufferBytes:   cfg.STTBufferBytes,
		FlushInterval: cfg.STTFlushInterval,
		FinalizeGrace: cfg.STTFinalizeGrace,
	}, logger)
	if metrics != nil {
		deepgram.OnTranscript = func(_, _ string, final bool) {
			if final {
				metrics.ObserveIndicator(sttFinalIndicator)
				return
			}
			metrics.ObserveIndicator(sttInterimIndicator)
		}
	}
	setup := voiceSetup{
		stt:       deepgram,
		sttDetail: "deepgram " + cfg.DeepgramModel,
	}
	if strings.TrimSpace(cfg.DeepgramAPIKey) == "" {
		// Connect fails per utterance and the orchestrator degrades to text.
		setup.sttDetail = "deepgram (no api key, transcription disabled)"
		logger.Warn("DEEPGRAM_API_KEY not set; speech input will not be transcribed")
	}

	mock := voice.NewMockSynthesizer(cfg.STTSampleRate)
	if strings.TrimSpace(cfg.CartesiaAPIKey) == "" {
		setup.tts = mock
		setup.ttsDetail = "mock (silence)"
		logger.Warn("CARTESIA_API_KEY not set; using silent mock speech")
		return setup
	}
	cartesia := voice.NewCartesiaSynthesizer(voice.CartesiaConfig{
		APIKey:     cfg.CartesiaAPIKey,
		BaseURL:    cfg.CartesiaBaseURL,
		VoiceID:    cfg.CartesiaVoiceID,
		Model:      cfg.CartesiaModel,
		Version:    cfg.CartesiaVersion,
		SampleRate: cfg.STTSampleRate,
		MaxRetries: 2,
	}, logger)
	setup.tts = voice.NewFailoverSynthesizer(cartesia, mock, ttsRetryPrimaryAfter, metrics, logger)
	setup.ttsDetail = "cartesia " + cfg.CartesiaModel + " (mock fallback)"
	return setup
}
