package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/LEO0072003/VoiceAI/internal/audio"
)

const maxPreviewChars = 1000

type previewTTSRequest struct {
	Text string `json:"text"`
}

// handlePreviewTTS renders text through the configured synthesizer and
// returns it as a WAV file.
func (s *Server) handlePreviewTTS(w http.ResponseWriter, r *http.Request) {
	var req previewTTSRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "text is required")
		return
	}
	if len([]rune(text)) > maxPreviewChars {
		respondError(w, http.StatusRequestEntityTooLarge, "text_too_long", "preview text is limited to 1000 characters")
		return
	}

	speech, err := s.orchestrator.Synthesize(r.Context(), text)
	if err != nil {
		respondError(w, http.StatusBadGateway, "tts_preview_failed", err.Error())
		return
	}
	wav, err := audio.EncodeWAVPCM16LE(speech.Audio, speech.SampleRate)
	if err != nil {
		respondError(w, http.StatusBadGateway, "tts_preview_failed", err.Error())
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(wav)
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		respondJSON(w, http.StatusOK, map[string]any{"window_size": 0, "stages": []any{}})
		return
	}
	respondJSON(w, http.StatusOK, s.metrics.SnapshotTurnStages())
}
