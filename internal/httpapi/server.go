package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/LEO0072003/VoiceAI/internal/auth"
	"github.com/LEO0072003/VoiceAI/internal/config"
	"github.com/LEO0072003/VoiceAI/internal/cost"
	"github.com/LEO0072003/VoiceAI/internal/observability"
	"github.com/LEO0072003/VoiceAI/internal/protocol"
	"github.com/LEO0072003/VoiceAI/internal/voice"
)

type Orchestrator interface {
	RunConnection(ctx context.Context, inbound <-chan []byte, outbound chan<- any) error
	Initiate(ctx context.Context, contact string) (voice.Greeting, error)
	Synthesize(ctx context.Context, text string) (voice.Speech, error)
	Costs(ctx context.Context, sessionID string) (cost.Breakdown, error)
	Ready(ctx context.Context) error
}

type Server struct {
	cfg          config.Config
	orchestrator Orchestrator
	auth         *auth.Validator
	metrics      *observability.Metrics
	logger       *slog.Logger
	upgrader     websocket.Upgrader
}

func New(cfg config.Config, orchestrator Orchestrator, validator *auth.Validator, metrics *observability.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:          cfg,
		orchestrator: orchestrator,
		auth:         validator,
		metrics:      metrics,
		logger:       logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Route("/api/voice", func(r chi.Router) {
		r.Post("/initiate", s.handleInitiate)
		r.Get("/costs/{session_id}", s.handleCosts)
		r.Post("/tts/preview", s.handlePreviewTTS)
		r.Get("/perf/latency", s.handlePerfLatency)
	})
	r.Get("/ws/voice", s.handleVoiceWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.orchestrator.Ready(ctx); err != nil {
		respondError(w, http.StatusServiceUnavailable, "not_ready", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

type initiateResponse struct {
	SessionID           string            `json:"session_id"`
	GreetingText        string            `json:"greeting_text"`
	GreetingAudioData   string            `json:"greeting_audio_data"`
	GreetingAudioFormat string            `json:"greeting_audio_format"`
	GreetingSampleRate  int               `json:"greeting_sample_rate"`
	GreetingDurationMS  int               `json:"greeting_duration_ms"`
	GreetingVisemes     []protocol.Viseme `json:"greeting_visemes"`
}

func (s *Server) handleInitiate(w http.ResponseWriter, r *http.Request) {
	contact, ok := s.bearerContact(w, r)
	if !ok {
		return
	}
	greeting, err := s.orchestrator.Initiate(r.Context(), contact)
	if errors.Is(err, voice.ErrUnknownCaller) {
		respondError(w, http.StatusUnauthorized, "unauthorized", "Could not validate credentials")
		return
	}
	if err != nil {
		s.logger.Error("initiate call failed", "error", err)
		respondError(w, http.StatusInternalServerError, "initiate_failed", "could not start voice session")
		return
	}

	visemes := greeting.Speech.Visemes
	if visemes == nil {
		visemes = []protocol.Viseme{}
	}
	respondJSON(w, http.StatusOK, initiateResponse{
		SessionID:           greeting.SessionID,
		GreetingText:        greeting.Text,
		GreetingAudioData:   base64.StdEncoding.EncodeToString(greeting.Speech.Audio),
		GreetingAudioFormat: protocol.AudioFormatPCM16k,
		GreetingSampleRate:  greeting.Speech.SampleRate,
		GreetingDurationMS:  greeting.Speech.DurationMS,
		GreetingVisemes:     visemes,
	})
}

func (s *Server) bearerContact(w http.ResponseWriter, r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		w.Header().Set("WWW-Authenticate", "Bearer")
		respondError(w, http.StatusUnauthorized, "unauthorized", "Not authenticated")
		return "", false
	}
	contact, err := s.auth.ContactNumber(strings.TrimSpace(token))
	if err != nil {
		w.Header().Set("WWW-Authenticate", "Bearer")
		respondError(w, http.StatusUnauthorized, "unauthorized", "Could not validate credentials")
		return "", false
	}
	return contact, true
}

func (s *Server) handleCosts(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "session_id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}
	breakdown, err := s.orchestrator.Costs(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "costs_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, breakdown)
}

func (s *Server) handleVoiceWS(w http.ResponseWriter, r *http.Request) {
	if s.orchestrator == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "orchestrator not configured")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan []byte, 64)
	outbound := make(chan any, 256)

	var runErr error
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		runErr = s.orchestrator.RunConnection(ctx, inbound, outbound)
	}()

	// The writer drains outbound until the orchestrator closes it, even after
	// a failed write, so sends never block on a dead socket.
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		failed := false
		for msg := range outbound {
			if failed {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				s.metrics.WSWriteErrors.WithLabelValues("write_json").Inc()
				failed = true
				cancel()
				continue
			}
			if t, ok := messageTypeOf(msg); ok {
				s.metrics.WSMessages.WithLabelValues("out", string(t)).Inc()
			}
		}
	}()

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		defer close(inbound)
		conn.SetReadLimit(2 << 20)
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		conn.SetPongHandler(func(string) error {
			_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
			return nil
		})
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
			if msgType != websocket.TextMessage {
				continue
			}
			select {
			case <-ctx.Done():
				return
			case inbound <- data:
			}
		}
	}()

	<-runDone
	close(outbound)
	<-writerDone

	code, reason := voice.CloseCode(runErr)
	if code == voice.CloseInternalError {
		s.logger.Error("voice connection failed", "error", runErr)
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	cancel()
	_ = conn.Close()
	<-readerDone
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.Ready:
		return m.Type, true
	case protocol.ToolCall:
		return m.Type, true
	case protocol.ToolResult:
		return m.Type, true
	case protocol.AudioResponse:
		return m.Type, true
	case protocol.CallSummary:
		return m.Type, true
	case protocol.CostBreakdown:
		return m.Type, true
	default:
		return "", false
	}
}
