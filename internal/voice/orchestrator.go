package voice

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/LEO0072003/VoiceAI/internal/agent"
	"github.com/LEO0072003/VoiceAI/internal/appointments"
	"github.com/LEO0072003/VoiceAI/internal/audio"
	"github.com/LEO0072003/VoiceAI/internal/auth"
	"github.com/LEO0072003/VoiceAI/internal/cost"
	"github.com/LEO0072003/VoiceAI/internal/llm"
	"github.com/LEO0072003/VoiceAI/internal/observability"
	"github.com/LEO0072003/VoiceAI/internal/policy"
	"github.com/LEO0072003/VoiceAI/internal/protocol"
	"github.com/LEO0072003/VoiceAI/internal/session"
	"github.com/LEO0072003/VoiceAI/internal/tools"
)

// Websocket close codes used by the voice endpoint.
const (
	CloseNormal        = 1000
	CloseGoingAway     = 1001
	ClosePolicy        = 1008
	CloseInternalError = 1011
)

const (
	ListeningText       = "I'm listening. Please continue."
	SpeechTurnErrorText = "I'm sorry, I had trouble processing that. Could you please repeat?"
	TextTurnErrorText   = "I'm sorry, I had trouble processing that."

	defaultSTTConnectTimeout = 5 * time.Second
	defaultCriticalTimeout   = 600 * time.Millisecond
	teardownTimeout          = 5 * time.Second

	// Set by Initiate; sockets presenting another caller's token are refused.
	ownerMetadataField = "owner_user_id"
)

var ErrUnknownCaller = errors.New("no user registered for contact number")

// CloseError asks the transport to close the socket with a specific code.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("close %d: %s", e.Code, e.Reason)
}

func policyViolation(reason string) error {
	return &CloseError{Code: ClosePolicy, Reason: reason}
}

// CloseCode maps a RunConnection result to a websocket close code.
func CloseCode(err error) (int, string) {
	if err == nil {
		return CloseNormal, "call ended"
	}
	var ce *CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Reason
	}
	if errors.Is(err, context.Canceled) {
		return CloseGoingAway, "server shutting down"
	}
	return CloseInternalError, "internal error"
}

type Dependencies struct {
	Sessions     *session.Store
	Appointments appointments.Store
	Auth         *auth.Validator
	Ledger       *cost.Ledger
	Agent        *agent.Loop
	LLM          llm.Provider
	STT          TranscriberFactory
	TTS          Synthesizer
	Metrics      *observability.Metrics
	Logger       *slog.Logger

	Slots      []string
	SampleRate int
	// STTConnectTimeout bounds each transcriber Connect. Zero uses 5s.
	STTConnectTimeout time.Duration
	// CriticalSendTimeout bounds how long a response frame waits for the
	// writer before it is dropped. Zero uses 600ms.
	CriticalSendTimeout time.Duration
	Clock               func() time.Time
}

// Orchestrator runs the per-connection call protocol: authenticate, stream
// audio to STT, drive the agent loop, speak replies and summarize on hang up.
type Orchestrator struct {
	sessions     *session.Store
	appointments appointments.Store
	auth         *auth.Validator
	ledger       *cost.Ledger
	agent        *agent.Loop
	llm          llm.Provider
	stt          TranscriberFactory
	tts          Synthesizer
	metrics      *observability.Metrics
	logger       *slog.Logger

	slots           []string
	sampleRate      int
	sttTimeout      time.Duration
	criticalTimeout time.Duration
	now             func() time.Time
}

func NewOrchestrator(deps Dependencies) *Orchestrator {
	o := &Orchestrator{
		sessions:        deps.Sessions,
		appointments:    deps.Appointments,
		auth:            deps.Auth,
		ledger:          deps.Ledger,
		agent:           deps.Agent,
		llm:             deps.LLM,
		stt:             deps.STT,
		tts:             deps.TTS,
		metrics:         deps.Metrics,
		logger:          deps.Logger,
		slots:           deps.Slots,
		sampleRate:      deps.SampleRate,
		sttTimeout:      deps.STTConnectTimeout,
		criticalTimeout: deps.CriticalSendTimeout,
		now:             deps.Clock,
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.sampleRate <= 0 {
		o.sampleRate = audio.DefaultSampleRate
	}
	if o.sttTimeout <= 0 {
		o.sttTimeout = defaultSTTConnectTimeout
	}
	if o.criticalTimeout <= 0 {
		o.criticalTimeout = defaultCriticalTimeout
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// connection is the state owned by one RunConnection call.
type connection struct {
	id         string
	user       appointments.User
	logger     *slog.Logger
	tools      *tools.Executor
	cost       *cost.Tracker
	stt        Transcriber
	audioStart time.Time
	outbound   chan<- any
}

// Emit implements agent.Emitter for tool progress frames.
type connEmitter struct {
	o *Orchestrator
	c *connection
}

func (e connEmitter) Emit(ctx context.Context, msg any) error {
	e.o.send(ctx, e.c.outbound, msg)
	return nil
}

// RunConnection serves one websocket connection. inbound carries raw client
// frames and is closed when the client goes away; outbound receives protocol
// messages for the writer. A nil error means a normal close, a *CloseError
// carries the close code, anything else maps to 1011.
func (o *Orchestrator) RunConnection(ctx context.Context, inbound <-chan []byte, outbound chan<- any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("voice connection panic", "panic", r)
			err = fmt.Errorf("voice connection panic: %v", r)
		}
	}()

	c, err := o.authenticate(ctx, inbound, outbound)
	if err != nil {
		o.metrics.SessionEvents.WithLabelValues("auth_failed").Inc()
		return err
	}
	if c == nil {
		return nil
	}
	defer o.teardown(c)

	if err := o.start(ctx, c); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-inbound:
			if !ok {
				c.logger.Info("client disconnected")
				o.metrics.SessionEvents.WithLabelValues("client_disconnected").Inc()
				return nil
			}
			done, err := o.dispatch(ctx, c, raw)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}
	}
}

func (o *Orchestrator) authenticate(ctx context.Context, inbound <-chan []byte, outbound chan<- any) (*connection, error) {
	var raw []byte
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case frame, ok := <-inbound:
		if !ok {
			return nil, nil
		}
		raw = frame
	}

	msg, err := protocol.ParseAuth(raw)
	if err != nil {
		o.logger.Warn("voice auth rejected", "error", err)
		return nil, policyViolation("authentication required")
	}
	contact, err := o.auth.ContactNumber(msg.Token)
	if err != nil {
		o.logger.Warn("voice auth rejected", "session_id", msg.SessionID, "error", err)
		return nil, policyViolation("invalid token")
	}
	exists, err := o.sessions.Exists(ctx, msg.SessionID)
	if err != nil {
		return nil, fmt.Errorf("check session: %w", err)
	}
	if !exists {
		o.logger.Warn("voice auth rejected: unknown session", "session_id", msg.SessionID)
		return nil, policyViolation("invalid session")
	}
	user, err := o.appointments.UserByContact(ctx, contact)
	if errors.Is(err, appointments.ErrNotFound) {
		o.logger.Warn("voice auth rejected: unknown caller", "session_id", msg.SessionID, "contact", policy.MaskContact(contact))
		return nil, policyViolation("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	var owner int64
	found, err := o.sessions.GetMetadata(ctx, msg.SessionID, ownerMetadataField, &owner)
	if err != nil {
		return nil, fmt.Errorf("load session owner: %w", err)
	}
	if found && owner != user.ID {
		o.logger.Warn("voice auth rejected: session owned by another caller", "session_id", msg.SessionID, "user_id", user.ID)
		return nil, policyViolation("session belongs to another caller")
	}

	logger := o.logger.With("session_id", msg.SessionID, "user_id", user.ID)
	c := &connection{
		id:       msg.SessionID,
		user:     user,
		logger:   logger,
		cost:     o.ledger.ForSession(msg.SessionID),
		outbound: outbound,
		tools: tools.NewExecutor(o.appointments, o.slots, user,
			tools.WithClock(o.now),
			tools.WithLogger(logger),
		),
	}
	return c, nil
}

func (o *Orchestrator) start(ctx context.Context, c *connection) error {
	if err := o.sessions.SetUser(ctx, c.id, c.user.ContactNumber, c.user.ID, c.user.Name); err != nil {
		return err
	}
	if err := o.sessions.SetWSActive(ctx, c.id, true); err != nil {
		return err
	}
	if err := o.sessions.SetStatus(ctx, c.id, session.StatusConnected); err != nil {
		return err
	}
	if err := o.sessions.InitConversation(ctx, c.id, tools.SystemPrompt(o.slots, c.user)); err != nil {
		return err
	}
	o.metrics.ActiveSessions.Inc()
	o.metrics.SessionEvents.WithLabelValues("connected").Inc()

	c.stt = o.connectTranscriber(ctx, c)
	o.send(ctx, c.outbound, protocol.Ready{
		Type:              protocol.TypeReady,
		SessionID:         c.id,
		SampleRate:        o.sampleRate,
		DeepgramConnected: c.stt.Connected(),
	})
	c.logger.Info("voice session ready", "stt_connected", c.stt.Connected())
	return nil
}

// connectTranscriber never fails: a transcriber that could not connect is
// returned disconnected and audio is only logged until the next utterance.
func (o *Orchestrator) connectTranscriber(ctx context.Context, c *connection) Transcriber {
	t := o.stt.NewTranscriber(c.id)
	connectCtx, cancel := context.WithTimeout(ctx, o.sttTimeout)
	defer cancel()
	if err := t.Connect(connectCtx); err != nil {
		c.logger.Warn("stt connect failed; continuing without transcription", "error", err)
		o.metrics.ProviderErrors.WithLabelValues("stt", "connect_failed").Inc()
	}
	return t
}

// dispatch handles one post-auth frame. done reports a finished call.
func (o *Orchestrator) dispatch(ctx context.Context, c *connection, raw []byte) (done bool, err error) {
	env, msg, err := protocol.ParseClientMessage(raw)
	if env.SessionID != c.id {
		if err == nil || errors.Is(err, protocol.ErrUnsupportedType) {
			c.logger.Debug("dropping message for another session", "type", env.Type, "message_session_id", env.SessionID)
			o.metrics.WSMessages.WithLabelValues("in", "session_mismatch").Inc()
		} else {
			c.logger.Warn("invalid client message", "error", err)
		}
		return false, nil
	}
	if err != nil {
		if errors.Is(err, protocol.ErrUnsupportedType) {
			c.logger.Warn("unknown message type", "type", env.Type)
			o.metrics.WSMessages.WithLabelValues("in", "unknown").Inc()
			return false, nil
		}
		c.logger.Warn("invalid client message", "type", env.Type, "error", err)
		return false, nil
	}
	o.metrics.WSMessages.WithLabelValues("in", string(env.Type)).Inc()

	switch m := msg.(type) {
	case protocol.AudioChunk:
		o.handleAudioChunk(ctx, c, m)
		return false, nil
	case protocol.EndOfSpeech:
		return false, o.handleEndOfSpeech(ctx, c)
	case protocol.TextInput:
		return false, o.handleTextInput(ctx, c, m)
	case protocol.EndCall:
		c.logger.Info("end_call received")
		o.finishCall(ctx, c)
		return true, nil
	default:
		return false, nil
	}
}

func (o *Orchestrator) handleAudioChunk(ctx context.Context, c *connection, m protocol.AudioChunk) {
	pcm, err := base64.StdEncoding.DecodeString(m.Data)
	if err != nil {
		c.logger.Warn("audio chunk decode failed", "chunk_number", m.ChunkNumber, "error", err)
		return
	}
	if c.audioStart.IsZero() {
		c.audioStart = o.now()
	}
	if !c.stt.Connected() {
		c.logger.Debug("audio chunk without stt", "chunk_number", m.ChunkNumber, "bytes", len(pcm))
		return
	}
	if err := c.stt.SendAudio(ctx, pcm); err != nil {
		c.logger.Warn("stt send failed", "chunk_number", m.ChunkNumber, "error", err)
	}
}

func (o *Orchestrator) handleEndOfSpeech(ctx context.Context, c *connection) error {
	turnStart := time.Now()
	if !c.audioStart.IsZero() {
		seconds := o.now().Sub(c.audioStart).Seconds()
		if err := c.cost.TrackSTT(ctx, seconds); err != nil {
			c.logger.Warn("track stt usage failed", "error", err)
		}
		c.audioStart = time.Time{}
	}

	transcript := ""
	if c.stt.Connected() {
		finishStart := time.Now()
		if err := c.stt.Finish(ctx); err != nil {
			c.logger.Warn("stt finish failed", "error", err)
		}
		transcript = strings.TrimSpace(c.stt.Transcript())
		o.metrics.ObserveTurnStage(observability.StageSTTFinalize, time.Since(finishStart))
	}
	c.logger.Info("end of speech", "transcript", redact(transcript))

	reply := ""
	shouldEnd := false
	if transcript != "" {
		if err := o.sessions.AddMessage(ctx, c.id, session.Message{Role: session.RoleUser, Content: transcript}); err != nil {
			return err
		}
		outcome, err := o.runAgent(ctx, c)
		if err != nil {
			c.logger.Error("agent turn failed", "error", err)
			reply = SpeechTurnErrorText
		} else {
			reply = outcome.Text
			shouldEnd = outcome.ShouldEnd
		}
	}
	if strings.TrimSpace(reply) == "" {
		reply = ListeningText
	}

	o.speak(ctx, c, reply, transcript, shouldEnd)
	o.metrics.ObserveTurnStage(observability.StageTurnTotal, time.Since(turnStart))
	o.replaceTranscriber(ctx, c)
	return nil
}

func (o *Orchestrator) handleTextInput(ctx context.Context, c *connection, m protocol.TextInput) error {
	text := strings.TrimSpace(m.Text)
	if text == "" {
		return nil
	}
	turnStart := time.Now()
	c.logger.Info("text input", "text", redact(text))
	if err := o.sessions.AddMessage(ctx, c.id, session.Message{Role: session.RoleUser, Content: text}); err != nil {
		return err
	}
	outcome, err := o.runAgent(ctx, c)
	if err != nil {
		c.logger.Error("agent turn failed", "error", err)
		o.send(ctx, c.outbound, protocol.AudioResponse{
			Type:           protocol.TypeAudioResponse,
			Text:           TextTurnErrorText,
			AudioFormat:    protocol.AudioFormatPCM16k,
			SampleRate:     o.sampleRate,
			Visemes:        []protocol.Viseme{},
			UserTranscript: text,
		})
		return nil
	}
	reply := outcome.Text
	if strings.TrimSpace(reply) == "" {
		reply = ListeningText
	}
	o.speak(ctx, c, reply, text, outcome.ShouldEnd)
	o.metrics.ObserveTurnStage(observability.StageTurnTotal, time.Since(turnStart))
	return nil
}

func redact(s string) string {
	out, _ := policy.RedactPII(s)
	return out
}

func (o *Orchestrator) runAgent(ctx context.Context, c *connection) (agent.Outcome, error) {
	started := time.Now()
	outcome, err := o.agent.Run(ctx, agent.Turn{
		SessionID: c.id,
		Tools:     c.tools,
		Usage:     c.cost,
		Emitter:   connEmitter{o: o, c: c},
	})
	o.metrics.ObserveTurnStage(observability.StageAgent, time.Since(started))
	return outcome, err
}

// speak synthesizes text and sends the audio_response. A synthesis failure
// still delivers the text with empty audio.
func (o *Orchestrator) speak(ctx context.Context, c *connection, text, transcript string, shouldEnd bool) {
	msg := protocol.AudioResponse{
		Type:           protocol.TypeAudioResponse,
		Text:           text,
		AudioFormat:    protocol.AudioFormatPCM16k,
		SampleRate:     o.sampleRate,
		Visemes:        []protocol.Viseme{},
		UserTranscript: transcript,
		ShouldEndCall:  shouldEnd,
	}

	started := time.Now()
	speech, err := o.tts.Synthesize(ctx, text)
	o.metrics.ObserveTurnStage(observability.StageSynthesis, time.Since(started))
	if err != nil {
		c.logger.Error("synthesis failed", "error", err)
		o.metrics.ProviderErrors.WithLabelValues(o.tts.Name(), "synthesis_failed").Inc()
	} else {
		if err := c.cost.TrackTTS(ctx, utf8.RuneCountInString(text)); err != nil {
			c.logger.Warn("track tts usage failed", "error", err)
		}
		msg.AudioData = base64.StdEncoding.EncodeToString(speech.Audio)
		msg.DurationMS = speech.DurationMS
		if speech.SampleRate > 0 {
			msg.SampleRate = speech.SampleRate
		}
		if speech.Visemes != nil {
			msg.Visemes = speech.Visemes
		}
	}
	o.send(ctx, c.outbound, msg)
}

func (o *Orchestrator) replaceTranscriber(ctx context.Context, c *connection) {
	if err := c.stt.Close(); err != nil {
		c.logger.Debug("stt close failed", "error", err)
	}
	c.stt = o.connectTranscriber(ctx, c)
}

// teardown runs on every exit after authentication, on a fresh context so a
// cancelled connection still releases its session.
func (o *Orchestrator) teardown(c *connection) {
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()

	if c.stt != nil {
		if err := c.stt.Close(); err != nil {
			c.logger.Debug("stt close failed", "error", err)
		}
	}
	if err := o.sessions.SetWSActive(ctx, c.id, false); err != nil {
		c.logger.Warn("clear ws_active failed", "error", err)
	}
	if err := o.sessions.SetStatus(ctx, c.id, session.StatusClosed); err != nil {
		c.logger.Warn("set session closed failed", "error", err)
	}
	if err := o.sessions.Remove(ctx, c.id); err != nil {
		c.logger.Warn("remove session failed", "error", err)
	}
	o.metrics.ActiveSessions.Dec()
	o.metrics.SessionEvents.WithLabelValues("closed").Inc()
	c.logger.Info("voice session closed")
}

// send queues msg for the writer. Response frames wait up to the critical
// timeout; tool progress frames are dropped when the queue is full.
func (o *Orchestrator) send(ctx context.Context, outbound chan<- any, msg any) {
	msgType, critical := outboundMessageMeta(msg)
	if !critical {
		select {
		case outbound <- msg:
			o.metrics.ObserveOutboundMessage(msgType, "delivered")
		default:
			o.metrics.ObserveOutboundMessage(msgType, "dropped")
			o.metrics.SessionEvents.WithLabelValues("outbound_drop").Inc()
		}
		return
	}

	timer := time.NewTimer(o.criticalTimeout)
	defer timer.Stop()
	select {
	case outbound <- msg:
		o.metrics.ObserveOutboundMessage(msgType, "delivered")
	case <-timer.C:
		o.metrics.ObserveOutboundMessage(msgType, "timeout")
		o.metrics.SessionEvents.WithLabelValues("outbound_drop").Inc()
	case <-ctx.Done():
		o.metrics.ObserveOutboundMessage(msgType, "cancelled")
	}
}

func outboundMessageMeta(msg any) (msgType string, critical bool) {
	switch m := msg.(type) {
	case protocol.Ready:
		return string(m.Type), true
	case protocol.AudioResponse:
		return string(m.Type), true
	case protocol.CallSummary:
		return string(m.Type), true
	case protocol.CostBreakdown:
		return string(m.Type), true
	case protocol.ToolResult:
		return string(m.Type), true
	case protocol.ToolCall:
		return string(m.Type), false
	default:
		return "unknown", false
	}
}

// Greeting is the spoken opener returned by Initiate.
type Greeting struct {
	SessionID string
	Text      string
	Speech    Speech
}

// Initiate creates a session for an authenticated caller and synthesizes
// the greeting. The caller then opens the websocket with the session id.
func (o *Orchestrator) Initiate(ctx context.Context, contact string) (Greeting, error) {
	user, err := o.appointments.UserByContact(ctx, contact)
	if errors.Is(err, appointments.ErrNotFound) {
		return Greeting{}, ErrUnknownCaller
	}
	if err != nil {
		return Greeting{}, fmt.Errorf("load user: %w", err)
	}
	sess, err := o.sessions.Create(ctx)
	if err != nil {
		return Greeting{}, err
	}
	if err := o.sessions.SetUser(ctx, sess.ID, user.ContactNumber, user.ID, user.Name); err != nil {
		return Greeting{}, err
	}
	if err := o.sessions.SetMetadata(ctx, sess.ID, ownerMetadataField, user.ID); err != nil {
		return Greeting{}, err
	}
	if err := o.sessions.SetStatus(ctx, sess.ID, session.StatusGreetReady); err != nil {
		return Greeting{}, err
	}

	text := tools.Greeting(user.Name)
	speech, err := o.tts.Synthesize(ctx, text)
	if err != nil {
		o.logger.Error("greeting synthesis failed", "session_id", sess.ID, "error", err)
		speech = Speech{SampleRate: o.sampleRate, Visemes: []protocol.Viseme{}}
	}
	o.metrics.SessionEvents.WithLabelValues("initiated").Inc()
	o.logger.Info("voice session initiated", "session_id", sess.ID, "user_id", user.ID)
	return Greeting{SessionID: sess.ID, Text: text, Speech: speech}, nil
}

// Synthesize exposes the configured synthesizer for previews.
func (o *Orchestrator) Synthesize(ctx context.Context, text string) (Speech, error) {
	return o.tts.Synthesize(ctx, text)
}

// Costs returns the live cost breakdown of a session.
func (o *Orchestrator) Costs(ctx context.Context, sessionID string) (cost.Breakdown, error) {
	return o.ledger.ForSession(sessionID).Breakdown(ctx)
}

// Ready reports whether the session store is reachable.
func (o *Orchestrator) Ready(ctx context.Context) error {
	return o.sessions.Ping(ctx)
}
