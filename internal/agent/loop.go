package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/LEO0072003/VoiceAI/internal/llm"
	"github.com/LEO0072003/VoiceAI/internal/observability"
	"github.com/LEO0072003/VoiceAI/internal/protocol"
	"github.com/LEO0072003/VoiceAI/internal/session"
	"github.com/LEO0072003/VoiceAI/internal/tools"
)

const (
	DefaultMaxIterations = 10
	DefaultTemperature   = 0.7
	DefaultMaxTokens     = 500

	EmptyResponseText = "I'm sorry, I couldn't generate a response."
	IterationCapText  = "I apologize, but I'm having trouble processing your request. Could you please try again?"
)

// History is the slice of the session store the loop reads and appends to.
type History interface {
	Conversation(ctx context.Context, id string) ([]session.Message, error)
	AddMessage(ctx context.Context, id string, msg session.Message) error
}

type ToolRunner interface {
	Execute(ctx context.Context, name string, args map[string]any) tools.Result
}

type UsageRecorder interface {
	TrackLLM(ctx context.Context, inputTokens, outputTokens int) error
}

// Emitter delivers tool progress frames to the client.
type Emitter interface {
	Emit(ctx context.Context, msg any) error
}

type Config struct {
	MaxIterations int
	Temperature   float64
	MaxTokens     int
}

// Loop drives one user turn through the LLM until it answers in text, asks
// to end the call, or runs out of iterations.
type Loop struct {
	provider llm.Provider
	history  History
	tools    []llm.Tool
	cfg      Config
	metrics  *observability.Metrics
	logger   *slog.Logger
}

func NewLoop(provider llm.Provider, history History, cfg Config, metrics *observability.Metrics, logger *slog.Logger) *Loop {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if logger == nil {
		logger = slog.Default()
	}
	defs := tools.Definitions()
	specs := make([]llm.Tool, len(defs))
	for i, d := range defs {
		specs[i] = llm.Tool{Name: d.Name, Description: d.Description, Parameters: d.Parameters}
	}
	return &Loop{
		provider: provider,
		history:  history,
		tools:    specs,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger,
	}
}

// Turn binds one Run to a session and its collaborators.
type Turn struct {
	SessionID string
	Tools     ToolRunner
	Usage     UsageRecorder
	Emitter   Emitter
}

type Outcome struct {
	Text       string
	ShouldEnd  bool
	Iterations int
}

// Run expects the user's message to already be in history.
func (l *Loop) Run(ctx context.Context, turn Turn) (Outcome, error) {
	if turn.Tools == nil {
		return Outcome{}, errors.New("agent turn has no tool runner")
	}
	logger := l.logger.With("session_id", turn.SessionID)
	shouldEnd := false

	for iteration := 1; iteration <= l.cfg.MaxIterations; iteration++ {
		history, err := l.history.Conversation(ctx, turn.SessionID)
		if err != nil {
			return Outcome{}, fmt.Errorf("load conversation: %w", err)
		}

		resp, err := l.provider.Generate(ctx, llm.Request{
			Messages:    toLLMMessages(history),
			Tools:       l.tools,
			Temperature: l.cfg.Temperature,
			MaxTokens:   l.cfg.MaxTokens,
		})
		if err != nil {
			return Outcome{}, fmt.Errorf("llm generate (iteration %d): %w", iteration, err)
		}
		if turn.Usage != nil {
			if err := turn.Usage.TrackLLM(ctx, resp.Usage.InputTokens, resp.Usage.OutputTokens); err != nil {
				logger.Warn("track llm usage failed", "error", err)
			}
		}

		content := resp.Content
		calls := resp.ToolCalls
		if len(calls) == 0 {
			if clean, parsed := ParseInlineToolCalls(content); len(parsed) > 0 {
				logger.Info("parsed inline tool calls", "count", len(parsed))
				content, calls = clean, parsed
			}
		}

		if len(calls) == 0 {
			text := CleanForSpeech(content)
			if text == "" {
				text = EmptyResponseText
			}
			if err := l.history.AddMessage(ctx, turn.SessionID, session.Message{Role: session.RoleAssistant, Content: text}); err != nil {
				return Outcome{}, fmt.Errorf("append assistant message: %w", err)
			}
			l.observeIterations(iteration)
			return Outcome{Text: text, ShouldEnd: shouldEnd, Iterations: iteration}, nil
		}

		records := make([]session.ToolCallRecord, len(calls))
		for i, call := range calls {
			records[i] = session.ToolCallRecord{ID: call.ID, Name: call.Name, Arguments: call.Arguments}
		}
		if err := l.history.AddMessage(ctx, turn.SessionID, session.Message{
			Role:      session.RoleAssistant,
			Content:   content,
			ToolCalls: records,
		}); err != nil {
			return Outcome{}, fmt.Errorf("append tool call message: %w", err)
		}

		for _, call := range calls {
			if l.runTool(ctx, logger, turn, call) {
				shouldEnd = true
			}
		}
	}

	logger.Warn("agent iteration cap reached", "max_iterations", l.cfg.MaxIterations)
	l.observeIterations(l.cfg.MaxIterations)
	if l.metrics != nil {
		l.metrics.ObserveIndicator("agent_iteration_cap")
	}
	return Outcome{Text: IterationCapText, ShouldEnd: shouldEnd, Iterations: l.cfg.MaxIterations}, nil
}

// runTool executes one call and records it. It reports whether the call was
// end_conversation.
func (l *Loop) runTool(ctx context.Context, logger *slog.Logger, turn Turn, call llm.ToolCall) bool {
	l.emit(ctx, logger, turn.Emitter, protocol.ToolCall{
		Type:       protocol.TypeToolCall,
		Tool:       call.Name,
		ToolCallID: call.ID,
		Arguments:  call.Arguments,
		Status:     "in_progress",
		Message:    fmt.Sprintf("Executing %s...", call.Name),
	})

	start := time.Now()
	result := turn.Tools.Execute(ctx, call.Name, call.Arguments)
	status := "error"
	if result.Success() {
		status = "success"
	}
	logger.Info("tool call finished",
		"tool", call.Name,
		"tool_call_id", call.ID,
		"status", status,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	if l.metrics != nil {
		l.metrics.ToolCalls.WithLabelValues(call.Name, status).Inc()
	}

	l.emit(ctx, logger, turn.Emitter, protocol.ToolResult{
		Type:       protocol.TypeToolResult,
		Tool:       call.Name,
		ToolCallID: call.ID,
		Status:     status,
		Result:     result,
	})

	if err := l.history.AddMessage(ctx, turn.SessionID, session.Message{
		Role:       session.RoleTool,
		Content:    result.JSON(),
		ToolCallID: call.ID,
		Name:       call.Name,
	}); err != nil {
		logger.Warn("append tool result failed", "tool", call.Name, "error", err)
	}
	return call.Name == string(tools.KindEndConversation)
}

func (l *Loop) emit(ctx context.Context, logger *slog.Logger, emitter Emitter, msg any) {
	if emitter == nil {
		return
	}
	if err := emitter.Emit(ctx, msg); err != nil {
		logger.Debug("tool progress not delivered", "error", err)
	}
}

func (l *Loop) observeIterations(n int) {
	if l.metrics == nil {
		return
	}
	l.metrics.AgentIterations.Observe(float64(n))
}

func toLLMMessages(history []session.Message) []llm.Message {
	out := make([]llm.Message, 0, len(history))
	for _, m := range history {
		msg := llm.Message{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}
		for _, call := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{ID: call.ID, Name: call.Name, Arguments: call.Arguments})
		}
		out = append(out, msg)
	}
	return out
}
