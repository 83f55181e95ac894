package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LEO0072003/VoiceAI/internal/appointments"
	"github.com/LEO0072003/VoiceAI/internal/config"
	"github.com/LEO0072003/VoiceAI/internal/llm"
	"github.com/LEO0072003/VoiceAI/internal/observability"
	"github.com/LEO0072003/VoiceAI/internal/protocol"
	"github.com/LEO0072003/VoiceAI/internal/session"
	"github.com/LEO0072003/VoiceAI/internal/tools"
)

// scriptedProvider replays responses in order and repeats the last one.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []llm.Response
	err       error
	requests  []llm.Request
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Generate(_ context.Context, req llm.Request) (llm.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.err != nil {
		return llm.Response{}, p.err
	}
	i := min(len(p.requests)-1, len(p.responses)-1)
	return p.responses[i], nil
}

type recordingEmitter struct {
	msgs []any
}

func (e *recordingEmitter) Emit(_ context.Context, msg any) error {
	e.msgs = append(e.msgs, msg)
	return nil
}

type usageCounter struct {
	calls, in, out int
}

func (u *usageCounter) TrackLLM(_ context.Context, in, out int) error {
	u.calls++
	u.in += in
	u.out += out
	return nil
}

type harness struct {
	store    *session.Store
	executor *tools.Executor
	emitter  *recordingEmitter
	usage    *usageCounter
	metrics  *observability.Metrics
}

const testSession = "sess_0123456789ab"

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := session.NewStore(client, time.Hour, 100)
	ctx := context.Background()
	require.NoError(t, store.InitConversation(ctx, testSession, "system prompt"))
	require.NoError(t, store.AddMessage(ctx, testSession, session.Message{Role: session.RoleUser, Content: "what's free tomorrow?"}))

	appts := appointments.NewInMemoryStore()
	user, err := appts.CreateUser(ctx, appointments.User{Name: "Ada", ContactNumber: "1111111111"})
	require.NoError(t, err)
	now := time.Date(2026, time.January, 21, 10, 0, 0, 0, time.UTC)

	return &harness{
		store:    store,
		executor: tools.NewExecutor(appts, config.DefaultSlots, user, tools.WithClock(func() time.Time { return now })),
		emitter:  &recordingEmitter{},
		usage:    &usageCounter{},
		metrics:  observability.NewMetricsWith(prometheus.NewRegistry(), "test"),
	}
}

func (h *harness) run(t *testing.T, provider llm.Provider, maxIterations int) (Outcome, error) {
	t.Helper()
	loop := NewLoop(provider, h.store, Config{MaxIterations: maxIterations, Temperature: 0.7, MaxTokens: 500}, h.metrics,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	return loop.Run(context.Background(), Turn{
		SessionID: testSession,
		Tools:     h.executor,
		Usage:     h.usage,
		Emitter:   h.emitter,
	})
}

func TestRunStructuredToolCallThenAnswer(t *testing.T) {
	h := newHarness(t)
	provider := &scriptedProvider{responses: []llm.Response{
		{
			ToolCalls: []llm.ToolCall{{ID: "call_1", Name: "fetch_slots", Arguments: map[string]any{"date": "tomorrow"}}},
			Usage:     llm.Usage{InputTokens: 100, OutputTokens: 10},
		},
		{Content: "We have **nine** AM open.", Usage: llm.Usage{InputTokens: 150, OutputTokens: 12}},
	}}

	out, err := h.run(t, provider, 10)
	require.NoError(t, err)
	assert.Equal(t, "We have nine AM open.", out.Text)
	assert.False(t, out.ShouldEnd)
	assert.Equal(t, 2, out.Iterations)
	assert.Equal(t, usageCounter{calls: 2, in: 250, out: 22}, *h.usage)

	for _, req := range provider.requests {
		assert.Equal(t, 0.7, req.Temperature)
		assert.Equal(t, 500, req.MaxTokens)
		assert.Len(t, req.Tools, len(tools.Definitions()))
	}

	require.Len(t, h.emitter.msgs, 2)
	call := h.emitter.msgs[0].(protocol.ToolCall)
	assert.Equal(t, "in_progress", call.Status)
	assert.Equal(t, "Executing fetch_slots...", call.Message)
	result := h.emitter.msgs[1].(protocol.ToolResult)
	assert.Equal(t, "success", result.Status)
	assert.Equal(t, "call_1", result.ToolCallID)

	history, err := h.store.Conversation(context.Background(), testSession)
	require.NoError(t, err)
	require.Len(t, history, 5)
	assert.Equal(t, session.RoleAssistant, history[2].Role)
	require.Len(t, history[2].ToolCalls, 1)
	assert.Equal(t, session.RoleTool, history[3].Role)
	assert.Equal(t, "call_1", history[3].ToolCallID)
	assert.Contains(t, history[3].Content, `"date":"2026-01-22"`)
	assert.Equal(t, "We have nine AM open.", history[4].Content)
}

func TestRunExecutesInlineToolCall(t *testing.T) {
	h := newHarness(t)
	provider := &scriptedProvider{responses: []llm.Response{
		{Content: `Let me look. <function=fetch_slots>{"date":"2026-01-22"}</function>`},
		{Content: "Everything is open."},
	}}

	out, err := h.run(t, provider, 10)
	require.NoError(t, err)
	assert.Equal(t, "Everything is open.", out.Text)

	require.Len(t, h.emitter.msgs, 2)
	result := h.emitter.msgs[1].(protocol.ToolResult)
	assert.Equal(t, "fetch_slots", result.Tool)
	assert.Equal(t, "success", result.Status)

	history, err := h.store.Conversation(context.Background(), testSession)
	require.NoError(t, err)
	assert.Equal(t, "Let me look.", history[2].Content)
	assert.Equal(t, "fetch_slots", history[2].ToolCalls[0].Name)
}

func TestRunStopsAtIterationCap(t *testing.T) {
	h := newHarness(t)
	provider := &scriptedProvider{responses: []llm.Response{{
		ToolCalls: []llm.ToolCall{{ID: "call_x", Name: "fetch_slots", Arguments: map[string]any{"date": "today"}}},
	}}}

	out, err := h.run(t, provider, 5)
	require.NoError(t, err)
	assert.Equal(t, IterationCapText, out.Text)
	assert.False(t, out.ShouldEnd)
	assert.Len(t, provider.requests, 5)
	assert.Equal(t, 5, h.usage.calls)
}

func TestRunIterationCapKeepsShouldEnd(t *testing.T) {
	h := newHarness(t)
	provider := &scriptedProvider{responses: []llm.Response{
		{ToolCalls: []llm.ToolCall{{ID: "call_end", Name: "end_conversation", Arguments: map[string]any{}}}},
		{ToolCalls: []llm.ToolCall{{ID: "call_x", Name: "fetch_slots", Arguments: map[string]any{"date": "today"}}}},
	}}

	out, err := h.run(t, provider, 5)
	require.NoError(t, err)
	assert.Equal(t, IterationCapText, out.Text)
	assert.True(t, out.ShouldEnd)
	assert.Equal(t, 5, out.Iterations)
}

func TestRunEndConversationSetsShouldEnd(t *testing.T) {
	h := newHarness(t)
	provider := &scriptedProvider{responses: []llm.Response{
		{ToolCalls: []llm.ToolCall{{ID: "call_end", Name: "end_conversation", Arguments: map[string]any{}}}},
		{Content: "Goodbye!"},
	}}

	out, err := h.run(t, provider, 10)
	require.NoError(t, err)
	assert.True(t, out.ShouldEnd)
	assert.Equal(t, "Goodbye!", out.Text)
}

func TestRunFailedToolReportsError(t *testing.T) {
	h := newHarness(t)
	provider := &scriptedProvider{responses: []llm.Response{
		{ToolCalls: []llm.ToolCall{{ID: "call_c", Name: "cancel_appointment", Arguments: map[string]any{"appointment_id": "999"}}}},
		{Content: "I couldn't find that one."},
	}}

	_, err := h.run(t, provider, 10)
	require.NoError(t, err)
	result := h.emitter.msgs[1].(protocol.ToolResult)
	assert.Equal(t, "error", result.Status)
	assert.Equal(t, "Appointment 999 not found.", result.Result.(tools.Result)["error"])
}

func TestRunEmptyAnswer(t *testing.T) {
	h := newHarness(t)
	out, err := h.run(t, &scriptedProvider{responses: []llm.Response{{Content: "  "}}}, 10)
	require.NoError(t, err)
	assert.Equal(t, EmptyResponseText, out.Text)
}

func TestRunPropagatesProviderError(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t, &scriptedProvider{err: errors.New("boom")}, 10)
	require.Error(t, err)
	assert.Zero(t, h.usage.calls)
}
