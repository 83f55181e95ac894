package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LEO0072003/VoiceAI/internal/config"
	"github.com/LEO0072003/VoiceAI/internal/observability"
)

var testTools = []Tool{{
	Name:        "fetch_slots",
	Description: "Fetch available appointment slots",
	Parameters:  json.RawMessage(`{"type":"object","properties":{"date":{"type":"string"}},"required":["date"]}`),
}}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubProvider struct {
	name  string
	resp  Response
	err   error
	calls int
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Generate(context.Context, Request) (Response, error) {
	s.calls++
	return s.resp, s.err
}

func TestMockRequestsSlotsOnlyForFreshUserTurn(t *testing.T) {
	p := NewMockProvider()
	ctx := context.Background()

	resp, err := p.Generate(ctx, Request{
		Tools:    testTools,
		Messages: []Message{{Role: RoleSystem, Content: "prompt"}, {Role: RoleUser, Content: "Can you check what's open?"}},
	})
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "fetch_slots", resp.ToolCalls[0].Name)
	assert.Equal(t, map[string]any{"date": "today"}, resp.ToolCalls[0].Arguments)
	assert.Positive(t, resp.Usage.InputTokens)

	resp, err = p.Generate(ctx, Request{
		Tools: testTools,
		Messages: []Message{
			{Role: RoleUser, Content: "Can you check what's open?"},
			{Role: RoleAssistant, ToolCalls: resp.ToolCalls},
			{Role: RoleTool, Content: `{"success":true}`, ToolCallID: resp.ToolCalls[0].ID, Name: "fetch_slots"},
		},
	})
	require.NoError(t, err)
	assert.Empty(t, resp.ToolCalls)
	assert.NotEmpty(t, resp.Content)
}

func TestMockKeywordResponses(t *testing.T) {
	p := NewMockProvider()
	resp, err := p.Generate(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "I want to book something"}}})
	require.NoError(t, err)
	assert.Contains(t, resp.Content, "book an appointment")

	resp, err = p.Generate(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "bye for now"}}})
	require.NoError(t, err)
	assert.Contains(t, resp.Content, "Goodbye")

	// Keywords match whole words: "this" is not a greeting.
	resp, err = p.Generate(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "is this thing on"}}})
	require.NoError(t, err)
	assert.NotContains(t, resp.Content, "Hello!")

	resp, err = p.Generate(context.Background(), Request{Messages: []Message{
		{Role: RoleSystem, Content: "You are summarizing a voice call between an AI assistant and a user."},
		{Role: RoleUser, Content: "Please summarize this conversation"},
	}})
	require.NoError(t, err)
	assert.Contains(t, resp.Content, "appointment")
}

func TestFallbackOnlyOnRateLimit(t *testing.T) {
	metrics := observability.NewMetricsWith(prometheus.NewRegistry(), "test")
	fallback := &stubProvider{name: "mock", resp: Response{Content: "from fallback"}}

	limited := &stubProvider{name: "groq", err: errors.New("error, status code: 429, message: Rate limit reached")}
	p := NewFallbackProvider(limited, fallback, metrics, discardLogger())
	resp, err := p.Generate(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "from fallback", resp.Content)
	assert.Equal(t, 1, fallback.calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.LLMFallbacks.WithLabelValues("groq")))

	broken := &stubProvider{name: "gemini", err: errors.New("invalid argument")}
	p = NewFallbackProvider(broken, fallback, metrics, discardLogger())
	_, err = p.Generate(context.Background(), Request{})
	require.Error(t, err)
	assert.Equal(t, 1, fallback.calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ProviderErrors.WithLabelValues("gemini", "error")))
}

func TestGroqProviderToolCalls(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer gsk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "llama-3.3-70b-versatile",
			"choices": [{
				"index": 0,
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "fetch_slots", "arguments": "{\"date\":\"2026-01-22\"}"}}]
				},
				"finish_reason": "tool_calls"
			}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 7, "total_tokens": 19}
		}`)
	}))
	defer srv.Close()

	p := NewGroqProvider("gsk-test", srv.URL, "llama-3.3-70b-versatile", 0)
	resp, err := p.Generate(context.Background(), Request{
		Messages: []Message{
			{Role: RoleSystem, Content: "prompt"},
			{Role: RoleUser, Content: "slots tomorrow?"},
		},
		Tools:       testTools,
		Temperature: 0.7,
		MaxTokens:   500,
	})
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, ToolCall{ID: "call_1", Name: "fetch_slots", Arguments: map[string]any{"date": "2026-01-22"}}, resp.ToolCalls[0])
	assert.Equal(t, Usage{InputTokens: 12, OutputTokens: 7}, resp.Usage)

	assert.Equal(t, "auto", got["tool_choice"])
	assert.EqualValues(t, 500, got["max_tokens"])
	tools, _ := got["tools"].([]any)
	assert.Len(t, tools, 1)
}

func TestGroqProviderRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"message":"Rate limit reached","type":"tokens","code":"rate_limit_exceeded"}}`)
	}))
	defer srv.Close()

	p := NewGroqProvider("gsk-test", srv.URL, "llama", 0)
	_, err := p.Generate(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.True(t, IsRateLimited(err))
}

func TestToGeminiContents(t *testing.T) {
	contents, system := toGeminiContents([]Message{
		{Role: RoleSystem, Content: "be helpful"},
		{Role: RoleUser, Content: "slots?"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c1", Name: "fetch_slots", Arguments: map[string]any{"date": "today"}}}},
		{Role: RoleTool, ToolCallID: "c1", Name: "fetch_slots", Content: `{"success":true}`},
		{Role: RoleAssistant, Content: "We have 9am."},
	})
	require.NotNil(t, system)
	assert.Equal(t, "be helpful", system.Parts[0].Text)
	require.Len(t, contents, 4)
	assert.Equal(t, "user", contents[0].Role)
	assert.Equal(t, "model", contents[1].Role)
	assert.Equal(t, "fetch_slots", contents[1].Parts[0].FunctionCall.Name)
	assert.Equal(t, "fetch_slots", contents[2].Parts[0].FunctionResponse.Name)
	assert.Equal(t, true, contents[2].Parts[0].FunctionResponse.Response["success"])
	assert.Equal(t, "We have 9am.", contents[3].Parts[0].Text)
}

func TestNewProviderResolution(t *testing.T) {
	metrics := observability.NewMetricsWith(prometheus.NewRegistry(), "test")
	ctx := context.Background()

	p, err := NewProvider(ctx, config.Config{LLMProvider: "auto"}, metrics, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, "mock", p.Name())

	p, err = NewProvider(ctx, config.Config{LLMProvider: "auto", GroqAPIKey: "gsk"}, metrics, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, "groq", p.Name())
	assert.IsType(t, &FallbackProvider{}, p)

	_, err = NewProvider(ctx, config.Config{LLMProvider: "groq"}, metrics, discardLogger())
	assert.Error(t, err)

	_, err = NewProvider(ctx, config.Config{LLMProvider: "claude"}, metrics, discardLogger())
	assert.Error(t, err)
}
