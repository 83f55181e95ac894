package llm

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

var mockConversationResponses = []string{
	"I understand. Let me help you with that.",
	"Of course! I'd be happy to assist you.",
	"I can help you schedule an appointment. What time works best for you?",
	"Let me check the available slots for you.",
	"Thank you for that information. Is there anything else you need?",
}

var mockSummaryResponses = []string{
	"Call Summary: The user inquired about scheduling. Key points discussed include availability and preferences.",
	"Session Recap: A productive conversation about appointment booking.",
}

// MockProvider answers from keyword rules. It serves keyless local runs, tests
// and rate-limit fallback.
type MockProvider struct {
	calls atomic.Int64
}

func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

func (p *MockProvider) Name() string { return "mock" }

func (p *MockProvider) Generate(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	start := time.Now()
	n := p.calls.Add(1)

	lastUser := ""
	lastIsUser := false
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == RoleUser {
			lastUser = strings.ToLower(req.Messages[i].Content)
			lastIsUser = i == len(req.Messages)-1
			break
		}
	}
	words := strings.FieldsFunc(lastUser, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	has := func(keys ...string) bool {
		for _, w := range words {
			for _, k := range keys {
				if w == k {
					return true
				}
			}
		}
		return false
	}

	var content string
	switch {
	case isSummaryRequest(req.Messages) || strings.Contains(lastUser, "summar"):
		content = mockSummaryResponses[int(n)%len(mockSummaryResponses)]
	case has("book", "schedule", "appointment"):
		content = "I can help you book an appointment. We have slots available at 2 PM and 3 PM today. Which would you prefer?"
	case has("time", "when"):
		content = "I have the following times available: 10 AM, 2 PM, and 4 PM. Would any of these work for you?"
	case has("yes", "confirm"):
		content = "Great! I've confirmed your appointment. You'll receive a confirmation shortly."
	case has("no", "cancel"):
		content = "No problem. Let me know if you'd like to explore other options."
	case has("hello", "hi", "hey"):
		content = "Hello! I'm your AI assistant. How can I help you today?"
	case has("bye", "thanks", "thank"):
		content = "You're welcome! Have a great day. Goodbye!"
	default:
		content = mockConversationResponses[int(n)%len(mockConversationResponses)]
	}

	resp := Response{Content: content, Model: "mock"}
	// Tool requests only answer a fresh user turn so the agent loop converges
	// once the tool result is in history.
	if len(req.Tools) > 0 && lastIsUser && has("check", "find", "search") {
		resp.ToolCalls = []ToolCall{{
			ID:        fmt.Sprintf("call_%d", n),
			Name:      "fetch_slots",
			Arguments: map[string]any{"date": "today"},
		}}
	}

	promptWords := 0
	for _, m := range req.Messages {
		promptWords += len(strings.Fields(m.Content))
	}
	resp.Usage = Usage{
		InputTokens:  promptWords * 2,
		OutputTokens: len(strings.Fields(content)) * 2,
	}
	resp.Latency = time.Since(start)
	return resp, nil
}

func isSummaryRequest(messages []Message) bool {
	for _, m := range messages {
		if m.Role == RoleSystem && strings.Contains(strings.ToLower(m.Content), "summarizing a voice call") {
			return true
		}
	}
	return false
}
