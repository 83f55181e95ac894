package llm

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/LEO0072003/VoiceAI/internal/reliability"
)

// ErrRateLimited marks provider errors caused by quota or request-rate limits.
var ErrRateLimited = errors.New("llm rate limited")

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// Message is one chat turn. Assistant turns may carry ToolCalls; tool turns
// carry the ToolCallID and tool Name they answer.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
	Name       string
}

// Tool is a function declaration offered to the model. Parameters is a JSON
// Schema object.
type Tool struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

type Request struct {
	Messages    []Message
	Tools       []Tool
	Temperature float64
	MaxTokens   int
}

type Usage struct {
	InputTokens  int
	OutputTokens int
}

type Response struct {
	Content   string
	ToolCalls []ToolCall
	Usage     Usage
	Model     string
	Latency   time.Duration
}

type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (Response, error)
}

// IsRateLimited reports whether err came from a provider quota or rate limit.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrRateLimited) || reliability.IsRateLimitError(err)
}

func decodeArguments(raw string) map[string]any {
	args := map[string]any{}
	if raw == "" {
		return args
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil || args == nil {
		return map[string]any{}
	}
	return args
}

func encodeArguments(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(data)
}
