package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// GroqProvider talks to Groq's OpenAI-compatible chat completions endpoint.
type GroqProvider struct {
	client  *openai.Client
	model   string
	limiter *rate.Limiter
}

func NewGroqProvider(apiKey, baseURL, model string, requestsPerMinute int) *GroqProvider {
	cfg := openai.DefaultConfig(apiKey)
	if strings.TrimSpace(baseURL) != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &GroqProvider{
		client:  openai.NewClientWithConfig(cfg),
		model:   model,
		limiter: newRequestLimiter(requestsPerMinute),
	}
}

// newRequestLimiter paces calls below the account's per-minute quota. A
// non-positive rate disables pacing.
func newRequestLimiter(requestsPerMinute int) *rate.Limiter {
	if requestsPerMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := min(requestsPerMinute, 5)
	return rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60), burst)
}

func (p *GroqProvider) Name() string { return "groq" }

func (p *GroqProvider) Generate(ctx context.Context, req Request) (Response, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return Response{}, fmt.Errorf("groq pacing: %w", err)
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    toOpenAIMessages(req.Messages),
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = toOpenAITools(req.Tools)
		chatReq.ToolChoice = "auto"
	}

	start := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
			return Response{}, fmt.Errorf("groq chat completion: %w: %v", ErrRateLimited, err)
		}
		return Response{}, fmt.Errorf("groq chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, errors.New("groq chat completion: no choices in response")
	}

	msg := resp.Choices[0].Message
	out := Response{
		Content: msg.Content,
		Model:   resp.Model,
		Latency: time.Since(start),
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	for _, call := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: decodeArguments(call.Function.Arguments),
		})
	}
	return out, nil
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msg := openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		}
		switch m.Role {
		case RoleAssistant:
			for _, call := range m.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   call.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      call.Name,
						Arguments: encodeArguments(call.Arguments),
					},
				})
			}
		case RoleTool:
			msg.ToolCallID = m.ToolCallID
			msg.Name = m.Name
		}
		out = append(out, msg)
	}
	return out
}

func toOpenAITools(tools []Tool) []openai.Tool {
	out := make([]openai.Tool, len(tools))
	for i, t := range tools {
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		}
	}
	return out
}
