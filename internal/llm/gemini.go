package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"
)

type GeminiProvider struct {
	client *genai.Client
	model  string
}

func NewGeminiProvider(ctx context.Context, apiKey, model string) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiProvider{client: client, model: model}, nil
}

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) Generate(ctx context.Context, req Request) (Response, error) {
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.MaxTokens > 0 && req.MaxTokens <= math.MaxInt32 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	contents, system := toGeminiContents(req.Messages)
	if system != nil {
		config.SystemInstruction = system
	}
	if len(req.Tools) > 0 {
		config.Tools = toGeminiTools(req.Tools)
	}

	start := time.Now()
	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, config)
	if err != nil {
		return Response{}, fmt.Errorf("gemini generate content: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return Response{}, errors.New("gemini generate content: no candidates in response")
	}

	out := Response{Model: p.model, Latency: time.Since(start)}
	if resp.UsageMetadata != nil {
		out.Usage.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.Usage.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	if candidate := resp.Candidates[0]; candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				out.Content += part.Text
			}
			if part.FunctionCall == nil {
				continue
			}
			id := part.FunctionCall.ID
			if id == "" {
				id = "call_" + uuid.NewString()[:8]
			}
			args := part.FunctionCall.Args
			if args == nil {
				args = map[string]any{}
			}
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        id,
				Name:      part.FunctionCall.Name,
				Arguments: args,
			})
		}
	}
	return out, nil
}

// toGeminiContents maps chat history onto Gemini contents. System messages
// become the system instruction; tool results become function responses.
func toGeminiContents(messages []Message) ([]*genai.Content, *genai.Content) {
	var system *genai.Content
	contents := make([]*genai.Content, 0, len(messages))

	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			if system == nil {
				system = &genai.Content{}
			}
			system.Parts = append(system.Parts, &genai.Part{Text: m.Content})
		case RoleAssistant:
			parts := make([]*genai.Part, 0, 1+len(m.ToolCalls))
			if m.Content != "" {
				parts = append(parts, &genai.Part{Text: m.Content})
			}
			for _, call := range m.ToolCalls {
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					Name: call.Name,
					Args: call.Arguments,
				}})
			}
			if len(parts) == 0 {
				continue
			}
			contents = append(contents, &genai.Content{Role: "model", Parts: parts})
		case RoleTool:
			response := map[string]any{}
			if err := json.Unmarshal([]byte(m.Content), &response); err != nil {
				response = map[string]any{"output": m.Content}
			}
			contents = append(contents, &genai.Content{
				Role: "user",
				Parts: []*genai.Part{{FunctionResponse: &genai.FunctionResponse{
					Name:     m.Name,
					Response: response,
				}}},
			})
		default:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []*genai.Part{{Text: m.Content}},
			})
		}
	}
	return contents, system
}

func toGeminiTools(tools []Tool) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, len(tools))
	for i, t := range tools {
		var params *genai.Schema
		if len(t.Parameters) > 0 {
			_ = json.Unmarshal(t.Parameters, &params)
		}
		decls[i] = &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  params,
		}
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}
