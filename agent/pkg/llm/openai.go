package llm

import (
	"context"
	"fmt"
	"math"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAITransport speaks to an OpenAI-compatible chat-completion endpoint
// (the deployment fronts models with a LiteLLM proxy).
type OpenAITransport struct {
	client *openai.Client
	model  string
}

// NewOpenAITransport configures a transport against baseURL with the given
// auth header value. A leading "Bearer " prefix is accepted and stripped; the
// underlying client re-adds it.
func NewOpenAITransport(baseURL, authHeader, model string) *OpenAITransport {
	token := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(authHeader), "Bearer "))
	cfg := openai.DefaultConfig(token)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &OpenAITransport{client: openai.NewClientWithConfig(cfg), model: model}
}

// Model returns the configured model identifier.
func (t *OpenAITransport) Model() string { return t.model }

func (t *OpenAITransport) Complete(ctx context.Context, system, user string, temperature float32) (Response, error) {
	// The request struct omits a zero temperature, which would fall back to
	// the server default instead of fully deterministic sampling.
	if temperature == 0 {
		temperature = math.SmallestNonzeroFloat32
	}
	req := openai.ChatCompletionRequest{
		Model:       t.model,
		Temperature: temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	}

	resp, err := t.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return Response{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, fmt.Errorf("chat completion: empty choices")
	}
	return Response{
		Text:         resp.Choices[0].Message.Content,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}
