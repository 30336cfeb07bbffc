// Package llm is the language-model boundary: a rate-limited, circuit-broken,
// retrying client over an OpenAI-compatible chat-completion endpoint, with a
// response cache for deterministic (temperature 0) calls.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Client is what the pipeline consumes. Complete returns the raw completion
// text; CompleteJSON additionally extracts and decodes a JSON value, tolerating
// code fences and surrounding prose.
type Client interface {
	Complete(ctx context.Context, system, user string, temperature float32) (string, error)
	CompleteJSON(ctx context.Context, system, user string, temperature float32, out any) error
}

// Completer is the transport under the coordinator: one request, one
// completion, no policy.
type Completer interface {
	Complete(ctx context.Context, system, user string, temperature float32) (Response, error)
}

// Response is one raw completion with the endpoint's reported token usage.
type Response struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// ExtractJSON locates the first JSON value in text, stripping markdown code
// fences and surrounding prose. Models wrap their JSON unpredictably; a stage
// must not fail just because of decoration.
func ExtractJSON(text string) (string, bool) {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		if idx := strings.Index(text, "\n"); idx >= 0 {
			text = text[idx+1:]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}

	start := strings.IndexAny(text, "[{")
	if start < 0 {
		return "", false
	}
	open := text[start]
	closeCh := byte(']')
	if open == '{' {
		closeCh = '}'
	}

	depth := 0
	inString := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch c {
			case '\\':
				i++
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case closeCh:
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// DecodeJSON extracts and unmarshals a JSON value from a completion.
func DecodeJSON(text string, out any) error {
	raw, ok := ExtractJSON(text)
	if !ok {
		return fmt.Errorf("no JSON value in completion")
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("decode completion JSON: %w", err)
	}
	return nil
}
