// Package analysis provides the default collaborator implementations for
// the workflow: an LLM-backed topic classifier, news scorer, and token
// detectors over an OpenAI-compatible chat API, plus the deterministic
// text fingerprinter used for deduplication.
package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

// Config configures an LLM-backed collaborator.
type Config struct {
	// BaseURL is the base URL of the chat completion service.
	// Examples:
	//   - "https://api.openai.com/v1" (OpenAI cloud)
	//   - "http://localhost:8080/v1" (LocalAI, vLLM, llama.cpp server)
	BaseURL string

	// Model is the chat model to use.
	Model string

	// APIKey for authentication (optional for local services).
	APIKey string

	// Timeout for HTTP requests (default: 30s).
	Timeout time.Duration

	// Logger for error logging (optional, defaults to slog.Default()).
	Logger *slog.Logger
}

// newChatClient builds the shared OpenAI client for a collaborator.
func newChatClient(cfg Config) (*openai.Client, *slog.Logger, error) {
	if cfg.BaseURL == "" {
		return nil, nil, fmt.Errorf("base_url is required")
	}
	if cfg.Model == "" {
		return nil, nil, fmt.Errorf("model is required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = "dummy-key" // Local services don't need real key
	}

	clientCfg := openai.DefaultConfig(apiKey)
	clientCfg.BaseURL = cfg.BaseURL
	clientCfg.HTTPClient = &http.Client{
		Timeout: timeout,
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return openai.NewClientWithConfig(clientCfg), logger, nil
}

// completeJSON runs one chat completion that must answer with a single
// JSON object and returns the raw content for strict parsing.
func completeJSON(ctx context.Context, client *openai.Client, model, system, user string) (string, error) {
	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
