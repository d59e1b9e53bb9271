package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/sashabaranov/go-openai"
)

const topicSystemPrompt = `You classify social media posts for a crypto news desk.
Decide whether the post is about the tracked topic: macro crypto market news
(ETF flows, regulation, institutional adoption, exchange incidents, protocol
level announcements affecting major assets).
Answer with a single JSON object: {"match": true} or {"match": false}.`

// TopicClassifier decides topic membership with a chat completion.
type TopicClassifier struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// NewTopicClassifier creates an LLM-backed topic classifier.
func NewTopicClassifier(cfg Config) (*TopicClassifier, error) {
	client, logger, err := newChatClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("topic classifier: %w", err)
	}
	return &TopicClassifier{client: client, model: cfg.Model, logger: logger}, nil
}

// Matches reports whether the text belongs to the tracked topic.
func (c *TopicClassifier) Matches(ctx context.Context, text string) (bool, error) {
	content, err := completeJSON(ctx, c.client, c.model, topicSystemPrompt, text)
	if err != nil {
		return false, err
	}
	return parseMatchResponse(content)
}

// parseMatchResponse strictly decodes {"match": bool}.
func parseMatchResponse(content string) (bool, error) {
	var resp struct {
		Match *bool `json:"match"`
	}
	if err := json.Unmarshal([]byte(content), &resp); err != nil {
		return false, fmt.Errorf("malformed classifier response %q: %w", content, err)
	}
	if resp.Match == nil {
		return false, fmt.Errorf("classifier response missing match field: %q", content)
	}
	return *resp.Match, nil
}
