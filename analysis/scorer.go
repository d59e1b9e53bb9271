package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/c360/signalstream/newsstore"
)

const scorerSystemPrompt = `You rate how strongly a set of crypto news items
collectively signals an imminent bullish move on major assets.
You receive the stored news items, newest last. Rate the overall signal on an
integer scale from 1 (noise) to 10 (overwhelming aligned signal).
Answer with a single JSON object: {"score": <1-10>}.
If the items are insufficient to judge, answer {"score": 0}.`

// NewsScorer rates the accumulated record set with a chat completion.
type NewsScorer struct {
	client *openai.Client
	model  string
	logger *slog.Logger

	// maxRecords bounds the digest so the prompt cannot grow without
	// limit as the store fills. Newest records win.
	maxRecords int
}

// NewNewsScorer creates an LLM-backed scorer.
func NewNewsScorer(cfg Config) (*NewsScorer, error) {
	client, logger, err := newChatClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("news scorer: %w", err)
	}
	return &NewsScorer{client: client, model: cfg.Model, logger: logger, maxRecords: 50}, nil
}

// Score rates the record set 1..10. ok=false means the model declined to
// score (insufficient signal); the caller notifies without a trade.
func (s *NewsScorer) Score(ctx context.Context, records []newsstore.Record) (int, bool, error) {
	content, err := completeJSON(ctx, s.client, s.model, scorerSystemPrompt, s.digest(records))
	if err != nil {
		return 0, false, err
	}
	return parseScoreResponse(content)
}

// digest renders the newest records as a numbered list.
func (s *NewsScorer) digest(records []newsstore.Record) string {
	if len(records) > s.maxRecords {
		records = records[len(records)-s.maxRecords:]
	}

	var b strings.Builder
	for i, rec := range records {
		text := rec.Fingerprint
		if rec.Item != nil {
			text = rec.Item.Text
		}
		fmt.Fprintf(&b, "%d. %s\n", i+1, text)
	}
	return b.String()
}

// parseScoreResponse strictly decodes {"score": int}. Zero or out-of-range
// scores report unavailable rather than failing the item.
func parseScoreResponse(content string) (int, bool, error) {
	var resp struct {
		Score *int `json:"score"`
	}
	if err := json.Unmarshal([]byte(content), &resp); err != nil {
		return 0, false, fmt.Errorf("malformed scorer response %q: %w", content, err)
	}
	if resp.Score == nil {
		return 0, false, fmt.Errorf("scorer response missing score field: %q", content)
	}
	if *resp.Score < 1 || *resp.Score > 10 {
		return 0, false, nil
	}
	return *resp.Score, true, nil
}
