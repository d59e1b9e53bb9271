package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/c360/signalstream/event"
	"github.com/c360/signalstream/workflow"
)

// DetectorMode selects which facet of an item a detector analyzes.
type DetectorMode string

// Detector modes
const (
	ModeText  DetectorMode = "text"
	ModeImage DetectorMode = "image"
	ModeLink  DetectorMode = "link"
)

const detectorSystemPrompt = `You analyze social media content for new token launches.
Decide whether the content announces a concrete new token with a contract
address (token_found), announces a launch without an address yet
(release_only), or contains no token launch at all (no_token).
Answer with a single JSON object:
{"status": "token_found", "chain_id": <int>, "chain_name": "<name>", "token_address": "<address>"}
or {"status": "release_only"} or {"status": "no_token"}.`

// TokenDetector analyzes one facet (text, image, link) of an item for a
// token launch using a chat completion. Image mode sends the media URLs
// as vision parts; link mode sends the resolved link list as text.
type TokenDetector struct {
	client *openai.Client
	model  string
	mode   DetectorMode
	logger *slog.Logger
}

// NewTokenDetector creates an LLM-backed detector for one mode.
func NewTokenDetector(cfg Config, mode DetectorMode) (*TokenDetector, error) {
	switch mode {
	case ModeText, ModeImage, ModeLink:
	default:
		return nil, fmt.Errorf("token detector: unknown mode %q", mode)
	}

	client, logger, err := newChatClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("token detector: %w", err)
	}
	return &TokenDetector{client: client, model: cfg.Model, mode: mode, logger: logger}, nil
}

// Mode returns the facet this detector analyzes.
func (d *TokenDetector) Mode() DetectorMode {
	return d.mode
}

// Detect analyzes the item's facet for this detector's mode. An empty
// facet is NoToken without a model call.
func (d *TokenDetector) Detect(ctx context.Context, item *event.Tweet) (workflow.Outcome, error) {
	var content string
	var err error

	switch d.mode {
	case ModeText:
		if item.Text == "" {
			return workflow.NoToken{}, nil
		}
		content, err = completeJSON(ctx, d.client, d.model, detectorSystemPrompt, item.Text)
	case ModeLink:
		if len(item.Links) == 0 {
			return workflow.NoToken{}, nil
		}
		content, err = completeJSON(ctx, d.client, d.model, detectorSystemPrompt,
			"Links referenced by the post:\n"+strings.Join(item.Links, "\n"))
	case ModeImage:
		if len(item.Media) == 0 {
			return workflow.NoToken{}, nil
		}
		content, err = d.completeVision(ctx, item.Media)
	}
	if err != nil {
		return nil, err
	}

	outcome, err := parseDetectorResponse(content)
	if err != nil {
		return nil, err
	}

	// A token with an implausible address is treated as announced but
	// not actionable.
	if found, ok := outcome.(workflow.TokenFound); ok {
		if !IsPlausibleTokenAddress(found.ChainName, found.Address) {
			d.logger.Warn("detector returned implausible token address",
				"mode", d.mode,
				"chain", found.ChainName,
				"address", found.Address)
			return workflow.ReleaseOnly{}, nil
		}
	}

	return outcome, nil
}

// completeVision sends the media URLs as image parts.
func (d *TokenDetector) completeVision(ctx context.Context, media []string) (string, error) {
	parts := []openai.ChatMessagePart{
		{
			Type: openai.ChatMessagePartTypeText,
			Text: "Analyze the attached images for a token launch announcement.",
		},
	}
	for _, url := range media {
		parts = append(parts, openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: url},
		})
	}

	resp, err := d.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       d.model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: detectorSystemPrompt},
			{Role: openai.ChatMessageRoleUser, MultiContent: parts},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", fmt.Errorf("vision completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("vision completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// parseDetectorResponse strictly decodes the detector wire response.
func parseDetectorResponse(content string) (workflow.Outcome, error) {
	var resp struct {
		Status       string `json:"status"`
		ChainID      int    `json:"chain_id"`
		ChainName    string `json:"chain_name"`
		TokenAddress string `json:"token_address"`
	}
	if err := json.Unmarshal([]byte(content), &resp); err != nil {
		return nil, fmt.Errorf("malformed detector response %q: %w", content, err)
	}

	switch resp.Status {
	case "token_found":
		if resp.TokenAddress == "" {
			return nil, fmt.Errorf("detector reported token_found without an address: %q", content)
		}
		return workflow.TokenFound{
			ChainID:   resp.ChainID,
			ChainName: resp.ChainName,
			Address:   resp.TokenAddress,
		}, nil
	case "release_only":
		return workflow.ReleaseOnly{}, nil
	case "no_token":
		return workflow.NoToken{}, nil
	default:
		return nil, fmt.Errorf("detector response has unknown status %q", resp.Status)
	}
}
