package anthropic_provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/mohammad-safakhou/waypoint/internal/agent/core"
)

// Client implements core.Streamer and core.Completer on the Anthropic Messages API.
type Client struct {
	api anthropic.Client
}

// New creates a new Anthropic client
func New(apiKey, baseURL string, timeout time.Duration) *Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}
	return &Client{api: anthropic.NewClient(opts...)}
}

func buildParams(model, system string, msgs []core.Message, maxTokens int) anthropic.MessageNewParams {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	for _, m := range msgs {
		if m.Role == "assistant" {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
			continue
		}
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.Images)+1)
		for _, url := range m.Images {
			blocks = append(blocks, anthropic.NewImageBlock(anthropic.URLImageSourceParam{URL: url}))
		}
		if m.Content != "" || len(blocks) == 0 {
			blocks = append(blocks, anthropic.NewTextBlock(m.Content))
		}
		params.Messages = append(params.Messages, anthropic.NewUserMessage(blocks...))
	}
	return params
}

// Complete implements core.Completer.
func (c *Client) Complete(ctx context.Context, req core.CompletionRequest) (string, error) {
	resp, err := c.api.Messages.New(ctx, buildParams(req.Model, req.System, req.Messages, req.MaxTokens))
	if err != nil {
		return "", fmt.Errorf("claude API error: %w", err)
	}
	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}

// Stream implements core.Streamer. Thinking deltas are surfaced when a
// thinking budget is requested.
func (c *Client) Stream(ctx context.Context, req core.StreamRequest, onChunk func(core.StreamChunk) error) (string, error) {
	params := buildParams(req.Model, req.System, req.Messages, req.MaxTokens)
	if req.ThinkingBudget > 0 {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(int64(req.ThinkingBudget))
	}
	stream := c.api.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return "", fmt.Errorf("accumulate stream: %w", err)
		}
		evt, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		switch delta := evt.Delta.AsAny().(type) {
		case anthropic.TextDelta:
			if err := onChunk(core.StreamChunk{Text: delta.Text}); err != nil {
				return "", err
			}
		case anthropic.ThinkingDelta:
			if err := onChunk(core.StreamChunk{Thinking: delta.Thinking}); err != nil {
				return "", err
			}
		}
	}
	if err := stream.Err(); err != nil {
		return "", fmt.Errorf("claude stream error: %w", err)
	}

	var sb strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}
