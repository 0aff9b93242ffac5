package openai_provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mohammad-safakhou/waypoint/internal/agent/core"
	"github.com/mohammad-safakhou/waypoint/internal/helpers"
	"github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"
)

// Client implements the core model interfaces on top of the OpenAI API.
type Client struct {
	api        *openai.Client
	dimensions int
}

// Options configures the client.
type Options struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	Dimensions int // requested embedding size; 0 keeps the model default
}

// New creates a new OpenAI client
func New(opts Options) *Client {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.Timeout > 0 {
		cfg.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{api: openai.NewClientWithConfig(cfg), dimensions: opts.Dimensions}
}

func toMessages(system string, msgs []core.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range msgs {
		role := m.Role
		if role == "" {
			role = openai.ChatMessageRoleUser
		}
		if len(m.Images) == 0 {
			out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
			continue
		}
		parts := make([]openai.ChatMessagePart, 0, len(m.Images)+1)
		if m.Content != "" {
			parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: m.Content})
		}
		for _, url := range m.Images {
			parts = append(parts, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: url, Detail: openai.ImageURLDetailAuto},
			})
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, MultiContent: parts})
	}
	return out
}

// Complete implements core.Completer.
func (c *Client) Complete(ctx context.Context, req core.CompletionRequest) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    toMessages(req.System, req.Messages),
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
	})
	if err != nil {
		return "", fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai completion: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateStructured implements core.StructuredGenerator using a strict JSON
// schema response format derived from the target type.
func (c *Client) GenerateStructured(ctx context.Context, req core.StructuredRequest) error {
	schema, err := jsonschema.GenerateSchemaForType(req.Target)
	if err != nil {
		return fmt.Errorf("generate schema: %w", err)
	}
	name := req.SchemaName
	if name == "" {
		name = "result"
	}
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: toMessages(req.System, []core.Message{{Role: openai.ChatMessageRoleUser, Content: req.Prompt}}),
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   name,
				Schema: schema,
				Strict: true,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("openai structured completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return errors.New("openai structured completion: no choices returned")
	}
	content := resp.Choices[0].Message.Content
	if extracted, err := helpers.ExtractJSON(content); err == nil {
		content = extracted
	}
	if err := schema.Unmarshal(content, req.Target); err != nil {
		return fmt.Errorf("decode structured output: %w", err)
	}
	return nil
}

// Embed implements core.Embedder.
func (c *Client) Embed(ctx context.Context, model string, input []string) ([][]float32, error) {
	if len(input) == 0 {
		return nil, nil
	}
	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      input,
		Model:      openai.EmbeddingModel(model),
		Dimensions: c.dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	vecs := make([][]float32, len(input))
	for _, d := range resp.Data {
		if d.Index >= 0 && d.Index < len(vecs) {
			vecs[d.Index] = d.Embedding
		}
	}
	for i, v := range vecs {
		if v == nil {
			return nil, fmt.Errorf("openai embeddings: missing vector for input %d", i)
		}
	}
	return vecs, nil
}

// Stream implements core.Streamer.
func (c *Client) Stream(ctx context.Context, req core.StreamRequest, onChunk func(core.StreamChunk) error) (string, error) {
	stream, err := c.api.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:     req.Model,
		Messages:  toMessages(req.System, req.Messages),
		MaxTokens: req.MaxTokens,
		Stream:    true,
	})
	if err != nil {
		return "", fmt.Errorf("openai stream: %w", err)
	}
	defer stream.Close()

	var text strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return text.String(), nil
		}
		if err != nil {
			return "", fmt.Errorf("openai stream: %w", err)
		}
		for _, choice := range resp.Choices {
			if choice.Delta.ReasoningContent != "" {
				if err := onChunk(core.StreamChunk{Thinking: choice.Delta.ReasoningContent}); err != nil {
					return "", err
				}
			}
			if choice.Delta.Content != "" {
				text.WriteString(choice.Delta.Content)
				if err := onChunk(core.StreamChunk{Text: choice.Delta.Content}); err != nil {
					return "", err
				}
			}
		}
	}
}
