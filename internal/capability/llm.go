package capability

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/waypoint/internal/agent/core"
)

// LLM is a capability answered by one streamed model call, optionally after
// consulting an external API.
type LLM struct {
	desc      Descriptor
	streamer  core.Streamer
	model     string
	maxTokens int
	thinking  int
	tool      *HTTPTool
}

// LLMOptions configures an LLM capability.
type LLMOptions struct {
	Descriptor     Descriptor
	Streamer       core.Streamer
	Model          string
	MaxTokens      int
	ThinkingBudget int
	Tool           *HTTPTool
}

func NewLLM(opts LLMOptions) *LLM {
	return &LLM{
		desc:      opts.Descriptor,
		streamer:  opts.Streamer,
		model:     opts.Model,
		maxTokens: opts.MaxTokens,
		thinking:  opts.ThinkingBudget,
		tool:      opts.Tool,
	}
}

func (c *LLM) Descriptor() Descriptor { return c.desc }

func (c *LLM) Invoke(ctx context.Context, req Request, sink Sink) (string, error) {
	prompt := req.Query
	if c.tool != nil {
		call := ToolCall{ID: uuid.NewString(), Name: c.tool.Name, Args: map[string]any{"query": req.Query}}
		if err := sink.ToolStarted(call); err != nil {
			return "", err
		}
		result, callErr := c.tool.Call(ctx, req.Query)
		if err := sink.ToolCompleted(call, result, callErr); err != nil {
			return "", err
		}
		if callErr != nil {
			// a failed lookup is recoverable; answer without it
			prompt = fmt.Sprintf("%s\n\n[%s lookup failed: %v. Answer from general knowledge and say the live data was unavailable.]",
				req.Query, c.tool.Name, callErr)
		} else {
			prompt = fmt.Sprintf("%s\n\n[%s result]\n%s", req.Query, c.tool.Name, result)
		}
	}

	return c.streamer.Stream(ctx, core.StreamRequest{
		Model:          c.model,
		System:         req.Instructions,
		Messages:       []core.Message{{Role: "user", Content: prompt, Images: req.Images}},
		MaxTokens:      c.maxTokens,
		ThinkingBudget: c.thinking,
	}, func(chunk core.StreamChunk) error {
		if chunk.Thinking != "" {
			return sink.Reasoning(chunk.Thinking)
		}
		if chunk.Text != "" {
			return sink.Content(chunk.Text)
		}
		return nil
	})
}
