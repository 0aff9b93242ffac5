package aggregator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mohammad-safakhou/waypoint/internal/agent/core"
	"github.com/mohammad-safakhou/waypoint/internal/helpers"
)

const cleanerSystem = `You edit an assistant's final answer before it is shown to a traveller.
Return the answer with these removed: meta-commentary about the process, announcements of which specialist or tool handled the request, narration of tool calls starting or finishing, and any visible internal thinking markup.
Keep every piece of user-relevant content exactly as written: explanations, data, prices, times, links, citations and media references. Do not add, summarize or omit substantive content. Keep the original markdown formatting.
Return only the edited answer.`

// ErrEmptyCleaned is returned when the sanitizer answers with nothing.
var ErrEmptyCleaned = errors.New("sanitizer returned an empty answer")

// Cleaner sanitizes a run's final answer with a model call.
type Cleaner struct {
	completer core.Completer
	model     string
	timeout   time.Duration
}

func NewCleaner(completer core.Completer, model string, timeout time.Duration) *Cleaner {
	return &Cleaner{completer: completer, model: model, timeout: timeout}
}

// Clean returns the sanitized answer to query. On failure it returns the raw
// answer with only blank lines and trailing space tidied, together with the
// error. A Cleaner without a model is a passthrough and never fails.
func (c *Cleaner) Clean(ctx context.Context, query, answer string) (string, error) {
	fallback := helpers.TidyWhitespace(answer)
	if fallback == "" || c == nil || c.completer == nil {
		return fallback, nil
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	cleaned, err := c.completer.Complete(ctx, core.CompletionRequest{
		Model:  c.model,
		System: cleanerSystem,
		Messages: []core.Message{{
			Role:    "user",
			Content: "User question:\n" + query + "\n\nAnswer to edit:\n" + answer,
		}},
		Temperature: 0,
	})
	if err != nil {
		return fallback, fmt.Errorf("clean response: %w", err)
	}
	if cleaned = strings.TrimSpace(cleaned); cleaned == "" {
		return fallback, ErrEmptyCleaned
	}
	return cleaned, nil
}
