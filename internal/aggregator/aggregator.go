// Package aggregator turns a run's raw events into the public event stream:
// reasoning notices, one cleaned response and one terminal end or error.
package aggregator

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/mohammad-safakhou/waypoint/internal/orchestrator"
	"github.com/mohammad-safakhou/waypoint/internal/store"
)

// Input identifies the exchange a run answers.
type Input struct {
	UserID      string
	SessionID   string
	Message     string
	Attachments []store.Attachment
	SequenceID  int // expected sequence number of the user turn

	// OnCleanFailure decides a sanitizer failure: nil keeps the raw answer,
	// an error ends the exchange with it. Unset keeps the raw answer.
	OnCleanFailure func(error) error
}

// Aggregator maps raw run events to public events.
type Aggregator struct {
	cleaner *Cleaner
	logger  *log.Logger
}

func New(cleaner *Cleaner, logger *log.Logger) *Aggregator {
	if logger == nil {
		logger = log.New(log.Writer(), "[ORCH] ", log.LstdFlags)
	}
	return &Aggregator{cleaner: cleaner, logger: logger}
}

// Aggregate consumes raw until it is closed and returns the public stream.
// Reasoning events keep run order, the Response follows all of them, and the
// stream ends with exactly one End or Error. raw is always drained, even
// after a terminal event, so the producer never blocks. The caller must
// drain the returned channel.
func (a *Aggregator) Aggregate(ctx context.Context, raw <-chan orchestrator.RunEvent, in Input) <-chan Event {
	out := make(chan Event, 16)
	go func() {
		defer close(out)
		defer func() {
			for range raw {
			}
		}()
		a.aggregate(ctx, raw, in, out)
	}()
	return out
}

func (a *Aggregator) aggregate(ctx context.Context, raw <-chan orchestrator.RunEvent, in Input, out chan<- Event) {
	var (
		seen       = make(map[string]struct{})
		trace      []string
		capability string
	)
	reason := func(text string) {
		trace = append(trace, text)
		out <- Reasoning{Content: text}
	}

	for ev := range raw {
		if key := identity(ev); key != "" {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
		}

		switch e := ev.(type) {
		case orchestrator.Dispatched:
			capability = e.Capability
		case orchestrator.ReasoningStep:
			if strings.TrimSpace(e.Text) != "" {
				reason(e.Text)
			}
		case orchestrator.ToolCallStarted:
			reason(renderToolStarted(e.Name, e.Args))
		case orchestrator.ToolCallCompleted:
			reason(renderToolCompleted(e.Name, e.Args, e.Err))
		case orchestrator.ContentDelta:
			// partial content never reaches the client; RunCompleted carries the answer
		case orchestrator.RunError:
			msg := "run failed"
			if e.Err != nil {
				msg = e.Err.Error()
			}
			a.logger.Printf("run capability=%s user=%s session=%s failed: %s", e.Capability, in.UserID, in.SessionID, msg)
			out <- Error{Message: msg}
			return
		case orchestrator.RunCompleted:
			if e.Capability != "" {
				capability = e.Capability
			}
			if len(trace) > 0 {
				out <- Reasoning{Content: PreparingNotice}
			}
			response, err := a.cleaner.Clean(ctx, in.Message, e.Content)
			if err != nil {
				if in.OnCleanFailure == nil {
					a.logger.Printf("warn: response cleaning failed, using raw answer: %v", err)
				} else if err = in.OnCleanFailure(err); err != nil {
					out <- Error{Message: err.Error()}
					return
				}
			}
			out <- Response{Content: response}
			out <- a.end(in, capability, response, strings.Join(trace, "\n\n"))
			return
		default:
			a.logger.Printf("warn: unhandled run event %T", ev)
		}
	}
	out <- Error{Message: "run ended without a result"}
}

// identity returns the de-duplication key of ev, or "" when ev is never a
// duplicate.
func identity(ev orchestrator.RunEvent) string {
	switch e := ev.(type) {
	case orchestrator.ToolCallStarted:
		if e.ID != "" {
			return "tool_started:" + e.ID
		}
		return fmt.Sprintf("tool_started:%s:%v", e.Name, e.Args)
	case orchestrator.ToolCallCompleted:
		if e.ID != "" {
			return "tool_completed:" + e.ID
		}
		return fmt.Sprintf("tool_completed:%s:%v", e.Name, e.Args)
	case orchestrator.ReasoningStep:
		if e.ID != "" {
			return "reasoning:" + e.ID
		}
	case orchestrator.Dispatched:
		return "dispatched"
	}
	return ""
}

func (a *Aggregator) end(in Input, capability, response, reasoning string) End {
	attachments := in.Attachments
	if attachments == nil {
		attachments = []store.Attachment{}
	}
	var reasoningPtr *string
	if reasoning != "" {
		reasoningPtr = &reasoning
	}
	return End{
		Capability: capability,
		Response:   response,
		Reasoning:  reasoning,
		UserTurn: store.Turn{
			UserID:      in.UserID,
			SessionID:   in.SessionID,
			SequenceID:  in.SequenceID,
			Role:        store.RoleUser,
			TextContent: in.Message,
			Attachments: attachments,
		},
		AssistantTurn: store.Turn{
			UserID:           in.UserID,
			SessionID:        in.SessionID,
			SequenceID:       in.SequenceID + 1,
			Role:             store.RoleAssistant,
			TextContent:      response,
			ReasoningContent: reasoningPtr,
			Attachments:      []store.Attachment{},
		},
	}
}
