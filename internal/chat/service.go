// Package chat serves one conversational exchange end to end: context
// gathering, the orchestrated run, and persistence of the turn pair.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/waypoint/internal/aggregator"
	"github.com/mohammad-safakhou/waypoint/internal/memory/episodic"
	"github.com/mohammad-safakhou/waypoint/internal/memory/working"
	"github.com/mohammad-safakhou/waypoint/internal/orchestrator"
	"github.com/mohammad-safakhou/waypoint/internal/runtime"
	"github.com/mohammad-safakhou/waypoint/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Request is one user message.
type Request struct {
	UserID      string             `json:"user_id"`
	SessionID   string             `json:"session_id"`
	Message     string             `json:"message"`
	Attachments []store.Attachment `json:"attachments"`
}

// Memory is the working-memory surface of the chat path.
type Memory interface {
	NextSequenceID(ctx context.Context, userID, sessionID string) (int, error)
	AppendPair(ctx context.Context, user, assistant *store.Turn) error
	FetchRecent(ctx context.Context, userID, sessionID string, maxPairs int) ([]store.Turn, error)
}

// Recaller finds similar past sessions. A miss yields a sentinel block, not
// an error.
type Recaller interface {
	Lookup(ctx context.Context, userID, query string, limit int) (string, error)
}

// Runner executes one orchestrated run.
type Runner interface {
	Run(ctx context.Context, turn orchestrator.Turn) <-chan orchestrator.RunEvent
}

// Options wires a Service.
type Options struct {
	Memory     Memory
	Recall     Recaller
	Runner     Runner
	Aggregator *aggregator.Aggregator
	Policy     Policy // nil uses FailurePolicy
	Metrics    *runtime.Metrics
	Tracer     trace.Tracer
	Logger     *log.Logger
}

// Service processes chat requests.
type Service struct {
	opts Options
}

func NewService(opts Options) *Service {
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("waypoint/chat")
	}
	if opts.Logger == nil {
		opts.Logger = log.New(log.Writer(), "[CHAT] ", log.LstdFlags)
	}
	if opts.Policy == nil {
		opts.Policy = FailurePolicy
	}
	return &Service{opts: opts}
}

// Normalize fills generated ids and validates the request.
func (r *Request) Normalize() error {
	r.Message = strings.TrimSpace(r.Message)
	if r.Message == "" && len(r.Attachments) == 0 {
		return fmt.Errorf("message or attachments required")
	}
	for i, a := range r.Attachments {
		if !a.Type.Valid() {
			return fmt.Errorf("attachments[%d]: unsupported type %q", i, a.Type)
		}
		if strings.TrimSpace(a.URL) == "" {
			return fmt.Errorf("attachments[%d]: url required", i)
		}
	}
	if r.UserID == "" {
		r.UserID = uuid.NewString()
	}
	if r.SessionID == "" {
		r.SessionID = uuid.NewString()
	}
	return nil
}

// Process runs one exchange and returns its public event stream: reasoning
// events, one response, then a Final or a Failed. req must be normalized.
// The caller must drain the channel; persistence happens while it does.
func (s *Service) Process(ctx context.Context, req Request) <-chan aggregator.Event {
	out := make(chan aggregator.Event, 16)
	go func() {
		defer close(out)
		s.process(ctx, req, out)
	}()
	return out
}

func (s *Service) process(ctx context.Context, req Request, out chan<- aggregator.Event) {
	ctx, span := s.opts.Tracer.Start(ctx, "chat.process",
		trace.WithAttributes(attribute.String("user_id", req.UserID), attribute.String("session_id", req.SessionID)))
	defer span.End()
	started := time.Now()

	mc, next, err := s.gather(ctx, req)
	if err != nil {
		s.fail(req, "", started, err, out)
		return
	}

	raw := s.opts.Runner.Run(ctx, orchestrator.Turn{Query: queryText(req), Images: imageURLs(req), Context: mc})
	events := s.opts.Aggregator.Aggregate(ctx, raw, aggregator.Input{
		UserID:         req.UserID,
		SessionID:      req.SessionID,
		Message:        req.Message,
		Attachments:    req.Attachments,
		SequenceID:     next,
		OnCleanFailure: s.cleanFailure,
	})
	for ev := range events {
		switch e := ev.(type) {
		case aggregator.End:
			span.SetAttributes(attribute.String("capability", e.Capability))
			final, err := s.persist(ctx, req, e)
			if err != nil {
				s.fail(req, e.Capability, started, err, out)
				continue
			}
			out <- final
			s.opts.Metrics.ObserveRun(e.Capability, "ok", time.Since(started))
		case aggregator.Error:
			s.fail(req, "", started, errors.New(e.Message), out)
		default:
			out <- ev
		}
	}
}

// gather fetches recent history, recalled memories and the next sequence
// number concurrently. Failures are handled per FailurePolicy.
func (s *Service) gather(ctx context.Context, req Request) (orchestrator.Context, int, error) {
	var (
		recent []store.Turn
		recall string
		next   = 1
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		turns, err := s.opts.Memory.FetchRecent(gctx, req.UserID, req.SessionID, 0)
		if err != nil {
			return s.absorb(DepRecentHistory, err)
		}
		recent = turns
		return nil
	})
	g.Go(func() error {
		if s.opts.Recall == nil {
			return nil
		}
		block, err := s.opts.Recall.Lookup(gctx, req.UserID, req.Message, 0)
		if err != nil {
			recall = episodic.SearchErrorText(err)
			return s.absorb(DepEpisodicRecall, err)
		}
		recall = block
		return nil
	})
	g.Go(func() error {
		n, err := s.opts.Memory.NextSequenceID(gctx, req.UserID, req.SessionID)
		if err != nil {
			return s.absorb(DepNextSequenceID, err)
		}
		next = n
		return nil
	})
	if err := g.Wait(); err != nil {
		return orchestrator.Context{}, 0, err
	}

	mc := orchestrator.Context{Working: working.RenderHistory(recent)}
	if !episodic.IsSentinel(recall) {
		mc.Episodic = recall
	}
	return mc, next, nil
}

func (s *Service) cleanFailure(err error) error {
	return s.absorb(DepSanitizer, err)
}

// absorb applies the failure policy: nil for degradable dependencies.
func (s *Service) absorb(dep Dependency, err error) error {
	if s.opts.Policy.Mode(dep) == Propagate {
		return fmt.Errorf("%s: %w", dep, err)
	}
	s.opts.Logger.Printf("warn: %s unavailable, continuing without it: %v", dep, err)
	s.opts.Metrics.Degraded(string(dep))
	return nil
}

func (s *Service) persist(ctx context.Context, req Request, end aggregator.End) (Final, error) {
	user, asst := end.UserTurn, end.AssistantTurn
	saved := true
	if err := s.opts.Memory.AppendPair(ctx, &user, &asst); err != nil {
		if err := s.absorb(DepTurnPersistence, err); err != nil {
			return Final{}, err
		}
		saved = false
	}
	return Final{Data: FinalData{
		Success:   true,
		SessionID: req.SessionID,
		UserMessage: UserMessage{
			SequenceID:  user.SequenceID,
			TextContent: user.TextContent,
			Attachments: user.Attachments,
		},
		AssistantResponse: AssistantResponse{
			SequenceID:       asst.SequenceID,
			TextContent:      asst.TextContent,
			ReasoningContent: asst.ReasoningContent,
		},
		Persistence: Persistence{SavedToDB: saved, WorkingMemoryUpdated: saved},
	}}, nil
}

func (s *Service) fail(req Request, capability string, started time.Time, err error, out chan<- aggregator.Event) {
	s.opts.Logger.Printf("chat user=%s session=%s failed: %v", req.UserID, req.SessionID, err)
	s.opts.Metrics.ObserveRun(capability, "error", time.Since(started))
	out <- Failed{
		Message: err.Error(),
		Data:    ErrorData{Success: false, Error: err.Error(), SessionID: req.SessionID},
	}
}

// queryText is the message handed to the capability, with references to
// attachments the model cannot view appended.
func queryText(req Request) string {
	var b strings.Builder
	b.WriteString(req.Message)
	listed := false
	for _, a := range req.Attachments {
		if a.Type == store.MediaImage {
			continue
		}
		if !listed {
			b.WriteString("\n\nAttachments:")
			listed = true
		}
		b.WriteString(fmt.Sprintf("\n- [%s] %s", a.Type, a.URL))
	}
	return b.String()
}

// imageURLs are the image attachments, sent to the model as image parts.
func imageURLs(req Request) []string {
	var urls []string
	for _, a := range req.Attachments {
		if a.Type == store.MediaImage {
			urls = append(urls, a.URL)
		}
	}
	return urls
}
