// Package orchestrator dispatches one user turn to exactly one capability and
// streams the run's raw events.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/mohammad-safakhou/waypoint/internal/capability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrNoCapability is returned when neither the routed nor the default
// capability is registered.
var ErrNoCapability = errors.New("no capability available for this message")

// Turn is the input of one run.
type Turn struct {
	Query   string
	Images  []string // image attachment URLs sent to the model with Query
	Context Context
}

// Runner is the team runner: it routes, renders per-run instructions and
// invokes the chosen capability under a timeout.
type Runner struct {
	registry     *capability.Registry
	router       *Router
	instructions string
	fallback     string
	timeout      time.Duration
	tracer       trace.Tracer
	logger       *log.Logger
}

// RunnerOptions wires a Runner.
type RunnerOptions struct {
	Registry          *capability.Registry
	Router            *Router
	Instructions      string // shared team instructions prepended to every capability's own
	DefaultCapability string
	Timeout           time.Duration
	Tracer            trace.Tracer
	Logger            *log.Logger
}

func NewRunner(opts RunnerOptions) *Runner {
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("waypoint/orchestrator")
	}
	if opts.Logger == nil {
		opts.Logger = log.New(log.Writer(), "[ORCH] ", log.LstdFlags)
	}
	return &Runner{
		registry:     opts.Registry,
		router:       opts.Router,
		instructions: opts.Instructions,
		fallback:     opts.DefaultCapability,
		timeout:      opts.Timeout,
		tracer:       opts.Tracer,
		logger:       opts.Logger,
	}
}

// Run starts the run and returns its event stream. The stream ends with
// exactly one RunCompleted or RunError and is then closed. The caller must
// drain the channel.
func (r *Runner) Run(ctx context.Context, turn Turn) <-chan RunEvent {
	out := make(chan RunEvent, 16)
	go func() {
		defer close(out)
		r.run(ctx, turn, out)
	}()
	return out
}

func (r *Runner) run(ctx context.Context, turn Turn, out chan<- RunEvent) {
	ctx, span := r.tracer.Start(ctx, "orchestrator.run")
	defer span.End()

	c, err := r.dispatch(ctx, turn.Query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		out <- RunError{Err: err}
		return
	}
	desc := c.Descriptor()
	span.SetAttributes(attribute.String("capability", desc.Name))
	out <- Dispatched{Capability: desc.Name}

	runCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	sink := &eventSink{ctx: runCtx, out: out}
	req := capability.Request{
		Instructions: RenderInstructions(joinInstructions(r.instructions, desc.Instructions), turn.Context),
		Query:        turn.Query,
		Images:       turn.Images,
	}
	content, err := c.Invoke(runCtx, req, sink)
	if err == nil {
		err = sink.flush()
	}
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("capability %s timed out after %s: %w", desc.Name, r.timeout, err)
		}
		r.logger.Printf("run capability=%s failed: %v", desc.Name, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		out <- RunError{Capability: desc.Name, Err: err}
		return
	}
	out <- RunCompleted{Capability: desc.Name, Content: content, Reasoning: sink.reasoning.String()}
}

// dispatch makes the run's single routing decision.
func (r *Runner) dispatch(ctx context.Context, query string) (capability.Capability, error) {
	name := r.fallback
	if r.router != nil {
		routed, err := r.router.Route(ctx, query)
		if err != nil {
			r.logger.Printf("warn: routing failed, using %s: %v", r.fallback, err)
		} else {
			name = routed
		}
	}
	if c, ok := r.registry.Get(name); ok {
		return c, nil
	}
	if name != r.fallback {
		r.logger.Printf("warn: policy chose unknown capability %q, using %s", name, r.fallback)
	}
	if c, ok := r.registry.Get(r.fallback); ok {
		return c, nil
	}
	return nil, ErrNoCapability
}

func joinInstructions(team, own string) string {
	team, own = strings.TrimSpace(team), strings.TrimSpace(own)
	switch {
	case team == "":
		return own
	case own == "":
		return team
	}
	return team + "\n\n" + own
}

// eventSink adapts capability output into RunEvents. Thinking deltas are
// buffered into paragraph-sized ReasoningSteps.
type eventSink struct {
	ctx       context.Context
	out       chan<- RunEvent
	pending   strings.Builder
	reasoning strings.Builder
}

func (s *eventSink) emit(ev RunEvent) error {
	select {
	case s.out <- ev:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

func (s *eventSink) flush() error {
	text := strings.TrimSpace(s.pending.String())
	s.pending.Reset()
	if text == "" {
		return nil
	}
	if s.reasoning.Len() > 0 {
		s.reasoning.WriteString("\n\n")
	}
	s.reasoning.WriteString(text)
	return s.emit(ReasoningStep{Text: text})
}

func (s *eventSink) Reasoning(text string) error {
	s.pending.WriteString(text)
	if !strings.Contains(s.pending.String(), "\n\n") {
		return nil
	}
	// emit complete paragraphs, keep the tail buffered
	buf := s.pending.String()
	cut := strings.LastIndex(buf, "\n\n")
	s.pending.Reset()
	s.pending.WriteString(buf[:cut])
	if err := s.flush(); err != nil {
		return err
	}
	s.pending.WriteString(buf[cut+2:])
	return nil
}

func (s *eventSink) Content(text string) error {
	if err := s.flush(); err != nil {
		return err
	}
	return s.emit(ContentDelta{Text: text})
}

func (s *eventSink) ToolStarted(call capability.ToolCall) error {
	if err := s.flush(); err != nil {
		return err
	}
	return s.emit(ToolCallStarted{ID: call.ID, Name: call.Name, Args: call.Args})
}

func (s *eventSink) ToolCompleted(call capability.ToolCall, result string, callErr error) error {
	if err := s.flush(); err != nil {
		return err
	}
	return s.emit(ToolCallCompleted{ID: call.ID, Name: call.Name, Args: call.Args, Result: result, Err: callErr})
}
