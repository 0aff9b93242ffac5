// Package episodic maintains cross-session memory: one structured summary per
// session, embedded for similarity recall.
package episodic

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/mohammad-safakhou/waypoint/internal/agent/core"
	"github.com/mohammad-safakhou/waypoint/internal/memory/working"
	"github.com/mohammad-safakhou/waypoint/internal/runtime"
	"github.com/mohammad-safakhou/waypoint/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrSummaryInProgress is returned when another update holds the session lock.
	ErrSummaryInProgress = errors.New("session summary update already in progress")
	// ErrNoHistory is returned for a session without any turns.
	ErrNoHistory = errors.New("session has no turns to summarize")
)

// HistorySource reads the complete turn history of a session.
type HistorySource interface {
	FetchAll(ctx context.Context, userID, sessionID string) ([]store.Turn, error)
}

// SummaryStore persists summary rows.
type SummaryStore interface {
	GetSessionSummary(ctx context.Context, userID, sessionID string) (store.SessionSummary, bool, error)
	UpsertSessionSummary(ctx context.Context, sum store.SessionSummary) error
}

// SummarizerOptions wires a Summarizer.
type SummarizerOptions struct {
	History        HistorySource
	Summaries      SummaryStore
	Generator      core.StructuredGenerator
	Model          string
	Embedder       core.Embedder
	EmbeddingModel string
	Locker         Locker
	LockTTL        time.Duration
	Timeout        time.Duration
	Tracer         trace.Tracer
	Metrics        *runtime.Metrics
	Logger         *log.Logger
}

// Summarizer reconciles a session's previous summary with its full history.
type Summarizer struct {
	opts SummarizerOptions
}

func NewSummarizer(opts SummarizerOptions) *Summarizer {
	if opts.Locker == nil {
		opts.Locker = NewLocalLocker()
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 5 * time.Minute
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("waypoint/episodic")
	}
	if opts.Logger == nil {
		opts.Logger = log.New(log.Writer(), "[EPISODIC] ", log.LstdFlags)
	}
	return &Summarizer{opts: opts}
}

// Update regenerates and stores the summary of one session. Every failure is
// returned to the caller.
func (s *Summarizer) Update(ctx context.Context, userID, sessionID string) (Summary, error) {
	release, ok, err := s.opts.Locker.TryLock(ctx, sessionLockKey(userID, sessionID), s.opts.LockTTL)
	if err != nil {
		return Summary{}, err
	}
	if !ok {
		return Summary{}, ErrSummaryInProgress
	}
	defer release()

	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}
	ctx, span := s.opts.Tracer.Start(ctx, "episodic.update",
		trace.WithAttributes(attribute.String("user_id", userID), attribute.String("session_id", sessionID)))
	defer span.End()

	started := time.Now()
	sum, err := s.update(ctx, userID, sessionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.opts.Metrics.ObserveSummary("error", time.Since(started))
		s.opts.Logger.Printf("update user=%s session=%s failed: %v", userID, sessionID, err)
		return Summary{}, err
	}
	s.opts.Metrics.ObserveSummary("ok", time.Since(started))
	return sum, nil
}

func (s *Summarizer) update(ctx context.Context, userID, sessionID string) (Summary, error) {
	turns, err := s.opts.History.FetchAll(ctx, userID, sessionID)
	if err != nil {
		return Summary{}, fmt.Errorf("fetch history: %w", err)
	}
	if len(turns) == 0 {
		return Summary{}, ErrNoHistory
	}

	previous := NoPreviousSummary
	row, found, err := s.opts.Summaries.GetSessionSummary(ctx, userID, sessionID)
	if err != nil {
		return Summary{}, fmt.Errorf("fetch previous summary: %w", err)
	}
	if found {
		previous = renderPrevious(fromRow(row))
	}

	var out Summary
	if err := s.opts.Generator.GenerateStructured(ctx, core.StructuredRequest{
		Model:      s.opts.Model,
		System:     summarizerSystem,
		Prompt:     buildPrompt(previous, working.RenderHistory(turns)),
		SchemaName: "session_summary",
		Target:     &out,
	}); err != nil {
		return Summary{}, fmt.Errorf("generate summary: %w", err)
	}
	if out.SessionTags == nil {
		out.SessionTags = []string{}
	}

	content := out.Content()
	vecs, err := s.opts.Embedder.Embed(ctx, s.opts.EmbeddingModel, []string{content})
	if err != nil {
		return Summary{}, fmt.Errorf("embed summary: %w", err)
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return Summary{}, fmt.Errorf("embed summary: empty embedding")
	}

	if err := s.opts.Summaries.UpsertSessionSummary(ctx, store.SessionSummary{
		UserID:        userID,
		SessionID:     sessionID,
		SessionName:   out.SessionName,
		SessionTags:   out.SessionTags,
		WhatWorked:    out.WhatWorked,
		WhatNotWorked: out.WhatNotWorked,
		WhatToAvoid:   out.WhatToAvoid,
		Metadata:      out.Metadata,
		MessageCount:  len(turns),
		Content:       content,
		Embedding:     vecs[0],
	}); err != nil {
		return Summary{}, fmt.Errorf("store summary: %w", err)
	}
	s.opts.Logger.Printf("updated summary user=%s session=%s turns=%d", userID, sessionID, len(turns))
	return out, nil
}
