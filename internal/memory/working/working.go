// Package working exposes the turn log of the live session: sequence numbers,
// pair persistence and recent-history reads.
package working

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/mohammad-safakhou/waypoint/internal/runtime"
	"github.com/mohammad-safakhou/waypoint/internal/store"
)

// DefaultMaxPairs is the recent-history window when none is configured.
const DefaultMaxPairs = 2

// TurnStore is the persistence surface working memory needs.
type TurnStore interface {
	NextSequenceID(ctx context.Context, userID, sessionID string) (int, error)
	AppendTurnPair(ctx context.Context, user, assistant *store.Turn) error
	ListRecentTurns(ctx context.Context, userID, sessionID string, limit int) ([]store.Turn, error)
	ListTurns(ctx context.Context, userID, sessionID string) ([]store.Turn, error)
}

// Memory is the working-memory view of the turn store.
type Memory struct {
	store    TurnStore
	maxPairs int
	metrics  *runtime.Metrics
	logger   *log.Logger
}

// New creates working memory over st. maxPairs <= 0 selects DefaultMaxPairs.
func New(st TurnStore, maxPairs int, metrics *runtime.Metrics, logger *log.Logger) *Memory {
	if maxPairs <= 0 {
		maxPairs = DefaultMaxPairs
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[MEMORY] ", log.LstdFlags)
	}
	return &Memory{store: st, maxPairs: maxPairs, metrics: metrics, logger: logger}
}

// MaxPairs reports the configured recent-history window.
func (m *Memory) MaxPairs() int { return m.maxPairs }

// NextSequenceID returns the number the next user turn is expected to get.
// The value is a preview; AppendPair assigns the authoritative numbers.
func (m *Memory) NextSequenceID(ctx context.Context, userID, sessionID string) (int, error) {
	return m.store.NextSequenceID(ctx, userID, sessionID)
}

// AppendPair persists one exchange. A failure is logged and counted before
// it is returned; whether it ends the exchange is the caller's decision. On
// success the turns carry their final sequence numbers.
func (m *Memory) AppendPair(ctx context.Context, user, assistant *store.Turn) error {
	if err := m.store.AppendTurnPair(ctx, user, assistant); err != nil {
		m.logger.Printf("append turn pair user=%s session=%s: %v", user.UserID, user.SessionID, err)
		m.metrics.PersistFailed()
		return fmt.Errorf("append turn pair: %w", err)
	}
	return nil
}

// FetchRecent returns up to maxPairs exchanges (2*maxPairs turns) in
// ascending sequence order. maxPairs <= 0 uses the configured window.
func (m *Memory) FetchRecent(ctx context.Context, userID, sessionID string, maxPairs int) ([]store.Turn, error) {
	if maxPairs <= 0 {
		maxPairs = m.maxPairs
	}
	return m.store.ListRecentTurns(ctx, userID, sessionID, maxPairs*2)
}

// FetchAll returns the complete session history in ascending order.
func (m *Memory) FetchAll(ctx context.Context, userID, sessionID string) ([]store.Turn, error) {
	return m.store.ListTurns(ctx, userID, sessionID)
}

// RenderHistory formats turns for a prompt, one entry per turn separated by a
// blank line.
func RenderHistory(turns []store.Turn) string {
	entries := make([]string, 0, len(turns))
	for _, t := range turns {
		var b strings.Builder
		b.WriteString("[" + title(string(t.Role)) + "] " + t.TextContent)
		if t.ReasoningContent != nil && *t.ReasoningContent != "" {
			b.WriteString("\n  (Reasoning: " + *t.ReasoningContent + ")")
		}
		for _, a := range t.Attachments {
			b.WriteString("\n  (Attachment: [" + title(string(a.Type)) + "] " + a.URL + ")")
		}
		entries = append(entries, b.String())
	}
	return strings.Join(entries, "\n\n")
}

func title(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
