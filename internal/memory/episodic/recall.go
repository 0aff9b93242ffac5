package episodic

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/mohammad-safakhou/waypoint/internal/agent/core"
	"github.com/mohammad-safakhou/waypoint/internal/runtime"
	"github.com/mohammad-safakhou/waypoint/internal/store"
)

// Sentinels returned by Recall.Search instead of an empty string or an error.
const (
	NoMemoriesFound    = "No similar episodic memories found."
	searchErrorPrefix  = "Error searching episodic memory: "
	DefaultSearchLimit = 2
)

// SummarySearcher runs the per-user similarity search.
type SummarySearcher interface {
	SearchSessionSummaries(ctx context.Context, userID string, vector []float32, limit int) ([]store.SummaryMatch, error)
}

// Recall finds past sessions of the same user that resemble a new query.
type Recall struct {
	search   SummarySearcher
	embedder core.Embedder
	model    string
	limit    int
	metrics  *runtime.Metrics
	logger   *log.Logger
}

func NewRecall(search SummarySearcher, embedder core.Embedder, model string, limit int, metrics *runtime.Metrics, logger *log.Logger) *Recall {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[EPISODIC] ", log.LstdFlags)
	}
	return &Recall{search: search, embedder: embedder, model: model, limit: limit, metrics: metrics, logger: logger}
}

// Search returns a prompt-ready block describing the closest past sessions,
// most similar first. It never fails: errors become a descriptive sentinel.
func (r *Recall) Search(ctx context.Context, userID, query string, limit int) string {
	block, err := r.Lookup(ctx, userID, query, limit)
	if err != nil {
		r.logger.Printf("warn: recall user=%s: %v", userID, err)
		r.metrics.Degraded("recall")
		return SearchErrorText(err)
	}
	return block
}

// Lookup is Search with the failure returned to the caller. A miss is not an
// error and yields NoMemoriesFound.
func (r *Recall) Lookup(ctx context.Context, userID, query string, limit int) (string, error) {
	if limit <= 0 {
		limit = r.limit
	}
	matches, err := r.lookup(ctx, userID, query, limit)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return NoMemoriesFound, nil
	}
	return FormatMatches(matches), nil
}

// SearchErrorText is the sentinel Search returns for err.
func SearchErrorText(err error) string {
	return searchErrorPrefix + err.Error()
}

func (r *Recall) lookup(ctx context.Context, userID, query string, limit int) ([]store.SummaryMatch, error) {
	vecs, err := r.embedder.Embed(ctx, r.model, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embed query: expected 1 vector, got %d", len(vecs))
	}
	matches, err := r.search.SearchSessionSummaries(ctx, userID, vecs[0], limit)
	if err != nil {
		return nil, err
	}
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// FormatMatches renders search hits, one block per session separated by a
// blank line.
func FormatMatches(matches []store.SummaryMatch) string {
	blocks := make([]string, 0, len(matches))
	for _, m := range matches {
		blocks = append(blocks, fmt.Sprintf(
			"Episodic Memory from Session: %q\nSession Tags: %s\n- What worked: %s\n- What did not work: %s\n- What to avoid: %s",
			m.SessionName, strings.Join(m.SessionTags, ", "), m.WhatWorked, m.WhatNotWorked, m.WhatToAvoid))
	}
	return strings.Join(blocks, "\n\n")
}

// IsSentinel reports whether a Search result carries no recalled memories.
func IsSentinel(block string) bool {
	return block == "" || block == NoMemoriesFound || strings.HasPrefix(block, searchErrorPrefix)
}
