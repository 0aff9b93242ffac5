package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// SessionSummary is the episodic memory row for one session.
type SessionSummary struct {
	UserID        string    `json:"user_id"`
	SessionID     string    `json:"session_id"`
	SessionName   string    `json:"session_name"`
	SessionTags   []string  `json:"session_tags"`
	WhatWorked    string    `json:"what_worked"`
	WhatNotWorked string    `json:"what_not_worked"`
	WhatToAvoid   string    `json:"what_to_avoid"`
	Metadata      string    `json:"metadata"`
	MessageCount  int       `json:"message_count"`
	Content       string    `json:"content"`
	Embedding     []float32 `json:"-"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// SummaryMatch is one similarity search hit.
type SummaryMatch struct {
	SessionSummary
	Similarity float64 `json:"similarity"`
}

// SessionRef identifies a session.
type SessionRef struct {
	UserID    string
	SessionID string
}

// GetSessionSummary returns the stored summary; ok is false when none exists.
func (s *Store) GetSessionSummary(ctx context.Context, userID, sessionID string) (SessionSummary, bool, error) {
	var (
		sum SessionSummary
		vec pgvector.Vector
	)
	err := s.DB.QueryRowContext(ctx, `
        SELECT user_id, session_id, session_name, session_tags, what_worked, what_not_worked,
               what_to_avoid, metadata, message_count, content, session_embedding, updated_at
        FROM session_summaries
        WHERE user_id = $1 AND session_id = $2`, userID, sessionID).
		Scan(&sum.UserID, &sum.SessionID, &sum.SessionName, pq.Array(&sum.SessionTags), &sum.WhatWorked,
			&sum.WhatNotWorked, &sum.WhatToAvoid, &sum.Metadata, &sum.MessageCount, &sum.Content, &vec, &sum.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionSummary{}, false, nil
	}
	if err != nil {
		return SessionSummary{}, false, fmt.Errorf("get session summary: %w", err)
	}
	sum.Embedding = vec.Slice()
	return sum, true, nil
}

// UpsertSessionSummary writes the summary row, overwriting every field of an
// existing row for the same session.
func (s *Store) UpsertSessionSummary(ctx context.Context, sum SessionSummary) error {
	if sum.UserID == "" || sum.SessionID == "" {
		return fmt.Errorf("upsert session summary: user_id and session_id required")
	}
	if len(sum.Embedding) == 0 {
		return fmt.Errorf("upsert session summary: embedding required")
	}
	tags := sum.SessionTags
	if tags == nil {
		tags = []string{}
	}
	_, err := s.DB.ExecContext(ctx, `
        INSERT INTO session_summaries (user_id, session_id, session_name, session_tags, what_worked, what_not_worked,
                                       what_to_avoid, metadata, message_count, content, session_embedding, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
        ON CONFLICT (user_id, session_id) DO UPDATE SET
            session_name = EXCLUDED.session_name,
            session_tags = EXCLUDED.session_tags,
            what_worked = EXCLUDED.what_worked,
            what_not_worked = EXCLUDED.what_not_worked,
            what_to_avoid = EXCLUDED.what_to_avoid,
            metadata = EXCLUDED.metadata,
            message_count = EXCLUDED.message_count,
            content = EXCLUDED.content,
            session_embedding = EXCLUDED.session_embedding,
            updated_at = NOW()`,
		sum.UserID, sum.SessionID, sum.SessionName, pq.Array(tags), sum.WhatWorked, sum.WhatNotWorked,
		sum.WhatToAvoid, sum.Metadata, sum.MessageCount, sum.Content, pgvector.NewVector(sum.Embedding))
	if err != nil {
		return fmt.Errorf("upsert session summary: %w", err)
	}
	return nil
}

// SearchSessionSummaries returns the user's summaries most similar to vector,
// best first. Results never include another user's rows.
func (s *Store) SearchSessionSummaries(ctx context.Context, userID string, vector []float32, limit int) ([]SummaryMatch, error) {
	if userID == "" {
		return nil, fmt.Errorf("search session summaries: user_id required")
	}
	if limit <= 0 {
		limit = 2
	}
	rows, err := s.DB.QueryContext(ctx, `
        SELECT session_id, session_name, session_tags, what_worked, what_not_worked, what_to_avoid,
               metadata, message_count, updated_at, similarity
        FROM episodic_similarity_search($1, $2, $3)`,
		userID, pgvector.NewVector(vector), limit)
	if err != nil {
		return nil, fmt.Errorf("search session summaries: %w", err)
	}
	defer rows.Close()
	matches := make([]SummaryMatch, 0, limit)
	for rows.Next() {
		m := SummaryMatch{SessionSummary: SessionSummary{UserID: userID}}
		if err := rows.Scan(&m.SessionID, &m.SessionName, pq.Array(&m.SessionTags), &m.WhatWorked, &m.WhatNotWorked,
			&m.WhatToAvoid, &m.Metadata, &m.MessageCount, &m.UpdatedAt, &m.Similarity); err != nil {
			return nil, fmt.Errorf("scan summary match: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate summary matches: %w", err)
	}
	return matches, nil
}

// ListStaleSessions returns sessions whose newest turn is newer than their
// summary, or that have never been summarized, oldest activity first.
func (s *Store) ListStaleSessions(ctx context.Context, limit int) ([]SessionRef, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
        SELECT t.user_id, t.session_id
        FROM turns t
        LEFT JOIN session_summaries s ON s.user_id = t.user_id AND s.session_id = t.session_id
        GROUP BY t.user_id, t.session_id, s.updated_at
        HAVING s.updated_at IS NULL OR MAX(t.created_at) > s.updated_at
        ORDER BY MAX(t.created_at) ASC
        LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale sessions: %w", err)
	}
	defer rows.Close()
	var refs []SessionRef
	for rows.Next() {
		var ref SessionRef
		if err := rows.Scan(&ref.UserID, &ref.SessionID); err != nil {
			return nil, fmt.Errorf("scan session ref: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}
