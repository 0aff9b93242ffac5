package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Role identifies the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// MediaType enumerates attachment kinds.
type MediaType string

const (
	MediaImage MediaType = "image"
	MediaAudio MediaType = "audio"
	MediaVideo MediaType = "video"
	MediaFile  MediaType = "file"
)

// Valid reports whether t is a known media type.
func (t MediaType) Valid() bool {
	switch t {
	case MediaImage, MediaAudio, MediaVideo, MediaFile:
		return true
	}
	return false
}

// Attachment is a typed media reference carried by a turn.
type Attachment struct {
	Type MediaType `json:"type"`
	URL  string    `json:"url"`
}

// Turn is one immutable message of a conversation.
type Turn struct {
	UserID           string       `json:"user_id"`
	SessionID        string       `json:"session_id"`
	SequenceID       int          `json:"sequence_id"`
	Role             Role         `json:"role"`
	TextContent      string       `json:"text_content"`
	ReasoningContent *string      `json:"reasoning_content,omitempty"`
	Attachments      []Attachment `json:"attachments"`
	CreatedAt        time.Time    `json:"created_at,omitempty"`
}

// NextSequenceID returns max(sequence_id)+1 for the session, or 1 when the
// session has no turns yet.
func (s *Store) NextSequenceID(ctx context.Context, userID, sessionID string) (int, error) {
	var next int
	err := s.DB.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence_id), 0) + 1 FROM turns WHERE user_id = $1 AND session_id = $2`,
		userID, sessionID).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next sequence id: %w", err)
	}
	return next, nil
}

// AppendTurnPair inserts a user turn and the assistant turn answering it as
// one atomic unit. The sequence numbers are allocated from the per-session
// counter inside the same transaction, so concurrent exchanges on a session
// never share or skip a number. On success both turns carry their assigned
// SequenceID (user = n, assistant = n+1).
func (s *Store) AppendTurnPair(ctx context.Context, user, assistant *Turn) error {
	if user == nil || assistant == nil {
		return fmt.Errorf("append turn pair: both turns required")
	}
	if user.UserID != assistant.UserID || user.SessionID != assistant.SessionID {
		return fmt.Errorf("append turn pair: turns belong to different sessions")
	}
	userAtt, err := encodeAttachments(user.Attachments)
	if err != nil {
		return err
	}
	asstAtt, err := encodeAttachments(assistant.Attachments)
	if err != nil {
		return err
	}

	var last int
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `
            INSERT INTO session_sequences (user_id, session_id, last_sequence, updated_at)
            VALUES ($1, $2, 2, NOW())
            ON CONFLICT (user_id, session_id)
            DO UPDATE SET last_sequence = session_sequences.last_sequence + 2, updated_at = NOW()
            RETURNING last_sequence`,
			user.UserID, user.SessionID).Scan(&last); err != nil {
			return fmt.Errorf("allocate sequence: %w", err)
		}
		_, err := tx.ExecContext(ctx, `
            INSERT INTO turns (user_id, session_id, sequence_id, role, text_content, reasoning_content, attachments)
            VALUES ($1, $2, $3, $4, $5, $6, $7), ($1, $2, $8, $9, $10, $11, $12)`,
			user.UserID, user.SessionID,
			last-1, string(user.Role), user.TextContent, user.ReasoningContent, userAtt,
			last, string(assistant.Role), assistant.TextContent, assistant.ReasoningContent, asstAtt)
		if err != nil {
			return fmt.Errorf("insert turns: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	user.SequenceID = last - 1
	assistant.SequenceID = last
	return nil
}

// ListRecentTurns returns the newest limit turns of a session in ascending
// sequence order.
func (s *Store) ListRecentTurns(ctx context.Context, userID, sessionID string, limit int) ([]Turn, error) {
	if limit <= 0 {
		return []Turn{}, nil
	}
	rows, err := s.DB.QueryContext(ctx, `
        SELECT user_id, session_id, sequence_id, role, text_content, reasoning_content, attachments, created_at
        FROM turns
        WHERE user_id = $1 AND session_id = $2
        ORDER BY sequence_id DESC
        LIMIT $3`, userID, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent turns: %w", err)
	}
	turns, err := s.scanTurns(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// ListTurns returns the full history of a session in ascending sequence order.
func (s *Store) ListTurns(ctx context.Context, userID, sessionID string) ([]Turn, error) {
	rows, err := s.DB.QueryContext(ctx, `
        SELECT user_id, session_id, sequence_id, role, text_content, reasoning_content, attachments, created_at
        FROM turns
        WHERE user_id = $1 AND session_id = $2
        ORDER BY sequence_id ASC`, userID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	return s.scanTurns(rows)
}

func (s *Store) scanTurns(rows *sql.Rows) ([]Turn, error) {
	defer rows.Close()
	turns := make([]Turn, 0)
	for rows.Next() {
		var (
			t         Turn
			role      string
			reasoning sql.NullString
			rawAtt    []byte
		)
		if err := rows.Scan(&t.UserID, &t.SessionID, &t.SequenceID, &role, &t.TextContent, &reasoning, &rawAtt, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.Role = Role(role)
		if reasoning.Valid {
			r := reasoning.String
			t.ReasoningContent = &r
		}
		t.Attachments = s.decodeAttachments(rawAtt, t.SessionID, t.SequenceID)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}
	return turns, nil
}

func encodeAttachments(atts []Attachment) ([]byte, error) {
	if len(atts) == 0 {
		return []byte("[]"), nil
	}
	b, err := json.Marshal(atts)
	if err != nil {
		return nil, fmt.Errorf("marshal attachments: %w", err)
	}
	return b, nil
}

// decodeAttachments treats malformed stored data as no attachments.
func (s *Store) decodeAttachments(raw []byte, sessionID string, seq int) []Attachment {
	atts := []Attachment{}
	if len(raw) == 0 {
		return atts
	}
	if err := json.Unmarshal(raw, &atts); err != nil {
		s.logger.Printf("warn: malformed attachments for session %s seq %d: %v", sessionID, seq, err)
		return []Attachment{}
	}
	return atts
}
