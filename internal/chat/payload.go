package chat

import (
	"github.com/mohammad-safakhou/waypoint/internal/aggregator"
	"github.com/mohammad-safakhou/waypoint/internal/store"
)

// UserMessage is the persisted user turn as reported to the client.
type UserMessage struct {
	SequenceID  int                `json:"sequence_id"`
	TextContent string             `json:"text_content"`
	Attachments []store.Attachment `json:"attachments"`
}

// AssistantResponse is the persisted assistant turn as reported to the client.
type AssistantResponse struct {
	SequenceID       int     `json:"sequence_id"`
	TextContent      string  `json:"text_content"`
	ReasoningContent *string `json:"reasoning_content"`
}

// Persistence reports what happened to the exchange after streaming.
type Persistence struct {
	SavedToDB            bool `json:"saved_to_db"`
	WorkingMemoryUpdated bool `json:"working_memory_updated"`
}

// FinalData is the end event payload.
type FinalData struct {
	Success           bool              `json:"success"`
	SessionID         string            `json:"session_id"`
	UserMessage       UserMessage       `json:"user_message"`
	AssistantResponse AssistantResponse `json:"assistant_response"`
	Persistence       Persistence       `json:"persistence"`
}

// ErrorData is the payload attached to a failed run.
type ErrorData struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	SessionID string `json:"session_id"`
}

// Final replaces the aggregator's End once the turn pair has been persisted.
type Final struct {
	Data FinalData
}

// Failed replaces the aggregator's Error with the session it belongs to.
type Failed struct {
	Message string
	Data    ErrorData
}

func (Final) Kind() aggregator.Kind  { return aggregator.KindEnd }
func (Failed) Kind() aggregator.Kind { return aggregator.KindError }
