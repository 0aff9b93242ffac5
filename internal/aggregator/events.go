package aggregator

import "github.com/mohammad-safakhou/waypoint/internal/store"

// Kind is the public event type sent to clients.
type Kind string

const (
	KindReasoning Kind = "reasoning"
	KindResponse  Kind = "response"
	KindEnd       Kind = "end"
	KindError     Kind = "error"
)

// Event is one caller-facing event: Reasoning, Response, End or Error.
type Event interface {
	Kind() Kind
}

// Reasoning is a rendered progress notice or reasoning fragment.
type Reasoning struct {
	Content string
}

// Response is the cleaned final answer.
type Response struct {
	Content string
}

// End terminates a successful run and carries the turn pair to persist.
type End struct {
	Capability    string
	Response      string
	Reasoning     string
	UserTurn      store.Turn
	AssistantTurn store.Turn
}

// Error terminates a failed run. No End follows it.
type Error struct {
	Message string
}

func (Reasoning) Kind() Kind { return KindReasoning }
func (Response) Kind() Kind  { return KindResponse }
func (End) Kind() Kind       { return KindEnd }
func (Error) Kind() Kind     { return KindError }
