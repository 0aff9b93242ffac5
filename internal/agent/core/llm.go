package core

import "context"

// Message is one chat message handed to a model. Images are URLs sent as
// image parts alongside Content by providers that accept them.
type Message struct {
	Role    string
	Content string
	Images  []string
}

// CompletionRequest is a single non-streaming model call.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// Completer produces one complete text answer.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// StructuredRequest asks a model for output constrained to the JSON schema of
// Target. The decoded result is written into Target, which must be a pointer.
type StructuredRequest struct {
	Model      string
	System     string
	Prompt     string
	SchemaName string
	Target     any
}

// StructuredGenerator produces schema-constrained output.
type StructuredGenerator interface {
	GenerateStructured(ctx context.Context, req StructuredRequest) error
}

// Embedder generates vector embeddings for the provided inputs.
type Embedder interface {
	Embed(ctx context.Context, model string, input []string) ([][]float32, error)
}

// StreamRequest is a streaming model call.
type StreamRequest struct {
	Model          string
	System         string
	Messages       []Message
	MaxTokens      int
	ThinkingBudget int
}

// StreamChunk is one incremental piece of a streamed answer. Exactly one of
// Text or Thinking is set.
type StreamChunk struct {
	Text     string
	Thinking string
}

// Streamer streams a model answer chunk by chunk. onChunk is called in stream
// order; returning an error from it aborts the stream. The accumulated final
// text is returned once the stream completes.
type Streamer interface {
	Stream(ctx context.Context, req StreamRequest, onChunk func(StreamChunk) error) (string, error)
}
