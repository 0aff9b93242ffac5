package orchestrator

// RunEvent is one raw event of a run. The concrete types below are the only
// implementations; consumers switch over them exhaustively.
type RunEvent interface {
	runEvent()
}

// Dispatched reports the capability chosen for the run.
type Dispatched struct {
	Capability string
}

// ReasoningStep is a piece of the model's visible reasoning. ID, when set,
// identifies the step for de-duplication.
type ReasoningStep struct {
	ID   string
	Text string
}

// ToolCallStarted announces an external call.
type ToolCallStarted struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolCallCompleted reports the outcome of an external call.
type ToolCallCompleted struct {
	ID     string
	Name   string
	Args   map[string]any
	Result string
	Err    error
}

// ContentDelta is an incremental piece of the answer. It is informational
// only; RunCompleted carries the authoritative text.
type ContentDelta struct {
	Text string
}

// RunCompleted carries the raw accumulated answer and reasoning. The content
// is not yet cleaned for display.
type RunCompleted struct {
	Capability string
	Content    string
	Reasoning  string
}

// RunError terminates a run that could not complete.
type RunError struct {
	Capability string
	Err        error
}

func (Dispatched) runEvent()        {}
func (ReasoningStep) runEvent()     {}
func (ToolCallStarted) runEvent()   {}
func (ToolCallCompleted) runEvent() {}
func (ContentDelta) runEvent()      {}
func (RunCompleted) runEvent()      {}
func (RunError) runEvent()          {}
