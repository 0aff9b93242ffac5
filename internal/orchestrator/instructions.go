package orchestrator

import "strings"

// Context is the per-run memory injected into a capability's instructions.
type Context struct {
	Episodic string // recalled summaries of similar past sessions
	Working  string // recent turns of the current session
}

const (
	episodicHeader = "--- EPISODIC MEMORY (similar past sessions with this user) ---"
	workingHeader  = "--- RECENT CONVERSATION (this session) ---"
)

// RenderInstructions returns base extended with the non-empty context blocks,
// episodic first and working second. base itself is never modified, so one
// capability can serve concurrent runs with different contexts.
func RenderInstructions(base string, c Context) string {
	parts := []string{}
	if s := strings.TrimSpace(base); s != "" {
		parts = append(parts, s)
	}
	if s := strings.TrimSpace(c.Episodic); s != "" {
		parts = append(parts, episodicHeader+"\n"+s)
	}
	if s := strings.TrimSpace(c.Working); s != "" {
		parts = append(parts, workingHeader+"\n"+s)
	}
	return strings.Join(parts, "\n\n")
}
