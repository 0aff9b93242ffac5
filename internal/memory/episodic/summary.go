package episodic

import (
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/waypoint/internal/store"
)

// NoPreviousSummary is handed to the summarizer for a session summarized for
// the first time.
const NoPreviousSummary = "No previous session summary exists. Create one from the history."

// Summary is the structured output of one summarization.
type Summary struct {
	SessionName   string   `json:"session_name" description:"Short descriptive title of the session"`
	SessionTags   []string `json:"session_tags" description:"Keywords for destinations, dates, preferences and topics"`
	WhatWorked    string   `json:"what_worked" description:"Approaches and answers the user accepted"`
	WhatNotWorked string   `json:"what_not_worked" description:"Approaches and answers the user rejected or that failed"`
	WhatToAvoid   string   `json:"what_to_avoid" description:"Things to avoid in future conversations with this user"`
	Metadata      string   `json:"metadata" description:"Other durable facts as a compact JSON string"`
}

// Content is the embedding input: every field space-joined in schema order.
func (s Summary) Content() string {
	return strings.Join([]string{
		s.SessionName,
		strings.Join(s.SessionTags, " "),
		s.WhatWorked,
		s.WhatNotWorked,
		s.WhatToAvoid,
		s.Metadata,
	}, " ")
}

func fromRow(row store.SessionSummary) Summary {
	return Summary{
		SessionName:   row.SessionName,
		SessionTags:   row.SessionTags,
		WhatWorked:    row.WhatWorked,
		WhatNotWorked: row.WhatNotWorked,
		WhatToAvoid:   row.WhatToAvoid,
		Metadata:      row.Metadata,
	}
}

// renderPrevious formats an existing summary with the same field names the
// output schema uses.
func renderPrevious(s Summary) string {
	tags := "[]"
	if len(s.SessionTags) > 0 {
		tags = "[" + strings.Join(s.SessionTags, ", ") + "]"
	}
	return fmt.Sprintf("session_name: %s\n\nsession_tags: %s\n\nwhat_worked: %s\n\nwhat_not_worked: %s\n\nwhat_to_avoid: %s\n\nmetadata: %s",
		s.SessionName, tags, s.WhatWorked, s.WhatNotWorked, s.WhatToAvoid, s.Metadata)
}

const summarizerSystem = "You are an expert assistant that summarizes travel-planning conversations for an agent's episodic memory."

func buildPrompt(previous, history string) string {
	var b strings.Builder
	b.WriteString("Update the episodic memory of this session.\n\n")
	b.WriteString("Keep everything from the previous summary that is still true, fold in what the conversation adds, ")
	b.WriteString("and drop statements the conversation contradicts. Write from the assistant's point of view about the user.\n\n")
	b.WriteString("### Previous summary\n")
	b.WriteString(previous)
	b.WriteString("\n\n### Complete conversation history\n")
	b.WriteString(history)
	return b.String()
}
