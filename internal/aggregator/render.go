package aggregator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mohammad-safakhou/waypoint/internal/helpers"
)

const (
	maxArgRunes = 400

	// PreparingNotice precedes the response when any reasoning was shown.
	PreparingNotice = "-------------------------------------------\nPreparing final response...\n---"
)

type argField struct {
	key   string
	label string
}

var (
	thinkFields   = []argField{{"title", "Title"}, {"thought", "Thought"}, {"action", "Action"}, {"confidence", "Confidence"}}
	searchFields  = []argField{{"query", "Query"}, {"strategies", "Strategies"}, {"top_k", "Top K"}}
	analyzeFields = []argField{{"title", "Title"}, {"result", "Result"}, {"analysis", "Analysis"}, {"next_action", "Next Action"}, {"confidence", "Confidence"}}
)

// renderArgs summarizes tool arguments one indented line per field.
func renderArgs(tool string, args map[string]any) string {
	if len(args) == 0 {
		return "   (No arguments)"
	}
	var fields []argField
	switch {
	case tool == "think":
		fields = thinkFields
	case tool == "analyze":
		fields = analyzeFields
	case strings.Contains(tool, "search") || strings.Contains(tool, "history") || strings.Contains(tool, "lookup"):
		fields = searchFields
	}
	lines := []string{}
	if fields != nil {
		for _, f := range fields {
			lines = append(lines, fmt.Sprintf("   %s: %s", f.label, argValue(args[f.key])))
		}
		return strings.Join(lines, "\n")
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("   %s: %s", k, argValue(args[k])))
	}
	return strings.Join(lines, "\n")
}

func argValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "N/A"
	case []string:
		return helpers.Truncate(strings.Join(val, ", "), maxArgRunes)
	case []any:
		parts := make([]string, 0, len(val))
		for _, p := range val {
			parts = append(parts, fmt.Sprint(p))
		}
		return helpers.Truncate(strings.Join(parts, ", "), maxArgRunes)
	default:
		return helpers.Truncate(fmt.Sprint(val), maxArgRunes)
	}
}

func renderToolStarted(name string, args map[string]any) string {
	return fmt.Sprintf("Agent Tool: %s\n%s", name, renderArgs(name, args))
}

func renderToolCompleted(name string, args map[string]any, err error) string {
	result := "SUCCESS"
	if err != nil {
		result = "FAILED (" + helpers.Truncate(err.Error(), maxArgRunes) + ")"
	}
	return fmt.Sprintf("Tool Completed: %s\n%s\n   Result: %s", name, renderArgs(name, args), result)
}
