package helpers

import (
	"errors"
	"strings"
)

// ErrNoJSON is returned when no balanced JSON value is present.
var ErrNoJSON = errors.New("no balanced JSON object/array found")

// ExtractJSON returns the first balanced JSON object or array in s. Model
// output often wraps the payload in a ```json fence or surrounds it with
// prose; both are tolerated.
func ExtractJSON(s string) (string, error) {
	s = strings.TrimSpace(strings.TrimPrefix(s, "\uFEFF"))
	if inner, ok := unfence(s); ok {
		s = strings.TrimSpace(inner)
	}
	for i := 0; i < len(s); i++ {
		if s[i] != '{' && s[i] != '[' {
			continue
		}
		if end, ok := balancedEnd(s, i); ok {
			return s[i : end+1], nil
		}
	}
	return "", ErrNoJSON
}

// unfence strips a leading ``` or ~~~ block, dropping its language tag.
func unfence(s string) (string, bool) {
	for _, fence := range []string{"```", "~~~"} {
		if !strings.HasPrefix(s, fence) {
			continue
		}
		rest := s[len(fence):]
		nl := strings.IndexByte(rest, '\n')
		if nl == -1 {
			return "", false
		}
		rest = rest[nl+1:]
		if end := strings.Index(rest, fence); end != -1 {
			return rest[:end], true
		}
		return rest, true
	}
	return "", false
}

// balancedEnd returns the index of the bracket closing the value opened at
// start. Brackets inside string literals are ignored.
func balancedEnd(s string, start int) (int, bool) {
	var (
		stack    []byte
		inString bool
		escaped  bool
	)
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return 0, false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i, true
			}
		}
	}
	return 0, false
}
