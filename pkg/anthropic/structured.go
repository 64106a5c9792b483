package anthropic

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Sentinel errors for structured-output extraction. Callers distinguish a
// model that produced nothing from one that produced prose that is not JSON.
var (
	ErrNoStructuredOutput = eris.New("anthropic: response contains no structured output")
	ErrUnparsableOutput   = eris.New("anthropic: response text is not valid JSON")
)

// CleanJSON strips markdown code fences and leading/trailing prose from a
// model response, returning the outermost JSON object. Returns "" when no
// object is present.
func CleanJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end < start {
		return ""
	}
	return s[start : end+1]
}
