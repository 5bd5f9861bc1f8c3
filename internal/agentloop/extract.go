package agentloop

import "strings"

// extractProgram pulls the program source out of a root LM response per
// spec.md §4.2 step 4: the content of the first fenced code block
// (``` or ```python, language tag ignored); if no fenced block exists,
// the entire response is treated as the program. Grounded on the
// teacher's pattern of treating raw LM text as a payload to parse
// (runtime.go's luaRun/signalToTable), generalized here from "parse a
// JSON signal" to "extract a fenced code block".
func extractProgram(response string) string {
	const fence = "```"

	start := strings.Index(response, fence)
	if start == -1 {
		return strings.TrimSpace(response)
	}

	afterOpen := start + len(fence)
	// Skip an optional language tag up to the next newline.
	if nl := strings.IndexByte(response[afterOpen:], '\n'); nl != -1 {
		afterOpen += nl + 1
	}

	end := strings.Index(response[afterOpen:], fence)
	if end == -1 {
		return strings.TrimSpace(response[afterOpen:])
	}

	return strings.TrimSpace(response[afterOpen : afterOpen+end])
}
