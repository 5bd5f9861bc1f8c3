package agentloop

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// systemMessage is the fixed instruction sent on every call, describing
// the sandbox primitives and the required response format, per spec.md
// §4.2 step 2.
const systemMessage = `You are a code-generation agent inside a recursive orchestrator.
Respond with a program in a small scripting language, inside a single fenced code block.
The program's environment provides:
  context        - a string, the input for this node
  memory         - a mapping you may read and mutate; persists across this execution
  llm_query(s)   - call this with a prompt string to recursively ask a child agent; returns its string output
  FINAL(value)   - call this exactly once to terminate with the node's result
Available built-ins: len, range, enumerate, min, max, sum, sorted, str, int, float, bool, list, dict,
split, join, strip, upper, lower, find, replace, startswith, endswith.
You MUST call FINAL before the program ends, or the execution is treated as failed.
If the context is larger than the advisory chunk size, split it into chunks, call llm_query on each,
then combine the results and call FINAL.`

// contextMetadata is the {size, sha256, sample} triple given to the root
// LM instead of the full context, per spec.md §4.2 step 2.
type contextMetadata struct {
	Size    int
	SHA256  string
	Sample  string
}

func metadataFor(context string) contextMetadata {
	sum := sha256.Sum256([]byte(context))
	sample := context
	if len(sample) > 200 {
		sample = sample[:200]
	}
	return contextMetadata{
		Size:   len(context),
		SHA256: hex.EncodeToString(sum[:]),
		Sample: sample,
	}
}

// rootUserMessage builds the user message for a root node: the query
// plus context metadata and chunk-size guidance, per spec.md §4.2 step 2.
func rootUserMessage(query, context string, defaultChunkSize int) string {
	meta := metadataFor(context)
	return fmt.Sprintf(
		"Query: %s\n\nContext metadata:\n  size: %d characters\n  sha256: %s\n  sample (first 200 chars): %q\n\nAdvisory chunk size: %d characters. The full context is bound to the `context` variable in your program's environment.",
		query, meta.Size, meta.SHA256, meta.Sample, defaultChunkSize,
	)
}

// childUserMessage is exactly the caller's llm_query argument, per
// spec.md §4.2 step 2 ("For non-root nodes the prompt is exactly the
// caller's llm_query argument plus the same system message").
func childUserMessage(prompt string) string {
	return prompt
}
