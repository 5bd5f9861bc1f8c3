package agentloop

import "github.com/rlmrun/rlmrun/internal/sandbox"

// memoryToDict converts a session-style JSON-value map into the
// sandbox's Dict/Value representation so a program can read and mutate
// it as the `memory` global. Delegates to sandbox.MapToDict, which the
// orchestrator also uses when snapshotting a parent's live memory for a
// recursive llm_query call.
func memoryToDict(m map[string]any) *sandbox.Dict {
	return sandbox.MapToDict(m)
}

// dictToMemory converts the sandbox's Dict back into a session-style
// JSON-value map, used to snapshot memory_after on each node.
func dictToMemory(d *sandbox.Dict) map[string]any {
	return sandbox.DictToMap(d)
}
