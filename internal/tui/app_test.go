package tui

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rlmrun/rlmrun/internal/eventbus"
)

func TestApplyTracksNodeLifecycle(t *testing.T) {
	a := NewApp(nil)

	a.apply(eventbus.Event{Kind: eventbus.ExecutionStarted})
	assert.Equal(t, "running", a.execStatus)

	a.apply(eventbus.Event{
		Kind: eventbus.NodeStarted, NodeID: "root",
		Fields: map[string]any{"depth": 0, "sequence": 0, "node_type": "root", "prompt_preview": "hello"},
	})
	require.Len(t, a.order, 1)
	assert.Equal(t, "running", a.nodes["root"].status)

	a.apply(eventbus.Event{
		Kind: eventbus.NodeOutput, NodeID: "root",
		Fields: map[string]any{"output_preview": "done", "input_tokens": 10, "output_tokens": 5, "cost_usd": 0.01},
	})
	assert.Equal(t, "completed", a.nodes["root"].status)
	assert.Equal(t, "done", a.nodes["root"].outputPreview)

	a.apply(eventbus.Event{Kind: eventbus.ExecutionCompleted, Fields: map[string]any{"final_result": "done"}})
	assert.Equal(t, "completed", a.execStatus)
	assert.Equal(t, "done", a.finalResult)
}

func TestApplyRecordsNodeFailure(t *testing.T) {
	a := NewApp(nil)
	a.apply(eventbus.Event{Kind: eventbus.NodeStarted, NodeID: "n1", Fields: map[string]any{"depth": 1, "sequence": 0}})
	a.apply(eventbus.Event{
		Kind: eventbus.NodeFailed, NodeID: "n1",
		Fields: map[string]any{"error_kind": "ProviderError", "error_message": "boom"},
	})

	nv := a.nodes["n1"]
	require.NotNil(t, nv)
	assert.Equal(t, "failed", nv.status)
	assert.Equal(t, "ProviderError", nv.errorKind)
}

func TestViewRendersFinalResultOnCompletion(t *testing.T) {
	a := NewApp(nil)
	a.apply(eventbus.Event{Kind: eventbus.NodeStarted, NodeID: "root", Fields: map[string]any{"node_type": "root"}})
	a.apply(eventbus.Event{Kind: eventbus.NodeOutput, NodeID: "root", Fields: map[string]any{"output_preview": "42"}})
	a.apply(eventbus.Event{Kind: eventbus.ExecutionCompleted, Fields: map[string]any{"final_result": "42"}})

	out := a.View()
	assert.True(t, strings.Contains(out, "FINAL"))
	assert.True(t, strings.Contains(out, "42"))
}
