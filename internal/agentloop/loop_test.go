package agentloop

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rlmrun/rlmrun/internal/eventbus"
	"github.com/rlmrun/rlmrun/internal/llmclient"
	"github.com/rlmrun/rlmrun/internal/orcherr"
	"github.com/rlmrun/rlmrun/internal/sandbox"
	"github.com/rlmrun/rlmrun/internal/trace"
)

func newLoop(client llmclient.Client) (*Loop, *trace.Tree) {
	exec := &trace.Execution{ID: "exec-1", Status: trace.ExecRunning, StartedAt: time.Now()}
	tree := trace.NewTree(exec)
	return New(client, tree, eventbus.New()), tree
}

func noQuery(_ *sandbox.Interp, _ []sandbox.Value) (sandbox.Value, error) {
	return sandbox.Value{}, errors.New("llm_query not expected")
}

func TestLoopRootTrivialFinal(t *testing.T) {
	fake := &llmclient.FakeClient{Responses: []llmclient.FakeResponse{
		{WhenContains: "echo", Text: "```\nFINAL(context)\n```"},
	}}
	loop, _ := newLoop(fake)

	node, err := loop.Run(context.Background(), Request{
		ExecutionID: "exec-1", NodeType: trace.NodeTypeRoot, Query: "echo", Context: "abc",
		Model: "gpt-4o-mini", LLMQuery: noQuery,
	})
	require.NoError(t, err)
	assert.Equal(t, trace.NodeCompleted, node.Status)
	assert.Equal(t, "abc", node.Output)
	assert.Equal(t, 0, node.Sequence)
}

func TestLoopChildReturnsRawText(t *testing.T) {
	fake := &llmclient.FakeClient{Responses: []llmclient.FakeResponse{
		{WhenContains: "summarize", Text: "the raw answer"},
	}}
	loop, _ := newLoop(fake)

	node, err := loop.Run(context.Background(), Request{
		ExecutionID: "exec-1", NodeType: trace.NodeTypeChild, Depth: 1, ParentNodeID: "root-id",
		Query: "summarize this chunk", Context: "abc", Model: "gpt-4o-mini",
	})
	require.NoError(t, err)
	assert.Equal(t, trace.NodeCompleted, node.Status)
	assert.Equal(t, "the raw answer", node.Output)
	assert.Empty(t, node.Program)
}

func TestLoopSandboxViolationFailsNode(t *testing.T) {
	fake := &llmclient.FakeClient{Responses: []llmclient.FakeResponse{
		{WhenContains: "", Text: "```\nFINAL(os_system(\"rm -rf /\"))\n```"},
	}}
	loop, _ := newLoop(fake)

	node, err := loop.Run(context.Background(), Request{
		ExecutionID: "exec-1", NodeType: trace.NodeTypeRoot, Query: "q", Context: "c",
		Model: "gpt-4o-mini", LLMQuery: noQuery,
	})
	require.Error(t, err)
	assert.Equal(t, trace.NodeFailed, node.Status)
	assert.Equal(t, string(orcherr.SandboxViolation), node.ErrorKind)
}

func TestLoopNoFinalFailsNode(t *testing.T) {
	fake := &llmclient.FakeClient{Responses: []llmclient.FakeResponse{
		{WhenContains: "", Text: "```\nx = 1 + 1\n```"},
	}}
	loop, _ := newLoop(fake)

	node, err := loop.Run(context.Background(), Request{
		ExecutionID: "exec-1", NodeType: trace.NodeTypeRoot, Query: "q", Context: "c",
		Model: "gpt-4o-mini", LLMQuery: noQuery,
	})
	require.Error(t, err)
	assert.Equal(t, trace.NodeFailed, node.Status)
	assert.Equal(t, string(orcherr.NoFinal), node.ErrorKind)
}

func TestLoopProviderErrorFailsNode(t *testing.T) {
	fake := &llmclient.FakeClient{Responses: []llmclient.FakeResponse{
		{WhenContains: "", Err: errors.New("503 service unavailable")},
	}}
	loop, _ := newLoop(fake)

	node, err := loop.Run(context.Background(), Request{
		ExecutionID: "exec-1", NodeType: trace.NodeTypeRoot, Query: "q", Context: "c", Model: "gpt-4o-mini",
	})
	require.Error(t, err)
	assert.Equal(t, trace.NodeFailed, node.Status)
	assert.Equal(t, string(orcherr.ProviderError), node.ErrorKind)
}

func TestLoopMapReduceCallsLLMQueryInSequence(t *testing.T) {
	fake := &llmclient.FakeClient{Responses: []llmclient.FakeResponse{
		{WhenContains: "", Text: "```\nchunks = split(context, \"|\")\nparts = []\nfor c in chunks {\n    parts = parts + [llm_query(c)]\n}\nFINAL(join(parts, \"-\"))\n```"},
	}}
	loop, _ := newLoop(fake)

	var seen []string
	query := func(_ *sandbox.Interp, args []sandbox.Value) (sandbox.Value, error) {
		seen = append(seen, args[0].Str)
		return sandbox.Str("R(" + args[0].Str + ")"), nil
	}

	node, err := loop.Run(context.Background(), Request{
		ExecutionID: "exec-1", NodeType: trace.NodeTypeRoot, Query: "q", Context: "a|b|c",
		Model: "gpt-4o-mini", LLMQuery: query,
	})
	require.NoError(t, err)
	assert.Equal(t, trace.NodeCompleted, node.Status)
	assert.Equal(t, []string{"a", "b", "c"}, seen)
	assert.Equal(t, "R(a)-R(b)-R(c)", node.Output)
}

func TestLoopPublishesNodeStartedAndTerminalEvents(t *testing.T) {
	fake := &llmclient.FakeClient{Responses: []llmclient.FakeResponse{
		{WhenContains: "", Text: "```\nFINAL(\"done\")\n```"},
	}}
	exec := &trace.Execution{ID: "exec-1", Status: trace.ExecRunning, StartedAt: time.Now()}
	tree := trace.NewTree(exec)
	bus := eventbus.New()
	ch, unsub := bus.Subscribe()
	defer unsub()
	loop := New(fake, tree, bus)

	_, err := loop.Run(context.Background(), Request{
		ExecutionID: "exec-1", NodeType: trace.NodeTypeRoot, Query: "q", Context: "c",
		Model: "gpt-4o-mini", LLMQuery: noQuery,
	})
	require.NoError(t, err)

	var kinds []eventbus.Kind
	for i := 0; i < 3; i++ {
		select {
		case ev := <-ch:
			kinds = append(kinds, ev.Kind)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
	assert.Equal(t, []eventbus.Kind{eventbus.NodeStarted, eventbus.NodeCode, eventbus.NodeOutput}, kinds)
}
