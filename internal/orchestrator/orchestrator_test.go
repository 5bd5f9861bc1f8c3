package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rlmrun/rlmrun/internal/config"
	"github.com/rlmrun/rlmrun/internal/eventbus"
	"github.com/rlmrun/rlmrun/internal/llmclient"
	"github.com/rlmrun/rlmrun/internal/orcherr"
	"github.com/rlmrun/rlmrun/internal/session"
	"github.com/rlmrun/rlmrun/internal/trace"
)

func testConfig() *config.Config {
	return &config.Config{
		MaxContextSize:    1000,
		DefaultChunkSize:  100,
		MaxRecursionDepth: 3,
		ExecutionTimeout:  5 * time.Second,
		DefaultModel:      "gpt-4o-mini",
	}
}

func TestOrchestratorTrivialFinal(t *testing.T) {
	fake := &llmclient.FakeClient{Responses: []llmclient.FakeResponse{
		{WhenContains: "", Text: "```\nFINAL(context)\n```"},
	}}
	o := New(fake, testConfig(), session.NewInMemory())

	tree, err := o.Run(context.Background(), Request{Query: "q", Context: "hello"}, nil)
	require.NoError(t, err)
	exec := tree.Execution()
	assert.Equal(t, trace.ExecCompleted, exec.Status)
	assert.Equal(t, "hello", exec.FinalResult)

	root, ok := tree.Root()
	require.True(t, ok)
	assert.Equal(t, 0, root.Depth)
	assert.Equal(t, 0, root.Sequence)
}

func TestOrchestratorRecursiveMapReduce(t *testing.T) {
	fake := &llmclient.FakeClient{Responses: []llmclient.FakeResponse{
		{WhenContains: "", Text: "```\nchunks = split(context, \"|\")\nparts = []\nfor c in chunks {\n    parts = parts + [llm_query(c)]\n}\nFINAL(join(parts, \"-\"))\n```"},
	}}
	o := New(fake, testConfig(), session.NewInMemory())

	// The first LM call always matches the root response above (its
	// WhenContains is ""); child calls hit the same fake responses list,
	// so each child's response also parses as that same program. To keep
	// this test about recursion shape rather than prompt content, give
	// child nodes a response whose program immediately FINALs on its
	// query so recursion terminates at depth 1.
	fake.Responses = []llmclient.FakeResponse{
		{WhenContains: "a|b", Text: "```\nchunks = split(context, \"|\")\nparts = []\nfor c in chunks {\n    parts = parts + [llm_query(c)]\n}\nFINAL(join(parts, \"-\"))\n```"},
		{WhenContains: "a", Text: "```\nFINAL(\"R(\" + context + \")\")\n```"},
		{WhenContains: "b", Text: "```\nFINAL(\"R(\" + context + \")\")\n```"},
	}

	tree, err := o.Run(context.Background(), Request{Query: "q", Context: "a|b"}, nil)
	require.NoError(t, err)
	exec := tree.Execution()
	assert.Equal(t, trace.ExecCompleted, exec.Status)

	root, ok := tree.Root()
	require.True(t, ok)
	children := tree.Children(root.ID)
	require.Len(t, children, 2)
	assert.Equal(t, 0, children[0].Sequence)
	assert.Equal(t, 1, children[1].Sequence)
	for _, c := range children {
		assert.Equal(t, root.ID, c.ParentNodeID)
		assert.Equal(t, 1, c.Depth)
	}
}

func TestOrchestratorRecursionLimitFailsExecution(t *testing.T) {
	// A program that always recurses one level deeper than its caller.
	recurse := "```\nFINAL(llm_query(context))\n```"
	fake := &llmclient.FakeClient{Responses: []llmclient.FakeResponse{
		{WhenContains: "", Text: recurse},
	}}
	cfg := testConfig()
	cfg.MaxRecursionDepth = 2
	o := New(fake, cfg, session.NewInMemory())

	tree, err := o.Run(context.Background(), Request{Query: "q", Context: "c"}, nil)
	require.NoError(t, err)
	exec := tree.Execution()
	assert.Equal(t, trace.ExecFailed, exec.Status)
	assert.Equal(t, string(orcherr.RecursionLimit), exec.ErrorKind)
}

func TestOrchestratorContextTooLargeRejectedAtEntry(t *testing.T) {
	fake := &llmclient.FakeClient{}
	cfg := testConfig()
	cfg.MaxContextSize = 3
	o := New(fake, cfg, session.NewInMemory())

	tree, err := o.Run(context.Background(), Request{Query: "q", Context: "way too long"}, nil)
	require.Error(t, err)
	assert.Nil(t, tree)
	oe, ok := err.(*orcherr.Error)
	require.True(t, ok)
	assert.Equal(t, orcherr.ContextTooLarge, oe.Kind)
}

func TestOrchestratorProviderErrorFailsExecution(t *testing.T) {
	fake := &llmclient.FakeClient{Responses: []llmclient.FakeResponse{
		{WhenContains: "", Err: errors.New("503 service unavailable")},
	}}
	o := New(fake, testConfig(), session.NewInMemory())

	tree, err := o.Run(context.Background(), Request{Query: "q", Context: "c"}, nil)
	require.NoError(t, err)
	exec := tree.Execution()
	assert.Equal(t, trace.ExecFailed, exec.Status)
	assert.Equal(t, string(orcherr.ProviderError), exec.ErrorKind)
}

func TestOrchestratorMergesMemoryBackToSession(t *testing.T) {
	fake := &llmclient.FakeClient{Responses: []llmclient.FakeResponse{
		{WhenContains: "", Text: "```\nmemory[\"count\"] = 1\nFINAL(\"done\")\n```"},
	}}
	sessions := session.NewInMemory()
	o := New(fake, testConfig(), sessions)

	_, err := o.Run(context.Background(), Request{Query: "q", Context: "c", SessionID: "s1"}, nil)
	require.NoError(t, err)

	rec, err := sessions.Load(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Memory["count"])
}

func TestOrchestratorPublishesExecutionEvents(t *testing.T) {
	fake := &llmclient.FakeClient{Responses: []llmclient.FakeResponse{
		{WhenContains: "", Text: "```\nFINAL(\"done\")\n```"},
	}}
	o := New(fake, testConfig(), session.NewInMemory())
	bus := eventbus.New()
	ch, unsub := bus.Subscribe()
	defer unsub()

	_, err := o.Run(context.Background(), Request{Query: "q", Context: "c"}, bus)
	require.NoError(t, err)

	var kinds []eventbus.Kind
	for i := 0; i < 5; i++ {
		select {
		case ev := <-ch:
			kinds = append(kinds, ev.Kind)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
	assert.Equal(t, []eventbus.Kind{
		eventbus.ExecutionStarted, eventbus.NodeStarted, eventbus.NodeCode, eventbus.NodeOutput, eventbus.ExecutionCompleted,
	}, kinds)
}
