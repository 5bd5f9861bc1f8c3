package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rlmrun/rlmrun/internal/trace"
)

func newTestDB(t *testing.T) *SQLite {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := New(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSaveAndLoadExecutionRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	exec := trace.Execution{
		ID: "exec-1", SessionID: "s1", Query: "q", ContextSize: 10,
		Status: trace.ExecCompleted, StartedAt: time.Now().Truncate(time.Second),
		TotalInputTokens: 5, TotalOutputTokens: 7, TotalCostUSD: 0.01, FinalResult: "done",
	}
	require.NoError(t, db.SaveExecution(ctx, exec))

	node := trace.Node{
		ID: "node-1", ExecutionID: "exec-1", NodeType: trace.NodeTypeRoot, Depth: 0, Sequence: 0,
		Prompt: "p", Program: "FINAL(1)", Status: trace.NodeCompleted, StartedAt: time.Now().Truncate(time.Second),
		Model: "gpt-4o-mini", Output: "1", MemoryBefore: map[string]any{}, MemoryAfter: map[string]any{"a": float64(1)},
	}
	require.NoError(t, db.SaveNode(ctx, node))

	tree, err := db.LoadTree(ctx, "exec-1")
	require.NoError(t, err)

	loadedExec := tree.Execution()
	assert.Equal(t, "s1", loadedExec.SessionID)
	assert.Equal(t, "done", loadedExec.FinalResult)
	assert.Equal(t, 5, loadedExec.TotalInputTokens)

	root, ok := tree.Root()
	require.True(t, ok)
	assert.Equal(t, "1", root.Output)
	assert.Equal(t, float64(1), root.MemoryAfter["a"])
}

func TestSaveExecutionUpsertsOnConflict(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	exec := trace.Execution{ID: "exec-1", Query: "q", Status: trace.ExecRunning, StartedAt: time.Now()}
	require.NoError(t, db.SaveExecution(ctx, exec))

	exec.Status = trace.ExecCompleted
	exec.FinalResult = "done"
	require.NoError(t, db.SaveExecution(ctx, exec))

	tree, err := db.LoadTree(ctx, "exec-1")
	require.NoError(t, err)
	loaded := tree.Execution()
	assert.Equal(t, trace.ExecCompleted, loaded.Status)
	assert.Equal(t, "done", loaded.FinalResult)
}

func TestListExecutionsOrdersNewestFirst(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	older := trace.Execution{ID: "exec-old", Query: "q1", Status: trace.ExecCompleted, StartedAt: time.Now().Add(-time.Hour)}
	newer := trace.Execution{ID: "exec-new", Query: "q2", Status: trace.ExecCompleted, StartedAt: time.Now()}
	require.NoError(t, db.SaveExecution(ctx, older))
	require.NoError(t, db.SaveExecution(ctx, newer))

	execs, err := db.ListExecutions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, execs, 2)
	assert.Equal(t, "exec-new", execs[0].ID)
	assert.Equal(t, "exec-old", execs[1].ID)
}

func TestSaveNodePersistsParentChildLink(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.SaveExecution(ctx, trace.Execution{ID: "exec-1", Query: "q", Status: trace.ExecRunning, StartedAt: time.Now()}))

	root := trace.Node{ID: "root", ExecutionID: "exec-1", NodeType: trace.NodeTypeRoot, Status: trace.NodeCompleted, StartedAt: time.Now()}
	child := trace.Node{ID: "child", ExecutionID: "exec-1", ParentNodeID: "root", NodeType: trace.NodeTypeChild, Depth: 1, Sequence: 0, Status: trace.NodeCompleted, StartedAt: time.Now()}
	require.NoError(t, db.SaveNode(ctx, root))
	require.NoError(t, db.SaveNode(ctx, child))

	tree, err := db.LoadTree(ctx, "exec-1")
	require.NoError(t, err)
	children := tree.Children("root")
	require.Len(t, children, 1)
	assert.Equal(t, "child", children[0].ID)
}
