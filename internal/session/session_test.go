package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadUnknownSessionIsEmpty(t *testing.T) {
	repo := NewInMemory()
	rec, err := repo.Load(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.Empty(t, rec.Memory)
}

func TestMergeMemoryIsLastWriterWinsPerKey(t *testing.T) {
	repo := NewInMemory()
	ctx := context.Background()

	require.NoError(t, repo.MergeMemory(ctx, "s1", map[string]any{"a": 1, "b": 2}))
	require.NoError(t, repo.MergeMemory(ctx, "s1", map[string]any{"b": 3, "c": 4}))

	rec, err := repo.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Memory["a"])
	assert.Equal(t, 3, rec.Memory["b"])
	assert.Equal(t, 4, rec.Memory["c"])
}

func TestLoadReturnsIndependentCopy(t *testing.T) {
	repo := NewInMemory()
	ctx := context.Background()
	require.NoError(t, repo.MergeMemory(ctx, "s1", map[string]any{"a": 1}))

	rec, err := repo.Load(ctx, "s1")
	require.NoError(t, err)
	rec.Memory["a"] = 999

	rec2, err := repo.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, rec2.Memory["a"])
}

func TestEmptySessionIDIsNoOp(t *testing.T) {
	repo := NewInMemory()
	ctx := context.Background()
	require.NoError(t, repo.MergeMemory(ctx, "", map[string]any{"a": 1}))
	rec, err := repo.Load(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, rec.Memory)
}
