package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	for _, k := range []string{"MAX_CONTEXT_SIZE", "DEFAULT_CHUNK_SIZE", "MAX_RECURSION_DEPTH", "EXECUTION_TIMEOUT", "DEFAULT_MODEL"} {
		os.Unsetenv(k)
	}

	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(wd)

	cfg, err := New()
	require.NoError(t, err)
	require.Equal(t, 500000, cfg.MaxContextSize)
	require.Equal(t, 50000, cfg.DefaultChunkSize)
	require.Equal(t, 10, cfg.MaxRecursionDepth)
	require.Equal(t, 300*time.Second, cfg.ExecutionTimeout)
}

func TestFileOverridesWinOverDefaults(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(wd)

	yamlContent := "max_recursion_depth: 3\nexecution_timeout: 10s\ndefault_model: claude-sonnet-4\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".rlmrun.yaml"), []byte(yamlContent), 0644))

	cfg, err := New()
	require.NoError(t, err)
	require.Equal(t, 3, cfg.MaxRecursionDepth)
	require.Equal(t, 10*time.Second, cfg.ExecutionTimeout)
	require.Equal(t, "claude-sonnet-4", cfg.DefaultModel)
}
