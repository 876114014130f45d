package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEnvDefaults(t *testing.T) {
	env, err := LoadEnv()
	require.NoError(t, err)

	assert.Equal(t, "local", env.Env)
	assert.Equal(t, 3, env.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, env.RetryInitial)
	assert.Equal(t, 60*time.Second, env.ToolTimeout)
	assert.Equal(t, 2048, env.ContextBudget)
	assert.Equal(t, 3, env.MaxCorrections)
	assert.Equal(t, 8, env.MaxToolRounds)
	assert.Equal(t, ".taskmesh/data", env.Dir)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("TASKMESH_EXECUTOR_MAX_RETRIES", "7")
	t.Setenv("TASKMESH_MEMORY_CONTEXT_BUDGET", "512")
	t.Setenv("TASKMESH_WORKSPACE_FSYNC", "true")

	env, err := LoadEnv()
	require.NoError(t, err)

	assert.Equal(t, 7, env.MaxRetries)
	assert.Equal(t, 512, env.ContextBudget)
	assert.True(t, env.Fsync)
}

func TestLoadEnvRejectsMalformedValues(t *testing.T) {
	t.Setenv("TASKMESH_EXECUTOR_RETRY_INITIAL", "not-a-duration")

	_, err := LoadEnv()
	assert.Error(t, err)
}

func TestSlogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, (&BaseEnv{LogLevel: "debug"}).SlogLevel())
	assert.Equal(t, slog.LevelInfo, (&BaseEnv{LogLevel: "bogus"}).SlogLevel())
	assert.Equal(t, slog.LevelInfo, (*BaseEnv)(nil).SlogLevel())
}
