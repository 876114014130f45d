// Package config provides environment-based runtime tuning. All knobs live
// under the TASKMESH_ namespace and carry workable defaults so a zero-config
// start is always valid.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// BaseEnv holds process-level settings.
type BaseEnv struct {
	Env      string `envconfig:"ENV" default:"local"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// WorkspaceEnv holds workspace persistence settings.
type WorkspaceEnv struct {
	Dir   string `envconfig:"WORKSPACE_DIR" default:".taskmesh/data"`
	Fsync bool   `envconfig:"WORKSPACE_FSYNC" default:"false"`
}

// ExecutorEnv holds retry and timeout tuning for the task executor.
type ExecutorEnv struct {
	MaxRetries     int           `envconfig:"EXECUTOR_MAX_RETRIES" default:"3"`
	RetryInitial   time.Duration `envconfig:"EXECUTOR_RETRY_INITIAL" default:"500ms"`
	RetryFactor    float64       `envconfig:"EXECUTOR_RETRY_FACTOR" default:"2.0"`
	RetryMax       time.Duration `envconfig:"EXECUTOR_RETRY_MAX" default:"30s"`
	ToolTimeout    time.Duration `envconfig:"TOOL_TIMEOUT" default:"60s"`
	StepTimeout    time.Duration `envconfig:"STEP_TIMEOUT" default:"5m"`
	SnapshotEvery  int           `envconfig:"SNAPSHOT_EVERY" default:"1"`
	EventBufferLen int           `envconfig:"EVENT_BUFFER_LEN" default:"64"`
}

// MemoryEnv holds synthesis and retrieval tuning.
type MemoryEnv struct {
	ContextBudget int `envconfig:"MEMORY_CONTEXT_BUDGET" default:"2048"`
	ChunkSize     int `envconfig:"MEMORY_CHUNK_SIZE" default:"200"`
	ChunkOverlap  int `envconfig:"MEMORY_CHUNK_OVERLAP" default:"20"`
	SearchTopK    int `envconfig:"MEMORY_SEARCH_TOP_K" default:"16"`
}

// AgentEnv holds reasoning-loop tuning.
type AgentEnv struct {
	MaxCorrections int `envconfig:"AGENT_MAX_CORRECTIONS" default:"3"`
	MaxToolRounds  int `envconfig:"AGENT_MAX_TOOL_ROUNDS" default:"8"`
}

// Env aggregates all runtime settings.
type Env struct {
	BaseEnv
	WorkspaceEnv
	ExecutorEnv
	MemoryEnv
	AgentEnv
}

const namespace = "TASKMESH"

// LoadEnv reads the environment under the TASKMESH_ prefix.
func LoadEnv() (*Env, error) {
	var env Env
	if err := envconfig.Process(namespace, &env); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}
	return &env, nil
}

// MustLoadEnv is LoadEnv for startup paths where a malformed environment
// variable is unrecoverable; it panics on parse failure.
func MustLoadEnv() *Env {
	env, err := LoadEnv()
	if err != nil {
		panic(err)
	}
	return env
}

// SlogLevel parses LogLevel, defaulting to info on unparsable values.
func (e *BaseEnv) SlogLevel() slog.Level {
	if e == nil {
		return slog.LevelInfo
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(e.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}
