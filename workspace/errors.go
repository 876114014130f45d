package workspace

import "github.com/hupe1980/taskmesh/core"

// Re-exported so workspace callers need not import core for errors.Is checks.
var (
	ErrArtifactNotFound = core.ErrArtifactNotFound
	ErrNoSnapshot       = core.ErrNoSnapshot
)
