package core

import "errors"

var (
	// ErrArtifactNotFound is returned when a task/name/version triple does
	// not exist in the artifact store.
	ErrArtifactNotFound = errors.New("artifact not found")

	// ErrNoSnapshot is returned by LoadSnapshot when no snapshot has been
	// persisted for the task yet; callers fall back to full log replay.
	ErrNoSnapshot = errors.New("no snapshot persisted")
)
