package core

import (
	"crypto/rand"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewID generates a UUID-based identifier for entities (tasks, tool calls,
// memory items) where ordering does not matter.
func NewID() string { return uuid.NewString() }

// NewOrderedID generates a ULID. ULIDs sort lexicographically by creation
// time, which makes them the right shape for step and event identifiers that
// appear in the append-only log.
func NewOrderedID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}
