package widget

import (
	"strings"

	"github.com/google/uuid"
)

// tempIDPrefix namespaces client-generated ids so they can never collide
// with server-assigned ids.
const tempIDPrefix = "temp-"

// NewTempID returns a client-generated id for an optimistic entity.
func NewTempID() string {
	return tempIDPrefix + uuid.NewString()
}

// IsTempID reports whether an id was generated locally by NewTempID.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, tempIDPrefix)
}

// PendingMutation tracks one optimistic local entity until the server
// responds: Commit hands back the original input consumed, Rollback restores
// it. The chat timeline uses it for sends; CRUD screens reuse it for
// optimistic row updates.
type PendingMutation[T any] struct {
	TempID string
	Entity T
	// Original is the raw user input that produced the entity, kept so a
	// failed mutation can restore the draft exactly as typed.
	Original string
}

// NewPendingMutation wraps an optimistic entity with its original input.
func NewPendingMutation[T any](tempID string, entity T, original string) PendingMutation[T] {
	return PendingMutation[T]{TempID: tempID, Entity: entity, Original: original}
}
