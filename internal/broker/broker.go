// Package broker delivers room events, either in-process or relayed through
// Redis so that every server instance reaches its own connections.
package broker

import (
	"context"

	"github.com/google/uuid"

	"github.com/nika/server/internal/session"
)

// Local publishes straight into the in-process rooms
type Local struct {
	rooms *session.Rooms
}

// NewLocal creates a local publisher
func NewLocal(rooms *session.Rooms) *Local {
	return &Local{rooms: rooms}
}

// Publish delivers payload to the user's connections on this instance
func (l *Local) Publish(_ context.Context, userID uuid.UUID, payload []byte) error {
	l.rooms.Publish(userID, payload)
	return nil
}
