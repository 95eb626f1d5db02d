package session

import (
	"sync"

	"github.com/google/uuid"
)

// Subscriber receives encoded events for a connection. Deliver must not
// block; it reports false when the event was dropped.
type Subscriber interface {
	Deliver(payload []byte) bool
}

// Rooms is the user id to live connections relation used for fan-out.
type Rooms struct {
	mu    sync.RWMutex
	rooms map[uuid.UUID]map[string]Subscriber
}

// NewRooms creates an empty room set
func NewRooms() *Rooms {
	return &Rooms{rooms: make(map[uuid.UUID]map[string]Subscriber)}
}

// Subscribe adds the connection to the user's room.
func (r *Rooms) Subscribe(userID uuid.UUID, connID string, sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.rooms[userID]
	if !ok {
		members = make(map[string]Subscriber)
		r.rooms[userID] = members
	}
	members[connID] = sub
}

// Unsubscribe removes the connection from the user's room.
func (r *Rooms) Unsubscribe(userID uuid.UUID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.rooms[userID]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(r.rooms, userID)
	}
}

// Publish delivers payload to every connection in the user's room and
// returns how many accepted it. Membership is snapshotted under the lock and
// delivery happens outside it.
func (r *Rooms) Publish(userID uuid.UUID, payload []byte) int {
	r.mu.RLock()
	members := make([]Subscriber, 0, len(r.rooms[userID]))
	for _, sub := range r.rooms[userID] {
		members = append(members, sub)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, sub := range members {
		if sub.Deliver(payload) {
			delivered++
		}
	}
	return delivered
}

// Members returns the number of connections in the user's room
func (r *Rooms) Members(userID uuid.UUID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[userID])
}
