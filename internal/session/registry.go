// Package session keeps the in-memory state of live connections: one
// Session per connection and the per-user rooms used for fan-out.
package session

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// State is the authentication state of a connection
type State int

const (
	Anonymous State = iota
	CodeSent
	Authenticated
)

func (s State) String() string {
	switch s {
	case CodeSent:
		return "code_sent"
	case Authenticated:
		return "authenticated"
	default:
		return "anonymous"
	}
}

var (
	// ErrClosed is returned for a connection that is not registered
	ErrClosed = errors.New("session closed")
	// ErrStale is returned when the session was reset after the caller read it
	ErrStale = errors.New("session changed")
)

// Session is the connection-scoped auth state. Values are copies; mutate
// through Registry.Update.
type Session struct {
	ConnID      string
	State       State
	Phone       string
	AccessToken string
	// CanSendCode is false once an initial code was sent on this connection;
	// later sends must go through the resend path.
	CanSendCode bool
	UserID      uuid.UUID
	// Epoch increments on every reset. Writers that read an older epoch
	// lose the race and their result is discarded.
	Epoch uint64
}

// Registry maps connection ids to sessions.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Open registers a fresh anonymous session for connID.
func (r *Registry) Open(connID string) Session {
	s := &Session{ConnID: connID, State: Anonymous, CanSendCode: true}
	r.mu.Lock()
	r.sessions[connID] = s
	r.mu.Unlock()
	return *s
}

// Get returns a copy of the session.
func (r *Registry) Get(connID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[connID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Update applies fn to the session atomically, provided its epoch still
// equals epoch. If fn returns an error nothing is stored.
func (r *Registry) Update(connID string, epoch uint64, fn func(*Session) error) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[connID]
	if !ok {
		return Session{}, ErrClosed
	}
	if s.Epoch != epoch {
		return *s, ErrStale
	}
	next := *s
	if err := fn(&next); err != nil {
		return *s, err
	}
	next.Epoch = s.Epoch
	*s = next
	return next, nil
}

// Reset unconditionally rewrites the session through fn and bumps its epoch,
// invalidating every in-flight Update based on an earlier read.
func (r *Registry) Reset(connID string, fn func(*Session)) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[connID]
	if !ok {
		return Session{}, ErrClosed
	}
	next := *s
	fn(&next)
	next.ConnID = connID
	next.Epoch = s.Epoch + 1
	*s = next
	return next, nil
}

// Close removes the session and returns its last value.
func (r *Registry) Close(connID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[connID]
	if !ok {
		return Session{}, false
	}
	delete(r.sessions, connID)
	return *s, true
}

// Len returns the number of live sessions
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
