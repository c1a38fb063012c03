package chat

import "time"

// Session is the live binding between a network connection and a chosen
// username. It exists from a successful join until disconnect.
type Session struct {
	ConnID   string
	Username string
	Typing   bool
	Admin    bool
	JoinedAt time.Time
}

// Registry tracks the currently connected, joined sessions. Usernames
// are unique among live sessions; the comparison is case-sensitive.
// List order is join order.
type Registry struct {
	byConn map[string]*Session
	byName map[string]*Session
	order  []*Session
}

// NewRegistry returns an empty session registry.
func NewRegistry() *Registry {
	return &Registry{
		byConn: make(map[string]*Session),
		byName: make(map[string]*Session),
	}
}

// Join registers a session for the connection under the given username.
// It fails with ErrUsernameTaken if another live session holds the name.
// A connection that joins twice keeps its first session.
func (r *Registry) Join(connID, username string) (*Session, error) {
	if s := r.byConn[connID]; s != nil {
		return s, nil
	}
	if r.byName[username] != nil {
		return nil, ErrUsernameTaken
	}
	s := &Session{
		ConnID:   connID,
		Username: username,
		JoinedAt: time.Now().UTC(),
	}
	r.byConn[connID] = s
	r.byName[username] = s
	r.order = append(r.order, s)
	return s, nil
}

// Leave removes and returns the session for the connection. It returns
// nil when the connection never joined, so a disconnect before join is
// a clean no-op.
func (r *Registry) Leave(connID string) *Session {
	s := r.byConn[connID]
	if s == nil {
		return nil
	}
	delete(r.byConn, connID)
	delete(r.byName, s.Username)
	for i, cur := range r.order {
		if cur == s {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return s
}

// SetTyping updates the typing flag for the connection's session; it is
// a no-op for unknown connections.
func (r *Registry) SetTyping(connID string, typing bool) {
	if s := r.byConn[connID]; s != nil {
		s.Typing = typing
	}
}

// Get returns the session bound to the connection, or nil.
func (r *Registry) Get(connID string) *Session {
	return r.byConn[connID]
}

// Find returns the live session holding the username, or nil.
func (r *Registry) Find(username string) *Session {
	return r.byName[username]
}

// List returns a snapshot of the live sessions in join order.
func (r *Registry) List() []*Session {
	out := make([]*Session, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int { return len(r.order) }
