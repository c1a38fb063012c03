// Package chat holds the in-memory domain state of the relay: the
// message log, the live session registry, and the typing projection.
// Everything in this package is owned by the coordinator goroutine and
// is deliberately lock-free; see the hub for the ownership rules.
package chat

import "time"

// Reaction is a single emoji response attached to a message. The same
// user may react with the same symbol more than once; every entry is
// kept and rendered.
type Reaction struct {
	Reaction string `json:"reaction"`
	Username string `json:"username"`
}

// Message is one entry in the append-only relay log. JSON field names
// follow the wire contract consumed by clients, so a stored message can
// be fanned out as-is.
type Message struct {
	ID        int64      `json:"id"`
	Username  string     `json:"username,omitempty"`
	To        string     `json:"to,omitempty"`
	Body      string     `json:"message"`
	Timestamp time.Time  `json:"timestamp"`
	ReadBy    []string   `json:"readBy,omitempty"`
	SeenBy    []string   `json:"seenBy,omitempty"`
	Reactions []Reaction `json:"reactions,omitempty"`
	Pinned    bool       `json:"pinned,omitempty"`
	System    bool       `json:"system,omitempty"`
	Broadcast bool       `json:"broadcast,omitempty"`
}

// Private reports whether the message is addressed to a single recipient.
func (m *Message) Private() bool { return m.To != "" }

// VisibleTo reports whether username may observe this message in a
// history snapshot. Public and system messages are visible to everyone;
// a private message only to its two parties.
func (m *Message) VisibleTo(username string) bool {
	if !m.Private() {
		return true
	}
	return m.Username == username || m.To == username
}
