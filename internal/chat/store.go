package chat

import "time"

// Store is the ordered, append-only log of every message the relay has
// handled, public and private. Annotation fields (readBy, seenBy,
// reactions, the pin flag) are mutated in place; messages are never
// removed.
//
// The store tracks the currently pinned message by id so pinning is a
// constant-time swap rather than a scan of the full log.
type Store struct {
	msgs     []*Message
	byID     map[int64]*Message
	nextID   int64
	pinnedID int64
	now      func() time.Time
}

// NewStore returns an empty message store.
func NewStore() *Store {
	return &Store{
		byID: make(map[int64]*Message),
		now:  time.Now,
	}
}

// Append stores the message and returns its id. A zero ID is replaced
// with the next value of the store's strictly increasing counter; a
// zero Timestamp is stamped with the current instant. Wall-clock time
// alone is not used for identity since two messages can arrive within
// the same tick.
func (s *Store) Append(m *Message) int64 {
	if m.ID == 0 {
		s.nextID++
		m.ID = s.nextID
	} else if m.ID > s.nextID {
		s.nextID = m.ID
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = s.now().UTC()
	}
	s.msgs = append(s.msgs, m)
	s.byID[m.ID] = m
	return m.ID
}

// Get returns the message with the given id, or nil.
func (s *Store) Get(id int64) *Message {
	return s.byID[id]
}

// Len returns the number of stored messages.
func (s *Store) Len() int { return len(s.msgs) }

// MarkRead inserts username into the message's readBy set. The insert
// is idempotent: the first call for a given user reports true, repeats
// report false without error.
func (s *Store) MarkRead(id int64, username string) (bool, error) {
	m := s.byID[id]
	if m == nil {
		return false, ErrMessageNotFound
	}
	if containsString(m.ReadBy, username) {
		return false, nil
	}
	m.ReadBy = append(m.ReadBy, username)
	return true, nil
}

// MarkSeen inserts username into the message's seenBy set, with the
// same idempotence contract as MarkRead.
func (s *Store) MarkSeen(id int64, username string) (bool, error) {
	m := s.byID[id]
	if m == nil {
		return false, ErrMessageNotFound
	}
	if containsString(m.SeenBy, username) {
		return false, nil
	}
	m.SeenBy = append(m.SeenBy, username)
	return true, nil
}

// AddReaction appends a reaction to the message. Duplicates from the
// same user are allowed and kept in arrival order.
func (s *Store) AddReaction(id int64, username, reaction string) error {
	m := s.byID[id]
	if m == nil {
		return ErrMessageNotFound
	}
	m.Reactions = append(m.Reactions, Reaction{Reaction: reaction, Username: username})
	return nil
}

// Pin marks the message as the single pinned message, clearing the
// previous holder in the same step. It returns the id of the message
// that was pinned before, or zero if there was none. Pinning the
// already pinned message is a no-op reported as prev == id.
func (s *Store) Pin(id int64) (int64, error) {
	m := s.byID[id]
	if m == nil {
		return 0, ErrMessageNotFound
	}
	prev := s.pinnedID
	if prev == id {
		return prev, nil
	}
	if p := s.byID[prev]; p != nil {
		p.Pinned = false
	}
	m.Pinned = true
	s.pinnedID = id
	return prev, nil
}

// Unpin clears the pin, returning the id of the message that held it.
func (s *Store) Unpin() int64 {
	prev := s.pinnedID
	if p := s.byID[prev]; p != nil {
		p.Pinned = false
	}
	s.pinnedID = 0
	return prev
}

// Pinned returns the currently pinned message, or nil.
func (s *Store) Pinned() *Message {
	if s.pinnedID == 0 {
		return nil
	}
	return s.byID[s.pinnedID]
}

// SnapshotFor returns the messages username is allowed to see, in
// arrival order: all public and system messages plus private messages
// the user sent or received. Other sessions' private traffic never
// appears. A positive limit caps the result to the most recent entries.
func (s *Store) SnapshotFor(username string, limit int) []*Message {
	out := make([]*Message, 0, len(s.msgs))
	for _, m := range s.msgs {
		if m.VisibleTo(username) {
			out = append(out, m)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func containsString(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
