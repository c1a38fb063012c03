// Package server defines the wire envelope and the typed command
// payloads exchanged between clients and the coordinator.
package server

import (
	"encoding/json"
	"time"
)

// Inbound event names.
const (
	EventUserJoin       = "user_join"
	EventSendMessage    = "send_message"
	EventPrivateMessage = "private_message"
	EventTyping         = "typing"
	EventMessageRead    = "message_read"
	EventMarkSeen       = "mark_seen"
	EventAddReaction    = "add_reaction"
	EventPinMessage     = "pin_message"
	EventAdminBroadcast = "admin_broadcast"
)

// Outbound event names. receive_message, private_message, message_read
// and admin_broadcast are reused in both directions.
const (
	EventReceiveMessage  = "receive_message"
	EventUserList        = "user_list"
	EventUserJoined      = "user_joined"
	EventUserLeft        = "user_left"
	EventTypingUsers     = "typing_users"
	EventMessageSeen     = "message_seen"
	EventReactionAdded   = "reaction_added"
	EventMessagePinned   = "message_pinned"
	EventMessageUnpinned = "message_unpinned"
	EventMessageHistory  = "message_history"
	EventError           = "error"
)

// Envelope frames every message on the wire: a named event plus its
// JSON payload. Unknown events are dropped by the coordinator.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// command is one inbound envelope paired with its originating client,
// queued into the coordinator's mailbox.
type command struct {
	client *Client
	env    Envelope
}

// joinPayload accepts either a bare string username or an object, since
// older clients emit user_join with the raw name.
type joinPayload struct {
	Username string `json:"username"`
}

func (p *joinPayload) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		p.Username = s
		return nil
	}
	type plain joinPayload
	return json.Unmarshal(b, (*plain)(p))
}

type sendPayload struct {
	Message string `json:"message"`
}

type privatePayload struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

// typingPayload accepts either a bare boolean or an object.
type typingPayload struct {
	IsTyping bool `json:"isTyping"`
}

func (p *typingPayload) UnmarshalJSON(b []byte) error {
	var v bool
	if err := json.Unmarshal(b, &v); err == nil {
		p.IsTyping = v
		return nil
	}
	type plain typingPayload
	return json.Unmarshal(b, (*plain)(p))
}

// receiptPayload covers message_read and mark_seen.
type receiptPayload struct {
	MessageID int64  `json:"messageId"`
	Username  string `json:"username"`
}

type reactionPayload struct {
	MessageID int64  `json:"messageId"`
	Reaction  string `json:"reaction"`
	Username  string `json:"username"`
}

// pinPayload accepts either a bare message id or an object.
type pinPayload struct {
	MessageID int64 `json:"messageId"`
}

func (p *pinPayload) UnmarshalJSON(b []byte) error {
	var id int64
	if err := json.Unmarshal(b, &id); err == nil {
		p.MessageID = id
		return nil
	}
	type plain pinPayload
	return json.Unmarshal(b, (*plain)(p))
}

type broadcastPayload struct {
	Message string `json:"message"`
	Token   string `json:"token,omitempty"`
}

type broadcastNotice struct {
	ID        int64     `json:"id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// userEntry is one row of the user_list presence event; user_joined and
// user_left carry the same shape for a single user.
type userEntry struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type pinNotice struct {
	MessageID int64 `json:"messageId"`
}

type receiptNotice struct {
	MessageID int64  `json:"messageId"`
	Username  string `json:"username"`
}

type reactionNotice struct {
	MessageID int64  `json:"messageId"`
	Reaction  string `json:"reaction"`
	Username  string `json:"username"`
}

// Error reply codes.
const (
	ErrCodeNotJoined        = "not_joined"
	ErrCodeAlreadyJoined    = "already_joined"
	ErrCodeInvalidUsername  = "invalid_username"
	ErrCodeUsernameTaken    = "username_taken"
	ErrCodeUnknownRecipient = "unknown_recipient"
	ErrCodeUnauthorized     = "unauthorized"
)

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
