// Package server coordinates session registration, message fan-out, and
// connection cleanup for the chat relay via the Hub type.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Tyrowin/nexus-chat-server/internal/chat"
)

// Hub is the fan-out coordinator. A single goroutine (Run) owns the
// session registry, the message store, and the client set; every
// inbound command is processed to completion before the next one, so
// read-modify-write sequences on shared state never interleave. Fan-out
// is a non-blocking enqueue onto per-client buffered channels; a slow
// client is dropped rather than allowed to stall the loop.
type Hub struct {
	cfg     Config
	log     *zap.Logger
	metrics *metrics

	registry *chat.Registry
	store    *chat.Store

	// Loop-owned state; only Run's goroutine touches these.
	clients map[*Client]bool
	byName  map[string]*Client

	register   chan *Client
	unregister chan *Client
	commands   chan command

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates a Hub ready to coordinate connections. A nil
// prometheus registerer gets a private registry, which keeps tests
// from fighting over the default one.
func NewHub(cfg Config, log *zap.Logger, reg prometheus.Registerer) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		cfg:        cfg,
		log:        log,
		metrics:    newMetrics(reg),
		registry:   chat.NewRegistry(),
		store:      chat.NewStore(),
		clients:    make(map[*Client]bool),
		byName:     make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		commands:   make(chan command, 64),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// GetRegisterChan returns the channel used for registering new clients.
func (h *Hub) GetRegisterChan() chan<- *Client { return h.register }

// GetUnregisterChan returns the channel used for unregistering clients.
func (h *Hub) GetUnregisterChan() chan<- *Client { return h.unregister }

// Run starts the coordinator loop. It must be called in its own
// goroutine and runs until Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.log.Warn("received nil client registration; skipping")
				continue
			}
			h.clients[client] = true
			h.metrics.connections.Set(float64(len(h.clients)))
			h.log.Info("client registered",
				zap.String("conn", client.connID),
				zap.Int("total", len(h.clients)))

			// Pumps only exist for real sockets; coordinator tests
			// drive the hub with connection-less clients.
			if client.conn != nil {
				h.wg.Add(2)
				go func() {
					defer h.wg.Done()
					client.writePump()
				}()
				go func() {
					defer h.wg.Done()
					client.readPump()
				}()
			}

		case client := <-h.unregister:
			h.handleDisconnect(client)

		case cmd := <-h.commands:
			h.dispatch(cmd)
		}
	}
}

// dispatch routes one inbound envelope to its handler. Any failure is
// contained to this command: handlers reply with an error event or log
// and drop, but the loop itself never stops on bad input.
func (h *Hub) dispatch(cmd command) {
	c := cmd.client
	if c == nil || !h.clients[c] {
		return
	}
	h.metrics.commands.WithLabelValues(cmd.env.Event).Inc()

	switch cmd.env.Event {
	case EventUserJoin:
		h.handleJoin(c, cmd.env.Data)
	case EventSendMessage:
		h.handleSend(c, cmd.env.Data)
	case EventPrivateMessage:
		h.handlePrivate(c, cmd.env.Data)
	case EventTyping:
		h.handleTyping(c, cmd.env.Data)
	case EventMessageRead:
		h.handleReceipt(c, cmd.env.Data, true)
	case EventMarkSeen:
		h.handleReceipt(c, cmd.env.Data, false)
	case EventAddReaction:
		h.handleReaction(c, cmd.env.Data)
	case EventPinMessage:
		h.handlePin(c, cmd.env.Data)
	case EventAdminBroadcast:
		h.handleAdminBroadcast(c, cmd.env.Data)
	default:
		h.log.Debug("ignoring unknown event",
			zap.String("event", cmd.env.Event),
			zap.String("conn", c.connID))
	}
}

func (h *Hub) handleJoin(c *Client, data json.RawMessage) {
	if c.session != nil {
		h.reject(c, ErrCodeAlreadyJoined, "this connection already joined")
		return
	}
	var p joinPayload
	if err := json.Unmarshal(data, &p); err != nil {
		h.reject(c, ErrCodeInvalidUsername, "unreadable join payload")
		return
	}
	username := strings.TrimSpace(p.Username)
	if username == "" {
		h.reject(c, ErrCodeInvalidUsername, "username must not be empty")
		return
	}

	session, err := h.registry.Join(c.connID, username)
	if err != nil {
		if errors.Is(err, chat.ErrUsernameTaken) {
			h.reject(c, ErrCodeUsernameTaken, "username already in use")
			return
		}
		h.log.Error("join failed", zap.String("conn", c.connID), zap.Error(err))
		return
	}
	session.Admin = c.admin
	c.session = session
	h.byName[username] = c
	h.metrics.sessions.Set(float64(h.registry.Len()))

	// Catch-up for the joiner: presence, history as of before the join
	// notice, and the current typing set.
	h.send(c, EventUserList, h.userList())
	h.send(c, EventMessageHistory, h.store.SnapshotFor(username, h.cfg.HistoryLimit))
	h.send(c, EventTypingUsers, chat.Typers(h.registry))

	notice := &chat.Message{System: true, Body: username + " joined the chat"}
	h.store.Append(notice)
	h.metrics.messagesRelayed.Inc()

	h.broadcast(EventUserJoined, userEntry{ID: c.connID, Username: username}, c)
	h.broadcast(EventReceiveMessage, notice, c)
	h.broadcast(EventUserList, h.userList(), c)

	h.log.Info("user joined",
		zap.String("conn", c.connID),
		zap.String("username", username),
		zap.Int("sessions", h.registry.Len()))
}

func (h *Hub) handleSend(c *Client, data json.RawMessage) {
	session := h.requireJoined(c)
	if session == nil {
		return
	}
	var p sendPayload
	if err := json.Unmarshal(data, &p); err != nil {
		h.log.Debug("unreadable send payload", zap.String("conn", c.connID), zap.Error(err))
		return
	}
	body := strings.TrimSpace(p.Message)
	if body == "" {
		// Clients filter empty sends; drop them here too so nothing
		// pollutes the log.
		h.log.Debug("dropping empty public message", zap.String("conn", c.connID))
		return
	}

	msg := &chat.Message{Username: session.Username, Body: body}
	h.store.Append(msg)
	h.metrics.messagesRelayed.Inc()

	h.broadcast(EventReceiveMessage, msg, nil)
}

func (h *Hub) handlePrivate(c *Client, data json.RawMessage) {
	session := h.requireJoined(c)
	if session == nil {
		return
	}
	var p privatePayload
	if err := json.Unmarshal(data, &p); err != nil {
		h.log.Debug("unreadable private payload", zap.String("conn", c.connID), zap.Error(err))
		return
	}
	body := strings.TrimSpace(p.Message)
	if body == "" {
		h.log.Debug("dropping empty private message", zap.String("conn", c.connID))
		return
	}
	to := strings.TrimSpace(p.To)
	recipient := h.byName[to]
	if recipient == nil {
		h.reject(c, ErrCodeUnknownRecipient, "no such user: "+to)
		return
	}

	msg := &chat.Message{Username: session.Username, To: to, Body: body}
	h.store.Append(msg)
	h.metrics.messagesRelayed.Inc()

	// Exactly the two parties, once each when messaging yourself.
	h.send(recipient, EventPrivateMessage, msg)
	if recipient != c {
		h.send(c, EventPrivateMessage, msg)
	}
}

func (h *Hub) handleTyping(c *Client, data json.RawMessage) {
	session := h.requireJoined(c)
	if session == nil {
		return
	}
	var p typingPayload
	if err := json.Unmarshal(data, &p); err != nil {
		h.log.Debug("unreadable typing payload", zap.String("conn", c.connID), zap.Error(err))
		return
	}
	h.registry.SetTyping(c.connID, p.IsTyping)
	h.broadcast(EventTypingUsers, chat.Typers(h.registry), nil)
}

// handleReceipt covers message_read and mark_seen; both are idempotent
// set inserts that fan out only on first insert.
func (h *Hub) handleReceipt(c *Client, data json.RawMessage, read bool) {
	session := h.requireJoined(c)
	if session == nil {
		return
	}
	var p receiptPayload
	if err := json.Unmarshal(data, &p); err != nil {
		h.log.Debug("unreadable receipt payload", zap.String("conn", c.connID), zap.Error(err))
		return
	}
	username := p.Username
	if username == "" {
		username = session.Username
	}

	var (
		inserted bool
		err      error
		event    string
	)
	if read {
		inserted, err = h.store.MarkRead(p.MessageID, username)
		event = EventMessageRead
	} else {
		inserted, err = h.store.MarkSeen(p.MessageID, username)
		event = EventMessageSeen
	}
	if err != nil {
		h.log.Debug("receipt for unknown message",
			zap.Int64("messageId", p.MessageID),
			zap.String("conn", c.connID))
		return
	}
	if !inserted {
		return
	}
	h.broadcast(event, receiptNotice{MessageID: p.MessageID, Username: username}, nil)
}

func (h *Hub) handleReaction(c *Client, data json.RawMessage) {
	session := h.requireJoined(c)
	if session == nil {
		return
	}
	var p reactionPayload
	if err := json.Unmarshal(data, &p); err != nil {
		h.log.Debug("unreadable reaction payload", zap.String("conn", c.connID), zap.Error(err))
		return
	}
	if p.Reaction == "" {
		return
	}
	username := p.Username
	if username == "" {
		username = session.Username
	}
	if err := h.store.AddReaction(p.MessageID, username, p.Reaction); err != nil {
		h.log.Debug("reaction for unknown message",
			zap.Int64("messageId", p.MessageID),
			zap.String("conn", c.connID))
		return
	}
	h.broadcast(EventReactionAdded, reactionNotice{
		MessageID: p.MessageID,
		Reaction:  p.Reaction,
		Username:  username,
	}, nil)
}

func (h *Hub) handlePin(c *Client, data json.RawMessage) {
	session := h.requireJoined(c)
	if session == nil {
		return
	}
	var p pinPayload
	if err := json.Unmarshal(data, &p); err != nil {
		h.log.Debug("unreadable pin payload", zap.String("conn", c.connID), zap.Error(err))
		return
	}
	prev, err := h.store.Pin(p.MessageID)
	if err != nil {
		h.log.Debug("pin for unknown message",
			zap.Int64("messageId", p.MessageID),
			zap.String("conn", c.connID))
		return
	}
	h.broadcast(EventMessagePinned, pinNotice{MessageID: p.MessageID}, nil)
	if prev != 0 && prev != p.MessageID {
		h.broadcast(EventMessageUnpinned, pinNotice{MessageID: prev}, nil)
	}
}

func (h *Hub) handleAdminBroadcast(c *Client, data json.RawMessage) {
	session := h.requireJoined(c)
	if session == nil {
		return
	}
	var p broadcastPayload
	if err := json.Unmarshal(data, &p); err != nil {
		h.log.Debug("unreadable broadcast payload", zap.String("conn", c.connID), zap.Error(err))
		return
	}
	if !session.Admin && !verifyAdminToken(h.cfg.AdminSecret, p.Token) {
		h.reject(c, ErrCodeUnauthorized, "admin broadcast requires a valid admin token")
		h.log.Warn("unauthorized admin broadcast attempt",
			zap.String("conn", c.connID),
			zap.String("username", session.Username))
		return
	}
	body := strings.TrimSpace(p.Message)
	if body == "" {
		return
	}

	msg := &chat.Message{System: true, Broadcast: true, Body: body}
	h.store.Append(msg)
	h.metrics.messagesRelayed.Inc()

	h.broadcast(EventAdminBroadcast, broadcastNotice{
		ID:        msg.ID,
		Message:   body,
		Timestamp: msg.Timestamp,
	}, nil)
}

// handleDisconnect is the implicit leave: it flushes the connection
// from the registry and typing state before any later command is
// processed, so no ghost presence or typer survives it.
func (h *Hub) handleDisconnect(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	c.closed = true
	close(c.send)
	h.metrics.connections.Set(float64(len(h.clients)))

	session := h.registry.Leave(c.connID)
	if session == nil {
		// Disconnected before joining; nothing to announce.
		h.log.Info("client unregistered", zap.String("conn", c.connID))
		return
	}
	delete(h.byName, session.Username)
	h.metrics.sessions.Set(float64(h.registry.Len()))

	notice := &chat.Message{System: true, Body: session.Username + " left the chat"}
	h.store.Append(notice)
	h.metrics.messagesRelayed.Inc()

	h.broadcast(EventUserLeft, userEntry{ID: c.connID, Username: session.Username}, nil)
	h.broadcast(EventReceiveMessage, notice, nil)
	h.broadcast(EventUserList, h.userList(), nil)
	if session.Typing {
		h.broadcast(EventTypingUsers, chat.Typers(h.registry), nil)
	}

	h.log.Info("user left",
		zap.String("conn", c.connID),
		zap.String("username", session.Username),
		zap.Int("sessions", h.registry.Len()))
}

// requireJoined returns the client's session, or replies not_joined and
// returns nil. Every chat-mutating command goes through this gate.
func (h *Hub) requireJoined(c *Client) *chat.Session {
	if c.session != nil {
		return c.session
	}
	h.reject(c, ErrCodeNotJoined, "join with user_join before sending chat events")
	return nil
}

func (h *Hub) reject(c *Client, code, msg string) {
	h.metrics.rejected.WithLabelValues(code).Inc()
	h.send(c, EventError, errorPayload{Code: code, Message: msg})
}

func (h *Hub) userList() []userEntry {
	sessions := h.registry.List()
	out := make([]userEntry, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, userEntry{ID: s.ConnID, Username: s.Username})
	}
	return out
}

// send enqueues one event for one client. It never blocks: a full
// buffer counts as a drop and the coordinator moves on, per the
// fire-and-forget fan-out contract.
func (h *Hub) send(c *Client, event string, data any) {
	if c == nil || c.closed {
		return
	}
	payload, err := marshalEnvelope(event, data)
	if err != nil {
		h.log.Error("marshal outbound event", zap.String("event", event), zap.Error(err))
		return
	}
	select {
	case c.send <- payload:
	default:
		h.metrics.fanoutDrops.Inc()
		h.log.Warn("send buffer full; dropping event",
			zap.String("event", event),
			zap.String("conn", c.connID))
	}
}

// broadcast fans an event out to every joined session except the one
// given. Connections that have not joined receive nothing.
func (h *Hub) broadcast(event string, data any, except *Client) {
	payload, err := marshalEnvelope(event, data)
	if err != nil {
		h.log.Error("marshal outbound event", zap.String("event", event), zap.Error(err))
		return
	}
	for c := range h.clients {
		if c == except || c.closed || c.session == nil {
			continue
		}
		select {
		case c.send <- payload:
		default:
			h.metrics.fanoutDrops.Inc()
			h.log.Warn("send buffer full; dropping event",
				zap.String("event", event),
				zap.String("conn", c.connID))
		}
	}
}

func marshalEnvelope(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// shutdownClients closes every live connection during hub shutdown.
func (h *Hub) shutdownClients() {
	h.log.Info("shutting down all client connections", zap.Int("count", len(h.clients)))
	for c := range h.clients {
		if c.conn != nil {
			if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
				h.log.Warn("close client connection", zap.String("conn", c.connID), zap.Error(err))
			}
		}
	}
}

// Shutdown stops the coordinator loop and waits for client goroutines
// to finish, up to the timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("initiating hub shutdown")
	h.cancel()
	<-h.done

	finished := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		h.log.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.log.Warn("hub shutdown timeout reached; some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
