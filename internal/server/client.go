// Package server manages individual WebSocket clients, handling
// read/write pumps, rate limiting, and lifecycle control for each
// connection.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Tyrowin/nexus-chat-server/internal/chat"
)

const (
	pongWait      = 60 * time.Second
	pingInterval  = 54 * time.Second
	writeWait     = 10 * time.Second
	sendQueueSize = 256
)

// Client represents one WebSocket connection. The conn and pumps belong
// to the connection's own goroutines; connID, admin, and the send
// channel are read by the coordinator, and session plus closed are
// owned by the coordinator loop exclusively.
type Client struct {
	conn    *websocket.Conn
	send    chan []byte
	hub     *Hub
	addr    string
	connID  string
	admin   bool
	limiter *rate.Limiter
	log     *zap.Logger

	// Coordinator-owned; never touched from pump goroutines.
	session *chat.Session
	closed  bool
}

// NewClient creates a Client for the given connection. admin marks
// connections that presented a valid admin token during the upgrade.
func NewClient(conn *websocket.Conn, hub *Hub, addr string, admin bool) *Client {
	cfg := hub.cfg
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	c := &Client{
		conn:    conn,
		send:    make(chan []byte, sendQueueSize),
		hub:     hub,
		addr:    addr,
		connID:  uuid.NewString(),
		admin:   admin,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst),
	}
	c.log = hub.log.With(zap.String("conn", c.connID), zap.String("addr", addr))
	return c
}

// ConnID returns the connection's opaque identifier.
func (c *Client) ConnID() string { return c.connID }

// GetSendChan returns the client's outbound queue for reading.
func (c *Client) GetSendChan() <-chan []byte { return c.send }

func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Warn("set initial read deadline", zap.Error(err))
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.log.Warn("set read deadline in pong handler", zap.Error(err))
		}
		return nil
	})
}

// handleReadError classifies a read failure and reports whether the
// read loop should stop. Every path stops; the split exists to keep
// noisy-but-expected disconnects out of the error log.
func (c *Client) handleReadError(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn("frame exceeded maximum size", zap.Int64("limit", c.hub.cfg.MaxMessageSize))
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.log.Debug("client disconnected", zap.Error(err))
	case errors.Is(err, io.EOF), isExpectedCloseError(err):
		c.log.Debug("connection closed", zap.Error(err))
	default:
		c.log.Warn("websocket read error", zap.Error(err))
	}
	return true
}

// processFrame decodes a raw frame into an envelope and queues it for
// the coordinator. Malformed frames are dropped here so the coordinator
// only ever sees syntactically valid envelopes.
func (c *Client) processFrame(raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.log.Debug("dropping malformed frame", zap.Error(err))
		return
	}
	if env.Event == "" {
		c.log.Debug("dropping frame without event name")
		return
	}
	c.hub.commands <- command{client: c, env: env}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Warn("close connection in readPump", zap.Error(err))
		}
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if c.handleReadError(err) {
				break
			}
		}
		if !c.limiter.Allow() {
			c.log.Warn("rate limit exceeded; discarding event",
				zap.Float64("rps", c.hub.cfg.RateLimitRPS),
				zap.Int("burst", c.hub.cfg.RateLimitBurst))
			continue
		}
		c.processFrame(raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Warn("close connection in writePump", zap.Error(err))
		}
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.log.Warn("set write deadline", zap.Error(err))
				return
			}
			if !ok {
				// Coordinator closed the queue; tell the peer goodbye.
				if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
					c.log.Debug("write close message", zap.Error(err))
				}
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Warn("write message", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.log.Warn("set write deadline for ping", zap.Error(err))
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Debug("write ping", zap.Error(err))
				return
			}
		}
	}
}

// isExpectedCloseError checks if an error is expected during connection
// closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
