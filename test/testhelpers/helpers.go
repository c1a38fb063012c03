// Package testhelpers provides shared utilities for integration tests:
// starting a relay on an ephemeral port, dialing WebSocket clients, and
// exchanging event envelopes.
package testhelpers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"

	"github.com/Tyrowin/nexus-chat-server/internal/server"
)

// Relay is a running chat server under test.
type Relay struct {
	Hub     *server.Hub
	HTTPURL string
	WSURL   string
}

// StartRelay boots a hub and gateway on an httptest server. The origin
// allow-list defaults to "*" so tests can dial with any origin; mutate
// overrides config before startup.
func StartRelay(t *testing.T, mutate func(cfg *server.Config)) *Relay {
	t.Helper()

	cfg := *server.NewConfig()
	cfg.AllowedOrigins = []string{"*"}
	if mutate != nil {
		mutate(&cfg)
	}

	hub := server.NewHub(cfg, zaptest.NewLogger(t), nil)
	go hub.Run()

	gateway := server.NewGateway(hub)
	ts := httptest.NewServer(server.SetupRoutes(gateway, nil))

	t.Cleanup(func() {
		ts.Close()
		if err := hub.Shutdown(2 * time.Second); err != nil {
			t.Logf("hub shutdown: %v", err)
		}
	})

	return &Relay{
		Hub:     hub,
		HTTPURL: ts.URL,
		WSURL:   "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
	}
}

// Dial opens a WebSocket connection to the relay with the given origin.
func Dial(t *testing.T, wsURL, origin string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": []string{origin}})
	if err != nil {
		t.Fatalf("failed to dial %s: %v", wsURL, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// Emit writes one event envelope to the connection.
func Emit(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			t.Fatalf("failed to marshal %s payload: %v", event, err)
		}
		raw = b
	}
	if err := conn.WriteJSON(server.Envelope{Event: event, Data: raw}); err != nil {
		t.Fatalf("failed to write %s: %v", event, err)
	}
}

// Expect reads the next envelope and asserts its event name, returning
// the payload for further checks.
func Expect(t *testing.T, conn *websocket.Conn, event string) json.RawMessage {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("failed to set read deadline: %v", err)
	}
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read while waiting for %q: %v", event, err)
	}
	var env server.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("failed to decode envelope %s: %v", raw, err)
	}
	if env.Event != event {
		t.Fatalf("expected event %q, got %q (payload %s)", event, env.Event, env.Data)
	}
	return env.Data
}

// ExpectNone asserts that no frame arrives within the timeout.
func ExpectNone(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("failed to set read deadline: %v", err)
	}
	_, raw, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("expected no message, received %s", raw)
	}
	if netErr, ok := err.(interface{ Timeout() bool }); ok && netErr.Timeout() {
		return
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return
	}
	t.Fatalf("unexpected error while waiting for absence of message: %v", err)
}

// Join performs the user_join handshake and drains the catch-up events,
// returning the history snapshot payload.
func Join(t *testing.T, conn *websocket.Conn, username string) json.RawMessage {
	t.Helper()
	Emit(t, conn, "user_join", username)
	Expect(t, conn, "user_list")
	history := Expect(t, conn, "message_history")
	Expect(t, conn, "typing_users")
	return history
}

// DrainJoinNoise consumes the three events an existing client receives
// when another user joins.
func DrainJoinNoise(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	Expect(t, conn, "user_joined")
	Expect(t, conn, "receive_message")
	Expect(t, conn, "user_list")
}
