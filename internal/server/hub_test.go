package server

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Tyrowin/nexus-chat-server/internal/chat"
)

// Coordinator tests drive the hub through its channels with
// connection-less clients and observe fan-out on their send queues,
// exercising the same path production traffic takes minus the sockets.

func newTestHub(t *testing.T, mutate func(*Config)) *Hub {
	t.Helper()
	cfg := *NewConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	h := NewHub(cfg, zap.NewNop(), nil)
	go h.Run()
	t.Cleanup(func() { _ = h.Shutdown(time.Second) })
	return h
}

func connect(t *testing.T, h *Hub) *Client {
	t.Helper()
	c := NewClient(nil, h, "test-addr", false)
	h.register <- c
	return c
}

func emit(t *testing.T, h *Hub, c *Client, event string, data any) {
	t.Helper()
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		require.NoError(t, err)
		raw = b
	}
	h.commands <- command{client: c, env: Envelope{Event: event, Data: raw}}
}

func expectEvent(t *testing.T, c *Client, event string) json.RawMessage {
	t.Helper()
	select {
	case raw, ok := <-c.send:
		require.True(t, ok, "send channel closed while waiting for %q", event)
		var env Envelope
		require.NoError(t, json.Unmarshal(raw, &env))
		require.Equal(t, event, env.Event, "payload: %s", env.Data)
		return env.Data
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %q", event)
		return nil
	}
}

func expectNoEvent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case raw, ok := <-c.send:
		if ok {
			t.Fatalf("expected no event, got %s", raw)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

// join performs user_join and drains the joiner's catch-up events,
// returning the decoded history snapshot.
func join(t *testing.T, h *Hub, c *Client, username string) []chat.Message {
	t.Helper()
	emit(t, h, c, EventUserJoin, username)
	expectEvent(t, c, EventUserList)
	historyRaw := expectEvent(t, c, EventMessageHistory)
	expectEvent(t, c, EventTypingUsers)

	var history []chat.Message
	require.NoError(t, json.Unmarshal(historyRaw, &history))
	return history
}

// drainJoinNoise consumes the three events an existing client receives
// when someone else joins.
func drainJoinNoise(t *testing.T, c *Client) {
	t.Helper()
	expectEvent(t, c, EventUserJoined)
	expectEvent(t, c, EventReceiveMessage)
	expectEvent(t, c, EventUserList)
}

func TestJoinSendsCatchupAndAnnounces(t *testing.T) {
	h := newTestHub(t, nil)
	alice := connect(t, h)
	emit(t, h, alice, EventUserJoin, "alice")

	listRaw := expectEvent(t, alice, EventUserList)
	var list []userEntry
	require.NoError(t, json.Unmarshal(listRaw, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "alice", list[0].Username)
	assert.Equal(t, alice.connID, list[0].ID)

	expectEvent(t, alice, EventMessageHistory)
	expectEvent(t, alice, EventTypingUsers)

	bob := connect(t, h)
	join(t, h, bob, "bob")

	joinedRaw := expectEvent(t, alice, EventUserJoined)
	var joined userEntry
	require.NoError(t, json.Unmarshal(joinedRaw, &joined))
	assert.Equal(t, "bob", joined.Username)

	noticeRaw := expectEvent(t, alice, EventReceiveMessage)
	var notice chat.Message
	require.NoError(t, json.Unmarshal(noticeRaw, &notice))
	assert.True(t, notice.System)
	assert.Equal(t, "bob joined the chat", notice.Body)

	listRaw = expectEvent(t, alice, EventUserList)
	require.NoError(t, json.Unmarshal(listRaw, &list))
	assert.Len(t, list, 2)
}

func TestJoinRejectsDuplicateUsername(t *testing.T) {
	h := newTestHub(t, nil)
	first := connect(t, h)
	join(t, h, first, "alice")

	second := connect(t, h)
	emit(t, h, second, EventUserJoin, "alice")

	errRaw := expectEvent(t, second, EventError)
	var e errorPayload
	require.NoError(t, json.Unmarshal(errRaw, &e))
	assert.Equal(t, ErrCodeUsernameTaken, e.Code)

	// The first session stays active and still receives traffic.
	emit(t, h, first, EventSendMessage, sendPayload{Message: "still here"})
	expectEvent(t, first, EventReceiveMessage)
}

func TestJoinRejectsEmptyUsername(t *testing.T) {
	h := newTestHub(t, nil)
	c := connect(t, h)
	emit(t, h, c, EventUserJoin, "   ")

	errRaw := expectEvent(t, c, EventError)
	var e errorPayload
	require.NoError(t, json.Unmarshal(errRaw, &e))
	assert.Equal(t, ErrCodeInvalidUsername, e.Code)
}

func TestPublicMessageFanout(t *testing.T) {
	h := newTestHub(t, nil)
	alice := connect(t, h)
	join(t, h, alice, "alice")
	bob := connect(t, h)
	join(t, h, bob, "bob")
	drainJoinNoise(t, alice)

	emit(t, h, alice, EventSendMessage, sendPayload{Message: "hi"})

	for _, c := range []*Client{alice, bob} {
		raw := expectEvent(t, c, EventReceiveMessage)
		var msg chat.Message
		require.NoError(t, json.Unmarshal(raw, &msg))
		assert.Equal(t, "alice", msg.Username)
		assert.Empty(t, msg.To)
		assert.Equal(t, "hi", msg.Body)
		assert.NotZero(t, msg.ID)
	}
}

func TestEmptyPublicMessageDropped(t *testing.T) {
	h := newTestHub(t, nil)
	alice := connect(t, h)
	join(t, h, alice, "alice")

	emit(t, h, alice, EventSendMessage, sendPayload{Message: "   "})

	expectNoEvent(t, alice)
}

func TestPrivateMessageReachesOnlyTheTwoParties(t *testing.T) {
	h := newTestHub(t, nil)
	alice := connect(t, h)
	join(t, h, alice, "alice")
	bob := connect(t, h)
	join(t, h, bob, "bob")
	drainJoinNoise(t, alice)
	carol := connect(t, h)
	join(t, h, carol, "carol")
	drainJoinNoise(t, alice)
	drainJoinNoise(t, bob)

	emit(t, h, alice, EventPrivateMessage, privatePayload{To: "bob", Message: "secret"})

	for _, c := range []*Client{alice, bob} {
		raw := expectEvent(t, c, EventPrivateMessage)
		var msg chat.Message
		require.NoError(t, json.Unmarshal(raw, &msg))
		assert.Equal(t, "alice", msg.Username)
		assert.Equal(t, "bob", msg.To)
		assert.Equal(t, "secret", msg.Body)
	}
	expectNoEvent(t, carol)
}

func TestPrivateMessageToUnknownRecipient(t *testing.T) {
	h := newTestHub(t, nil)
	alice := connect(t, h)
	join(t, h, alice, "alice")

	emit(t, h, alice, EventPrivateMessage, privatePayload{To: "ghost", Message: "anyone there"})

	errRaw := expectEvent(t, alice, EventError)
	var e errorPayload
	require.NoError(t, json.Unmarshal(errRaw, &e))
	assert.Equal(t, ErrCodeUnknownRecipient, e.Code)
}

func TestPrivateMessageHiddenFromLateJoinerHistory(t *testing.T) {
	h := newTestHub(t, nil)
	alice := connect(t, h)
	join(t, h, alice, "alice")
	bob := connect(t, h)
	join(t, h, bob, "bob")
	drainJoinNoise(t, alice)

	emit(t, h, alice, EventPrivateMessage, privatePayload{To: "bob", Message: "secret"})
	expectEvent(t, alice, EventPrivateMessage)
	expectEvent(t, bob, EventPrivateMessage)

	carol := connect(t, h)
	history := join(t, h, carol, "carol")
	for _, msg := range history {
		assert.NotEqual(t, "secret", msg.Body)
	}
}

func TestCommandsBeforeJoinRejected(t *testing.T) {
	h := newTestHub(t, nil)
	c := connect(t, h)

	emit(t, h, c, EventSendMessage, sendPayload{Message: "hi"})

	errRaw := expectEvent(t, c, EventError)
	var e errorPayload
	require.NoError(t, json.Unmarshal(errRaw, &e))
	assert.Equal(t, ErrCodeNotJoined, e.Code)
}

func TestTypingFanoutAndDisconnectCleanup(t *testing.T) {
	h := newTestHub(t, nil)
	alice := connect(t, h)
	join(t, h, alice, "alice")
	bob := connect(t, h)
	join(t, h, bob, "bob")
	drainJoinNoise(t, alice)

	emit(t, h, alice, EventTyping, true)
	for _, c := range []*Client{alice, bob} {
		raw := expectEvent(t, c, EventTypingUsers)
		var typers []string
		require.NoError(t, json.Unmarshal(raw, &typers))
		assert.Equal(t, []string{"alice"}, typers)
	}

	h.unregister <- alice

	expectEvent(t, bob, EventUserLeft)
	noticeRaw := expectEvent(t, bob, EventReceiveMessage)
	var notice chat.Message
	require.NoError(t, json.Unmarshal(noticeRaw, &notice))
	assert.Equal(t, "alice left the chat", notice.Body)
	expectEvent(t, bob, EventUserList)

	raw := expectEvent(t, bob, EventTypingUsers)
	var typers []string
	require.NoError(t, json.Unmarshal(raw, &typers))
	assert.Empty(t, typers, "typing set must not contain disconnected users")
}

func TestDisconnectBeforeJoinIsSilent(t *testing.T) {
	h := newTestHub(t, nil)
	alice := connect(t, h)
	join(t, h, alice, "alice")

	stranger := connect(t, h)
	h.unregister <- stranger

	expectNoEvent(t, alice)
}

func TestReadReceiptBroadcastOnce(t *testing.T) {
	h := newTestHub(t, nil)
	alice := connect(t, h)
	join(t, h, alice, "alice")
	bob := connect(t, h)
	join(t, h, bob, "bob")
	drainJoinNoise(t, alice)

	emit(t, h, alice, EventSendMessage, sendPayload{Message: "hi"})
	raw := expectEvent(t, alice, EventReceiveMessage)
	expectEvent(t, bob, EventReceiveMessage)
	var msg chat.Message
	require.NoError(t, json.Unmarshal(raw, &msg))

	for i := 0; i < 3; i++ {
		emit(t, h, bob, EventMessageRead, receiptPayload{MessageID: msg.ID, Username: "bob"})
	}

	readRaw := expectEvent(t, alice, EventMessageRead)
	var receipt receiptNotice
	require.NoError(t, json.Unmarshal(readRaw, &receipt))
	assert.Equal(t, msg.ID, receipt.MessageID)
	assert.Equal(t, "bob", receipt.Username)

	// Repeats are no-ops: no further fan-out.
	expectNoEvent(t, alice)
}

func TestSeenReceiptForUnknownMessageIgnored(t *testing.T) {
	h := newTestHub(t, nil)
	alice := connect(t, h)
	join(t, h, alice, "alice")

	emit(t, h, alice, EventMarkSeen, receiptPayload{MessageID: 999, Username: "alice"})

	expectNoEvent(t, alice)
}

func TestReactionsKeepDuplicates(t *testing.T) {
	h := newTestHub(t, nil)
	alice := connect(t, h)
	join(t, h, alice, "alice")
	bob := connect(t, h)
	join(t, h, bob, "bob")
	drainJoinNoise(t, alice)

	emit(t, h, alice, EventSendMessage, sendPayload{Message: "hi"})
	raw := expectEvent(t, alice, EventReceiveMessage)
	expectEvent(t, bob, EventReceiveMessage)
	var msg chat.Message
	require.NoError(t, json.Unmarshal(raw, &msg))

	for i := 0; i < 2; i++ {
		emit(t, h, bob, EventAddReaction, reactionPayload{MessageID: msg.ID, Reaction: "👍", Username: "bob"})
	}
	for i := 0; i < 2; i++ {
		reactRaw := expectEvent(t, alice, EventReactionAdded)
		var reaction reactionNotice
		require.NoError(t, json.Unmarshal(reactRaw, &reaction))
		assert.Equal(t, "👍", reaction.Reaction)
		assert.Equal(t, "bob", reaction.Username)
	}
}

func TestPinMovesBetweenMessages(t *testing.T) {
	h := newTestHub(t, nil)
	alice := connect(t, h)
	join(t, h, alice, "alice")

	emit(t, h, alice, EventSendMessage, sendPayload{Message: "first"})
	rawA := expectEvent(t, alice, EventReceiveMessage)
	emit(t, h, alice, EventSendMessage, sendPayload{Message: "second"})
	rawB := expectEvent(t, alice, EventReceiveMessage)

	var a, b chat.Message
	require.NoError(t, json.Unmarshal(rawA, &a))
	require.NoError(t, json.Unmarshal(rawB, &b))

	emit(t, h, alice, EventPinMessage, a.ID)
	pinRaw := expectEvent(t, alice, EventMessagePinned)
	var pin pinNotice
	require.NoError(t, json.Unmarshal(pinRaw, &pin))
	assert.Equal(t, a.ID, pin.MessageID)

	emit(t, h, alice, EventPinMessage, b.ID)
	pinRaw = expectEvent(t, alice, EventMessagePinned)
	require.NoError(t, json.Unmarshal(pinRaw, &pin))
	assert.Equal(t, b.ID, pin.MessageID)

	unpinRaw := expectEvent(t, alice, EventMessageUnpinned)
	require.NoError(t, json.Unmarshal(unpinRaw, &pin))
	assert.Equal(t, a.ID, pin.MessageID)
}

func TestAdminBroadcastRequiresToken(t *testing.T) {
	h := newTestHub(t, func(cfg *Config) { cfg.AdminSecret = "s3cret" })
	alice := connect(t, h)
	join(t, h, alice, "alice")

	emit(t, h, alice, EventAdminBroadcast, broadcastPayload{Message: "maintenance soon"})

	errRaw := expectEvent(t, alice, EventError)
	var e errorPayload
	require.NoError(t, json.Unmarshal(errRaw, &e))
	assert.Equal(t, ErrCodeUnauthorized, e.Code)
}

func TestAdminBroadcastWithValidToken(t *testing.T) {
	h := newTestHub(t, func(cfg *Config) { cfg.AdminSecret = "s3cret" })
	alice := connect(t, h)
	join(t, h, alice, "alice")
	bob := connect(t, h)
	join(t, h, bob, "bob")
	drainJoinNoise(t, alice)

	token, err := SignAdminToken("s3cret", time.Minute)
	require.NoError(t, err)

	emit(t, h, alice, EventAdminBroadcast, broadcastPayload{Message: "maintenance soon", Token: token})

	for _, c := range []*Client{alice, bob} {
		raw := expectEvent(t, c, EventAdminBroadcast)
		var notice broadcastNotice
		require.NoError(t, json.Unmarshal(raw, &notice))
		assert.Equal(t, "maintenance soon", notice.Message)
		assert.NotZero(t, notice.ID)
	}
}

func TestAdminBroadcastDisabledWithoutSecret(t *testing.T) {
	h := newTestHub(t, func(cfg *Config) { cfg.AdminSecret = "" })
	alice := connect(t, h)
	join(t, h, alice, "alice")

	token, err := SignAdminToken("anything", time.Minute)
	require.NoError(t, err)
	emit(t, h, alice, EventAdminBroadcast, broadcastPayload{Message: "hello", Token: token})

	errRaw := expectEvent(t, alice, EventError)
	var e errorPayload
	require.NoError(t, json.Unmarshal(errRaw, &e))
	assert.Equal(t, ErrCodeUnauthorized, e.Code)
}

func TestUnknownEventIgnored(t *testing.T) {
	h := newTestHub(t, nil)
	alice := connect(t, h)
	join(t, h, alice, "alice")

	emit(t, h, alice, "time_travel", map[string]any{"to": "1999"})

	expectNoEvent(t, alice)
}
