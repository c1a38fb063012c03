package server

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Older clients emit some events with bare scalar payloads instead of
// objects; the payload types accept both shapes.

func TestJoinPayloadAcceptsBothShapes(t *testing.T) {
	var p joinPayload
	require.NoError(t, json.Unmarshal([]byte(`"alice"`), &p))
	assert.Equal(t, "alice", p.Username)

	p = joinPayload{}
	require.NoError(t, json.Unmarshal([]byte(`{"username":"bob"}`), &p))
	assert.Equal(t, "bob", p.Username)
}

func TestTypingPayloadAcceptsBothShapes(t *testing.T) {
	var p typingPayload
	require.NoError(t, json.Unmarshal([]byte(`true`), &p))
	assert.True(t, p.IsTyping)

	p = typingPayload{}
	require.NoError(t, json.Unmarshal([]byte(`{"isTyping":true}`), &p))
	assert.True(t, p.IsTyping)

	p = typingPayload{}
	require.NoError(t, json.Unmarshal([]byte(`false`), &p))
	assert.False(t, p.IsTyping)
}

func TestPinPayloadAcceptsBothShapes(t *testing.T) {
	var p pinPayload
	require.NoError(t, json.Unmarshal([]byte(`42`), &p))
	assert.Equal(t, int64(42), p.MessageID)

	p = pinPayload{}
	require.NoError(t, json.Unmarshal([]byte(`{"messageId":7}`), &p))
	assert.Equal(t, int64(7), p.MessageID)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	payload, err := marshalEnvelope(EventTypingUsers, []string{"alice"})
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(payload, &env))
	assert.Equal(t, EventTypingUsers, env.Event)
	assert.JSONEq(t, `["alice"]`, string(env.Data))
}
