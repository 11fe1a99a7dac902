package mq

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessage(t *testing.T) {
	data := map[string]interface{}{"key": "value"}

	msg, err := NewMessage("chat.message", data)

	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "chat.message", msg.Type)
	assert.JSONEq(t, `{"key":"value"}`, string(msg.Payload))
	assert.False(t, msg.Timestamp.IsZero())
	assert.Equal(t, DefaultPriority, msg.Priority)
	assert.Equal(t, DefaultMaxRetries, msg.MaxRetries)
	assert.Zero(t, msg.RetryCount)
	assert.Zero(t, msg.DelayMs)
}

func TestNewMessage_UniqueIDs(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		msg, err := NewMessage("t", i)
		require.NoError(t, err)
		assert.False(t, seen[msg.ID], "duplicate id %s", msg.ID)
		seen[msg.ID] = true
	}
}

func TestNewMessage_Options(t *testing.T) {
	msg, err := NewMessage("agent.response", "hi",
		WithPriority(9),
		WithDelay(1500*time.Millisecond),
		WithMaxRetries(1),
		WithUserID("user-1"),
		WithConversationID("conv-1"),
		WithMetadata(map[string]interface{}{"source": "test"}),
	)

	require.NoError(t, err)
	assert.Equal(t, 9, msg.Priority)
	assert.Equal(t, int64(1500), msg.DelayMs)
	assert.Equal(t, 1, msg.MaxRetries)
	assert.Equal(t, "user-1", msg.UserID)
	assert.Equal(t, "conv-1", msg.ConversationID)
	val, ok := msg.GetMetadata("source")
	assert.True(t, ok)
	assert.Equal(t, "test", val)
	assert.Equal(t, msg.Timestamp.Add(1500*time.Millisecond), msg.ExecuteAt())
}

func TestNewMessage_PriorityNotClamped(t *testing.T) {
	msg, err := NewMessage("t", nil, WithPriority(-3))
	require.NoError(t, err)
	assert.Equal(t, -3, msg.Priority)
	assert.Equal(t, "null", string(msg.Payload))
}

func TestNewMessage_RawPayload(t *testing.T) {
	raw := json.RawMessage(`{"already":"encoded"}`)

	msg, err := NewMessage("t", raw)
	require.NoError(t, err)
	assert.Equal(t, string(raw), string(msg.Payload))

	msg, err = NewMessage("t", []byte(`[1,2,3]`))
	require.NoError(t, err)
	assert.Equal(t, `[1,2,3]`, string(msg.Payload))
}

func TestNewMessage_UnencodablePayload(t *testing.T) {
	_, err := NewMessage("t", make(chan int))
	assert.Error(t, err)
}

func TestMessage_Unmarshal(t *testing.T) {
	type TestPayload struct {
		Name  string `json:"name"`
		Value int    `json:"value"`
	}

	msg, err := NewMessage("test", TestPayload{Name: "test", Value: 42})
	require.NoError(t, err)

	var result TestPayload
	err = msg.Unmarshal(&result)

	assert.NoError(t, err)
	assert.Equal(t, "test", result.Name)
	assert.Equal(t, 42, result.Value)
}

func TestMessage_Clone(t *testing.T) {
	msg, err := NewMessage("t", map[string]int{"a": 1}, WithMetadata(map[string]interface{}{"k": "v"}))
	require.NoError(t, err)

	c := msg.Clone()
	c.Payload[0] = 'X'
	c.Metadata["k"] = "changed"
	c.RetryCount = 7

	assert.Equal(t, byte('{'), msg.Payload[0])
	assert.Equal(t, "v", msg.Metadata["k"])
	assert.Zero(t, msg.RetryCount)
	assert.Nil(t, (*QueueMessage)(nil).Clone())
}

func TestMessage_WireFormat(t *testing.T) {
	msg, err := NewMessage("status.update", map[string]string{"s": "ok"},
		WithUserID("u"), WithConversationID("c"))
	require.NoError(t, err)

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &fields))
	for _, key := range []string{"id", "type", "payload", "timestamp", "userId", "conversationId", "priority", "maxRetries", "retryCount"} {
		assert.Contains(t, fields, key)
	}
	assert.NotContains(t, fields, "delayMs")
}

func TestMessage_DelayIsCapped(t *testing.T) {
	msg, err := NewMessage("t", nil, WithDelay(10*MaxDelay))
	require.NoError(t, err)
	assert.Equal(t, MaxDelay.Milliseconds(), msg.DelayMs)

	msg.DelayMs = 1e16
	assert.Equal(t, MaxDelay, msg.Delay())
	assert.True(t, msg.ExecuteAt().After(msg.Timestamp))

	msg.DelayMs = -5
	assert.Zero(t, msg.Delay())
	assert.Equal(t, msg.Timestamp, msg.ExecuteAt())
}
