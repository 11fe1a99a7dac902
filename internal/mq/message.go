package mq

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultPriority is applied by NewMessage when no priority option is given
	DefaultPriority = 5

	// DefaultMaxRetries is the number of re-deliveries allowed before a message is dead-lettered
	DefaultMaxRetries = 3
)

// QueueMessage is the unit of work carried by every provider.
// Its JSON form is the flat record persisted by the Redis provider.
type QueueMessage struct {
	// ID is a unique identifier assigned by NewMessage
	ID string `json:"id"`

	// Type is used by consumers for routing, the queue never interprets it
	Type string `json:"type"`

	// Payload is opaque to the queue
	Payload json.RawMessage `json:"payload"`

	// Timestamp when the message was created
	Timestamp time.Time `json:"timestamp"`

	UserID         string `json:"userId,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`

	// Priority orders ready messages, higher first
	Priority int `json:"priority"`

	// DelayMs defers delivery until Timestamp + DelayMs
	DelayMs int64 `json:"delayMs,omitempty"`

	// MaxRetries bounds RetryCount
	MaxRetries int `json:"maxRetries"`

	// RetryCount is incremented by the queue on every failed delivery that is retried
	RetryCount int `json:"retryCount"`

	// Metadata for additional context
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// MessageOption overrides a field of a QueueMessage
type MessageOption func(*QueueMessage)

// WithPriority sets the message priority
func WithPriority(priority int) MessageOption {
	return func(m *QueueMessage) {
		m.Priority = priority
	}
}

// MaxDelay bounds how far into the future a message may be deferred
const MaxDelay = 365 * 24 * time.Hour

// WithDelay defers delivery by d, capped at MaxDelay
func WithDelay(d time.Duration) MessageOption {
	return func(m *QueueMessage) {
		m.DelayMs = min(d, MaxDelay).Milliseconds()
	}
}

// WithMaxRetries sets the retry budget
func WithMaxRetries(n int) MessageOption {
	return func(m *QueueMessage) {
		m.MaxRetries = n
	}
}

// WithUserID sets the originating user
func WithUserID(userID string) MessageOption {
	return func(m *QueueMessage) {
		m.UserID = userID
	}
}

// WithConversationID sets the conversation the message belongs to
func WithConversationID(conversationID string) MessageOption {
	return func(m *QueueMessage) {
		m.ConversationID = conversationID
	}
}

// WithMetadata merges the given entries into the message metadata
func WithMetadata(metadata map[string]interface{}) MessageOption {
	return func(m *QueueMessage) {
		if len(metadata) == 0 {
			return
		}
		if m.Metadata == nil {
			m.Metadata = make(map[string]interface{}, len(metadata))
		}
		for k, v := range metadata {
			m.Metadata[k] = v
		}
	}
}

// NewMessage creates a message with a fresh ID, the current time and default
// priority and retry budget. Raw JSON or byte slices are stored as-is, any
// other payload is marshaled to JSON.
func NewMessage(msgType string, payload interface{}, opts ...MessageOption) (*QueueMessage, error) {
	data, err := encodePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	msg := &QueueMessage{
		ID:         uuid.New().String(),
		Type:       msgType,
		Payload:    data,
		Timestamp:  time.Now(),
		Priority:   DefaultPriority,
		MaxRetries: DefaultMaxRetries,
	}
	msg.Apply(opts...)

	return msg, nil
}

func encodePayload(payload interface{}) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	default:
		return json.Marshal(p)
	}
}

// Apply applies options in order
func (m *QueueMessage) Apply(opts ...MessageOption) {
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
}

// Unmarshal unmarshals the payload into the given interface
func (m *QueueMessage) Unmarshal(v interface{}) error {
	return json.Unmarshal(m.Payload, v)
}

// Delay returns DelayMs as a duration, capped at MaxDelay so stored
// values too large for a Duration cannot wrap into the past
func (m *QueueMessage) Delay() time.Duration {
	if m.DelayMs <= 0 {
		return 0
	}
	if m.DelayMs >= MaxDelay.Milliseconds() {
		return MaxDelay
	}
	return time.Duration(m.DelayMs) * time.Millisecond
}

// ExecuteAt returns the earliest time the message may be delivered
func (m *QueueMessage) ExecuteAt() time.Time {
	return m.Timestamp.Add(m.Delay())
}

// Clone returns a deep enough copy for handing to a handler: payload bytes
// and the top level of metadata are copied.
func (m *QueueMessage) Clone() *QueueMessage {
	if m == nil {
		return nil
	}
	c := *m
	if m.Payload != nil {
		c.Payload = append(json.RawMessage(nil), m.Payload...)
	}
	if m.Metadata != nil {
		c.Metadata = make(map[string]interface{}, len(m.Metadata))
		for k, v := range m.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// GetMetadata returns a metadata value
func (m *QueueMessage) GetMetadata(key string) (interface{}, bool) {
	val, ok := m.Metadata[key]
	return val, ok
}
