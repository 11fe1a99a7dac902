package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/arnabghosh/chat-queue/internal/mq"
)

// DefaultListLimit bounds List when the caller passes a non-positive limit
const DefaultListLimit = 100

// ErrInvalidRecord is returned when storing a nil record or one without a queue name
var ErrInvalidRecord = errors.New("invalid dead-letter record")

// Record is an archived message that exhausted its retries.
// Maps 1:1 to the JSON returned by GET /api/v1/deadletters and to the MongoDB document.
type Record struct {
	ID             string                 `json:"id" bson:"_id"`
	QueueName      string                 `json:"queueName" bson:"queue_name"`
	MessageID      string                 `json:"messageId" bson:"message_id"`
	Type           string                 `json:"type" bson:"type"`
	Payload        json.RawMessage        `json:"payload,omitempty" bson:"payload,omitempty"`
	UserID         string                 `json:"userId,omitempty" bson:"user_id,omitempty"`
	ConversationID string                 `json:"conversationId,omitempty" bson:"conversation_id,omitempty"`
	Priority       int                    `json:"priority" bson:"priority"`
	RetryCount     int                    `json:"retryCount" bson:"retry_count"`
	MaxRetries     int                    `json:"maxRetries" bson:"max_retries"`
	Metadata       map[string]interface{} `json:"metadata,omitempty" bson:"metadata,omitempty"`
	Error          string                 `json:"error" bson:"error"`
	FailedAt       time.Time              `json:"failedAt" bson:"failed_at"`
}

// NewRecord converts a dead-letter event into an archive record
func NewRecord(event mq.DeadLetterEvent) *Record {
	r := &Record{
		ID:        uuid.New().String(),
		QueueName: event.QueueName,
		FailedAt:  event.At,
	}
	if r.FailedAt.IsZero() {
		r.FailedAt = time.Now()
	}
	if event.Err != nil {
		r.Error = event.Err.Error()
	}
	if msg := event.Message; msg != nil {
		r.MessageID = msg.ID
		r.Type = msg.Type
		r.Payload = append(json.RawMessage(nil), msg.Payload...)
		r.UserID = msg.UserID
		r.ConversationID = msg.ConversationID
		r.Priority = msg.Priority
		r.RetryCount = msg.RetryCount
		r.MaxRetries = msg.MaxRetries
		r.Metadata = msg.Metadata
	}
	return r
}

// Validate checks the fields every repository requires
func (r *Record) Validate() error {
	if r == nil || r.QueueName == "" {
		return ErrInvalidRecord
	}
	return nil
}

// Repository defines the interface for dead-letter storage
type Repository interface {
	// Store persists a record
	Store(ctx context.Context, record *Record) error

	// List returns the newest records first, optionally filtered by queue.
	// A non-positive limit means DefaultListLimit.
	List(ctx context.Context, queueName string, limit int) ([]*Record, error)

	// Count returns the number of records held
	Count(ctx context.Context) (int64, error)

	// Close releases the underlying resources
	Close(ctx context.Context) error
}
