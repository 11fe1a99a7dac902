package dto

import (
	"encoding/json"
	"time"
)

// EnqueueRequest is the body of POST /api/v1/queues/:name/messages.
// Unset priority and maxRetries fall back to the service defaults.
// delayMs is capped at one year, matching mq.MaxDelay.
type EnqueueRequest struct {
	Type           string                 `json:"type" binding:"required"`
	Payload        json.RawMessage        `json:"payload,omitempty"`
	Priority       *int                   `json:"priority,omitempty"`
	DelayMs        int64                  `json:"delayMs,omitempty" binding:"gte=0,lte=31536000000"`
	MaxRetries     *int                   `json:"maxRetries,omitempty" binding:"omitempty,gte=0"`
	UserID         string                 `json:"userId,omitempty"`
	ConversationID string                 `json:"conversationId,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// MessageResponse represents a queued message
type MessageResponse struct {
	ID             string                 `json:"id"`
	Type           string                 `json:"type"`
	Payload        json.RawMessage        `json:"payload"`
	Timestamp      time.Time              `json:"timestamp"`
	UserID         string                 `json:"userId,omitempty"`
	ConversationID string                 `json:"conversationId,omitempty"`
	Priority       int                    `json:"priority"`
	DelayMs        int64                  `json:"delayMs,omitempty"`
	ExecuteAt      time.Time              `json:"executeAt"`
	MaxRetries     int                    `json:"maxRetries"`
	RetryCount     int                    `json:"retryCount"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// QueueStatsResponse represents queue statistics
type QueueStatsResponse struct {
	QueueName           string  `json:"queueName,omitempty"`
	Total               int64   `json:"total"`
	Pending             int64   `json:"pending"`
	Processing          int64   `json:"processing"`
	Completed           int64   `json:"completed"`
	Failed              int64   `json:"failed"`
	Retried             int64   `json:"retried"`
	AvgProcessingTimeMs float64 `json:"avgProcessingTimeMs"`
}

// QueueSizeResponse represents the number of pending messages in a queue
type QueueSizeResponse struct {
	QueueName string `json:"queueName"`
	Size      int64  `json:"size"`
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status   string `json:"status"`
	Provider string `json:"provider"`
}
