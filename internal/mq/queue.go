package mq

import (
	"context"
	"time"
)

// Handler processes a delivered message. A non-nil error (or a panic) marks
// the delivery as failed and triggers the retry protocol.
type Handler func(ctx context.Context, msg *QueueMessage) error

// Provider is the capability every queue backend implements.
// The in-memory and Redis providers are interchangeable behind it.
type Provider interface {
	// Name identifies the backend ("memory", "redis")
	Name() string

	// Connect must be called before Enqueue or Subscribe
	Connect(ctx context.Context) error

	// Disconnect stops delivery and releases resources
	Disconnect(ctx context.Context) error

	// IsHealthy reports whether the provider can serve requests
	IsHealthy(ctx context.Context) bool

	// Enqueue stores msg in the named queue. Options override message
	// fields before insertion.
	Enqueue(ctx context.Context, queueName string, msg *QueueMessage, opts ...MessageOption) error

	// Dequeue removes and returns the highest-priority ready message.
	// It returns (nil, nil) when nothing is ready.
	Dequeue(ctx context.Context, queueName string) (*QueueMessage, error)

	// Peek returns the message Dequeue would return, without removing it
	Peek(ctx context.Context, queueName string) (*QueueMessage, error)

	// Subscribe registers a handler. Every handler of a queue receives every
	// message delivered from that queue.
	Subscribe(ctx context.Context, queueName string, handler Handler) error

	// Unsubscribe removes all handlers of a queue and halts delivery
	Unsubscribe(ctx context.Context, queueName string) error

	// GetQueueSize counts pending messages, ready and delayed
	GetQueueSize(ctx context.Context, queueName string) (int64, error)

	// PurgeQueue drops all pending messages and keeps subscribers and counters
	PurgeQueue(ctx context.Context, queueName string) error

	// DeleteQueue drops messages, subscribers, counters and processing state
	DeleteQueue(ctx context.Context, queueName string) error

	// GetStats returns counters for one queue, or the sum over every known
	// queue when queueName is empty
	GetStats(ctx context.Context, queueName string) (QueueStats, error)

	// OnDeadLetter registers an observer for exhausted messages and returns
	// a function that removes it
	OnDeadLetter(observer DeadLetterObserver) func()
}

// QueueStats represents statistics about a queue
type QueueStats struct {
	// QueueName is empty for aggregated stats
	QueueName string

	// Total is the number of messages ever enqueued
	Total int64

	// Pending is the current number of ready and delayed messages
	Pending int64

	// Processing is the number of messages currently handed to handlers
	Processing int64

	// Completed counts successful deliveries
	Completed int64

	// Failed counts dead-lettered messages
	Failed int64

	// Retried counts re-deliveries scheduled after a failure
	Retried int64

	// AvgProcessingTime is the mean handler time of completed deliveries
	AvgProcessingTime time.Duration
}

// Add accumulates other into s. Averages are weighted by completed counts.
func (s *QueueStats) Add(other QueueStats) {
	totalTime := s.AvgProcessingTime*time.Duration(s.Completed) +
		other.AvgProcessingTime*time.Duration(other.Completed)

	s.Total += other.Total
	s.Pending += other.Pending
	s.Processing += other.Processing
	s.Completed += other.Completed
	s.Failed += other.Failed
	s.Retried += other.Retried

	if s.Completed > 0 {
		s.AvgProcessingTime = totalTime / time.Duration(s.Completed)
	} else {
		s.AvgProcessingTime = 0
	}
}
