package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/arnabghosh/chat-queue/internal/mq"
)

// ErrMalformedPayload marks a message whose payload can never be processed.
// The dispatcher acknowledges such messages instead of retrying them.
var ErrMalformedPayload = errors.New("malformed payload")

// DefaultStatsInterval is how often the dispatcher logs its counters
const DefaultStatsInterval = 10 * time.Second

// Subscriber is the part of the queue service the dispatcher needs
type Subscriber interface {
	Subscribe(ctx context.Context, queueName string, handler mq.Handler) error
	Unsubscribe(ctx context.Context, queueName string) error
	GetStats(ctx context.Context, queueName string) (mq.QueueStats, error)
}

// Handler processes one message of a registered type
type Handler func(ctx context.Context, msg *mq.QueueMessage) error

// HandleJSON decodes the payload into T before calling fn.
// Decoding failures are reported as ErrMalformedPayload.
func HandleJSON[T any](fn func(ctx context.Context, msg *mq.QueueMessage, payload T) error) Handler {
	return func(ctx context.Context, msg *mq.QueueMessage) error {
		var payload T
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		return fn(ctx, msg, payload)
	}
}

// Config holds the configuration for a dispatcher
type Config struct {
	InstanceID    string
	Queues        []string
	StatsInterval time.Duration
}

// Dispatcher subscribes to a set of queues and routes each message to the
// handler registered for its type
type Dispatcher struct {
	config Config
	queue  Subscriber
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
	fallback Handler

	// Statistics
	messagesProcessed atomic.Int64
	messagesSucceeded atomic.Int64
	messagesErrors    atomic.Int64
	messagesMalformed atomic.Int64
	messagesUnrouted  atomic.Int64
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(config Config, queue Subscriber, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if config.InstanceID == "" {
		config.InstanceID = "consumer-" + uuid.New().String()[:8]
	}
	if config.StatsInterval <= 0 {
		config.StatsInterval = DefaultStatsInterval
	}

	return &Dispatcher{
		config:   config,
		queue:    queue,
		handlers: make(map[string]Handler),
		logger:   logger.With("component", "consumer", "instance_id", config.InstanceID),
	}
}

// Register routes messages of msgType to handler, replacing any previous one
func (d *Dispatcher) Register(msgType string, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[msgType] = handler
}

// SetFallback handles messages whose type has no registered handler.
// Without a fallback such messages are logged and acknowledged.
func (d *Dispatcher) SetFallback(handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fallback = handler
}

func (d *Dispatcher) handlerFor(msgType string) (Handler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if h, ok := d.handlers[msgType]; ok {
		return h, true
	}
	return d.fallback, d.fallback != nil
}

// Start subscribes to every configured queue and blocks until ctx is done
func (d *Dispatcher) Start(ctx context.Context) error {
	if len(d.config.Queues) == 0 {
		return errors.New("no queues configured")
	}

	d.logger.Info("Starting consumer", "queues", d.config.Queues)

	subscribed := make([]string, 0, len(d.config.Queues))
	for _, name := range d.config.Queues {
		if err := d.queue.Subscribe(ctx, name, d.handleMessage(name)); err != nil {
			d.unsubscribe(subscribed)
			return fmt.Errorf("failed to subscribe to queue %s: %w", name, err)
		}
		subscribed = append(subscribed, name)
	}

	d.logger.Info("Subscribed to queues", "count", len(subscribed))

	go d.reportStats(ctx)

	<-ctx.Done()
	d.logger.Info("Consumer shutting down",
		"messages_processed", d.messagesProcessed.Load(),
		"errors", d.messagesErrors.Load(),
	)

	d.unsubscribe(subscribed)
	return ctx.Err()
}

func (d *Dispatcher) unsubscribe(queues []string) {
	for _, name := range queues {
		if err := d.queue.Unsubscribe(context.Background(), name); err != nil {
			d.logger.Warn("Failed to unsubscribe", "queue", name, "error", err)
		}
	}
}

// handleMessage returns the queue handler for queueName
func (d *Dispatcher) handleMessage(queueName string) mq.Handler {
	return func(ctx context.Context, msg *mq.QueueMessage) error {
		d.messagesProcessed.Add(1)

		handler, ok := d.handlerFor(msg.Type)
		if !ok {
			d.messagesUnrouted.Add(1)
			d.logger.Warn("No handler for message type",
				"queue", queueName,
				"message_id", msg.ID,
				"type", msg.Type,
			)
			// Acknowledge: retrying cannot make a handler appear
			return nil
		}

		err := handler(ctx, msg)
		switch {
		case err == nil:
			d.messagesSucceeded.Add(1)
			d.logger.Debug("Processed message",
				"queue", queueName,
				"message_id", msg.ID,
				"type", msg.Type,
			)
			return nil
		case errors.Is(err, ErrMalformedPayload):
			d.messagesMalformed.Add(1)
			d.logger.Warn("Dropping malformed message",
				"queue", queueName,
				"message_id", msg.ID,
				"type", msg.Type,
				"error", err,
			)
			return nil
		default:
			d.messagesErrors.Add(1)
			d.logger.Error("Handler failed",
				"queue", queueName,
				"message_id", msg.ID,
				"type", msg.Type,
				"retry_count", msg.RetryCount,
				"error", err,
			)
			return err
		}
	}
}

// reportStats periodically logs statistics
func (d *Dispatcher) reportStats(ctx context.Context) {
	ticker := time.NewTicker(d.config.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			attrs := []any{
				"messages_processed", d.messagesProcessed.Load(),
				"messages_succeeded", d.messagesSucceeded.Load(),
				"messages_errors", d.messagesErrors.Load(),
				"messages_malformed", d.messagesMalformed.Load(),
				"messages_unrouted", d.messagesUnrouted.Load(),
			}
			var pending int64
			for _, name := range d.config.Queues {
				qs, err := d.queue.GetStats(ctx, name)
				if err != nil {
					continue
				}
				pending += qs.Pending
			}
			attrs = append(attrs, "queue_pending", pending)
			d.logger.Info("Consumer statistics", attrs...)
		}
	}
}

// Stats returns current dispatcher statistics
func (d *Dispatcher) Stats() Stats {
	return Stats{
		MessagesProcessed: d.messagesProcessed.Load(),
		MessagesSucceeded: d.messagesSucceeded.Load(),
		MessagesErrors:    d.messagesErrors.Load(),
		MessagesMalformed: d.messagesMalformed.Load(),
		MessagesUnrouted:  d.messagesUnrouted.Load(),
	}
}

// Stats holds dispatcher statistics
type Stats struct {
	MessagesProcessed int64
	MessagesSucceeded int64
	MessagesErrors    int64
	MessagesMalformed int64
	MessagesUnrouted  int64
}
