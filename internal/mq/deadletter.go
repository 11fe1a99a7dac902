package mq

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DeadLetterEvent is emitted exactly once for every message whose retry
// budget is exhausted. The queue keeps no copy of the message afterwards.
type DeadLetterEvent struct {
	QueueName string
	Message   *QueueMessage
	Err       error
	At        time.Time
}

// DeadLetterObserver receives dead-letter events
type DeadLetterObserver interface {
	OnDeadLetter(event DeadLetterEvent)
}

// DeadLetterFunc adapts a function to DeadLetterObserver
type DeadLetterFunc func(event DeadLetterEvent)

// OnDeadLetter calls f(event)
func (f DeadLetterFunc) OnDeadLetter(event DeadLetterEvent) {
	f(event)
}

// deadLetterBus fans dead-letter events out to registered observers.
// Dispatch is synchronous on the delivering goroutine.
type deadLetterBus struct {
	mu        sync.RWMutex
	nextID    uint64
	observers map[uint64]DeadLetterObserver
	logger    *slog.Logger
}

func newDeadLetterBus(logger *slog.Logger) *deadLetterBus {
	return &deadLetterBus{
		observers: make(map[uint64]DeadLetterObserver),
		logger:    logger,
	}
}

func (b *deadLetterBus) register(observer DeadLetterObserver) func() {
	if observer == nil {
		return func() {}
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.observers[id] = observer
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.observers, id)
			b.mu.Unlock()
		})
	}
}

func (b *deadLetterBus) publish(event DeadLetterEvent) {
	b.mu.RLock()
	observers := make([]DeadLetterObserver, 0, len(b.observers))
	for _, o := range b.observers {
		observers = append(observers, o)
	}
	b.mu.RUnlock()

	if len(observers) == 0 {
		b.logger.Warn("Message dead-lettered with no observers",
			"queue", event.QueueName,
			"message_id", event.Message.ID,
			"error", event.Err,
		)
		return
	}

	for _, o := range observers {
		b.notify(o, event)
	}
}

func (b *deadLetterBus) notify(o DeadLetterObserver, event DeadLetterEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Dead-letter observer panicked",
				"queue", event.QueueName,
				"message_id", event.Message.ID,
				"panic", fmt.Sprint(r),
			)
		}
	}()
	// each observer gets its own copy so none can mutate what another sees
	ev := event
	ev.Message = event.Message.Clone()
	o.OnDeadLetter(ev)
}
