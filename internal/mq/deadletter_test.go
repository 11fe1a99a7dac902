package mq

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeadLetterBus_PublishAndRemove(t *testing.T) {
	bus := newDeadLetterBus(testLogger())

	var first, second atomic.Int32
	removeFirst := bus.register(DeadLetterFunc(func(e DeadLetterEvent) { first.Add(1) }))
	bus.register(DeadLetterFunc(func(e DeadLetterEvent) { second.Add(1) }))

	msg, err := NewMessage("t", "x")
	require.NoError(t, err)
	event := DeadLetterEvent{QueueName: "q", Message: msg, Err: errors.New("fail"), At: time.Now()}

	bus.publish(event)
	removeFirst()
	removeFirst()
	bus.publish(event)

	assert.Equal(t, int32(1), first.Load())
	assert.Equal(t, int32(2), second.Load())
}

func TestDeadLetterBus_ObserverPanicDoesNotStopOthers(t *testing.T) {
	bus := newDeadLetterBus(testLogger())

	var called atomic.Bool
	bus.register(DeadLetterFunc(func(e DeadLetterEvent) { panic("observer bug") }))
	bus.register(DeadLetterFunc(func(e DeadLetterEvent) { called.Store(true) }))

	msg, err := NewMessage("t", "x")
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		bus.publish(DeadLetterEvent{QueueName: "q", Message: msg})
	})
	assert.True(t, called.Load())
}

func TestDeadLetterBus_ObserversGetCopies(t *testing.T) {
	bus := newDeadLetterBus(testLogger())

	bus.register(DeadLetterFunc(func(e DeadLetterEvent) { e.Message.Type = "mutated" }))

	msg, err := NewMessage("original", "x")
	require.NoError(t, err)
	bus.publish(DeadLetterEvent{QueueName: "q", Message: msg})

	assert.Equal(t, "original", msg.Type)
}

func TestDeadLetterBus_NilObserver(t *testing.T) {
	bus := newDeadLetterBus(testLogger())
	remove := bus.register(nil)
	assert.NotPanics(t, remove)
}

func TestQueueRegistry(t *testing.T) {
	created := 0
	r := newQueueRegistry(func(name string) *string {
		created++
		n := name
		return &n
	})

	a := r.getOrCreate("b-queue")
	b := r.getOrCreate("b-queue")
	r.getOrCreate("a-queue")

	assert.Same(t, a, b)
	assert.Equal(t, 2, created)
	assert.Len(t, r.values(), 2)

	removed, ok := r.remove("b-queue")
	assert.True(t, ok)
	assert.Same(t, a, removed)

	_, ok = r.get("b-queue")
	assert.False(t, ok)
	_, ok = r.remove("b-queue")
	assert.False(t, ok)
}
