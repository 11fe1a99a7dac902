package mq

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testBackoff keeps retry waits short: 10ms, 20ms, 40ms
var testBackoff = WithRetryBackoff(10*time.Millisecond, 40*time.Millisecond)

// providerFactory returns a connected provider; cleanup is registered on t
type providerFactory func(t *testing.T) Provider

// runProviderContract exercises the behaviour both providers must share
func runProviderContract(t *testing.T, newProvider providerFactory) {
	t.Run("PriorityOrdering", func(t *testing.T) {
		p := newProvider(t)
		ctx := context.Background()

		for _, prio := range []int{1, 10, 5} {
			msg := newTestMessage(t, "p", WithPriority(prio))
			require.NoError(t, p.Enqueue(ctx, "prio", msg))
		}

		var got []int
		for i := 0; i < 3; i++ {
			msg, err := p.Dequeue(ctx, "prio")
			require.NoError(t, err)
			require.NotNil(t, msg)
			got = append(got, msg.Priority)
		}
		assert.Equal(t, []int{10, 5, 1}, got)
	})

	t.Run("DelayHonored", func(t *testing.T) {
		p := newProvider(t)
		ctx := context.Background()

		msg := newTestMessage(t, "delayed", WithDelay(150*time.Millisecond))
		require.NoError(t, p.Enqueue(ctx, "delay", msg))

		got, err := p.Dequeue(ctx, "delay")
		require.NoError(t, err)
		assert.Nil(t, got, "delayed message must not be dequeued early")

		size, err := p.GetQueueSize(ctx, "delay")
		require.NoError(t, err)
		assert.Equal(t, int64(1), size, "delayed messages count toward size")

		time.Sleep(200 * time.Millisecond)

		got, err = p.Dequeue(ctx, "delay")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, msg.ID, got.ID)
	})

	t.Run("DelayHonoredForSubscribers", func(t *testing.T) {
		p := newProvider(t)
		ctx := context.Background()

		delivered := make(chan time.Time, 1)
		require.NoError(t, p.Subscribe(ctx, "delay-sub", func(ctx context.Context, msg *QueueMessage) error {
			delivered <- time.Now()
			return nil
		}))

		start := time.Now()
		require.NoError(t, p.Enqueue(ctx, "delay-sub", newTestMessage(t, "d", WithDelay(100*time.Millisecond))))

		select {
		case at := <-delivered:
			assert.GreaterOrEqual(t, at.Sub(start), 95*time.Millisecond)
		case <-time.After(2 * time.Second):
			t.Fatal("Timeout waiting for delayed delivery")
		}
	})

	t.Run("OversizedDelayStaysDeferred", func(t *testing.T) {
		p := newProvider(t)
		ctx := context.Background()

		msg := newTestMessage(t, "far")
		msg.DelayMs = 1e16
		require.NoError(t, p.Enqueue(ctx, "far", msg))

		got, err := p.Dequeue(ctx, "far")
		require.NoError(t, err)
		assert.Nil(t, got, "a delay too large for a Duration must not wrap into the past")

		size, err := p.GetQueueSize(ctx, "far")
		require.NoError(t, err)
		assert.Equal(t, int64(1), size)
	})

	t.Run("RetryThenSuccess", func(t *testing.T) {
		p := newProvider(t)
		ctx := context.Background()

		var calls atomic.Int32
		var deadLetters atomic.Int32
		p.OnDeadLetter(DeadLetterFunc(func(e DeadLetterEvent) { deadLetters.Add(1) }))

		require.NoError(t, p.Subscribe(ctx, "retry", func(ctx context.Context, msg *QueueMessage) error {
			if calls.Add(1) <= 2 {
				return errors.New("transient failure")
			}
			return nil
		}))
		require.NoError(t, p.Enqueue(ctx, "retry", newTestMessage(t, "r", WithMaxRetries(3))))

		require.Eventually(t, func() bool {
			stats, err := p.GetStats(ctx, "retry")
			return err == nil && stats.Completed == 1
		}, 3*time.Second, 10*time.Millisecond)

		time.Sleep(100 * time.Millisecond)
		assert.Equal(t, int32(3), calls.Load())
		assert.Equal(t, int32(0), deadLetters.Load())

		stats, err := p.GetStats(ctx, "retry")
		require.NoError(t, err)
		assert.Equal(t, int64(2), stats.Retried)
		assert.Equal(t, int64(0), stats.Failed)
		assert.Equal(t, int64(0), stats.Processing)
		assert.Equal(t, int64(0), stats.Pending)
	})

	t.Run("RetryExhaustion", func(t *testing.T) {
		p := newProvider(t)
		ctx := context.Background()

		var calls atomic.Int32
		events := make(chan DeadLetterEvent, 4)
		p.OnDeadLetter(DeadLetterFunc(func(e DeadLetterEvent) { events <- e }))

		require.NoError(t, p.Subscribe(ctx, "exhaust", func(ctx context.Context, msg *QueueMessage) error {
			calls.Add(1)
			return errors.New("permanent failure")
		}))

		msg := newTestMessage(t, "x", WithMaxRetries(2))
		require.NoError(t, p.Enqueue(ctx, "exhaust", msg))

		var event DeadLetterEvent
		select {
		case event = <-events:
		case <-time.After(3 * time.Second):
			t.Fatal("Timeout waiting for dead-letter event")
		}

		assert.Equal(t, "exhaust", event.QueueName)
		assert.Equal(t, msg.ID, event.Message.ID)
		assert.Equal(t, 2, event.Message.RetryCount)
		assert.EqualError(t, event.Err, "permanent failure")

		time.Sleep(150 * time.Millisecond)
		assert.Equal(t, int32(3), calls.Load())
		assert.Len(t, events, 0, "dead-letter must be emitted exactly once")

		stats, err := p.GetStats(ctx, "exhaust")
		require.NoError(t, err)
		assert.Equal(t, int64(1), stats.Failed)
		assert.Equal(t, int64(2), stats.Retried)
		assert.Equal(t, int64(0), stats.Pending)
		assert.Equal(t, int64(0), stats.Processing)
	})

	t.Run("HandlerPanicCountsAsFailure", func(t *testing.T) {
		p := newProvider(t)
		ctx := context.Background()

		events := make(chan DeadLetterEvent, 1)
		p.OnDeadLetter(DeadLetterFunc(func(e DeadLetterEvent) { events <- e }))

		require.NoError(t, p.Subscribe(ctx, "panics", func(ctx context.Context, msg *QueueMessage) error {
			panic("handler bug")
		}))
		require.NoError(t, p.Enqueue(ctx, "panics", newTestMessage(t, "x", WithMaxRetries(0))))

		select {
		case e := <-events:
			assert.ErrorIs(t, e.Err, ErrHandlerPanic)
		case <-time.After(2 * time.Second):
			t.Fatal("Timeout waiting for dead-letter event")
		}
	})

	t.Run("PeekIsNonDestructive", func(t *testing.T) {
		p := newProvider(t)
		ctx := context.Background()

		msg := newTestMessage(t, "peek")
		require.NoError(t, p.Enqueue(ctx, "peek", msg))

		first, err := p.Peek(ctx, "peek")
		require.NoError(t, err)
		second, err := p.Peek(ctx, "peek")
		require.NoError(t, err)
		require.NotNil(t, first)
		require.NotNil(t, second)
		assert.Equal(t, msg.ID, first.ID)
		assert.Equal(t, msg.ID, second.ID)

		size, err := p.GetQueueSize(ctx, "peek")
		require.NoError(t, err)
		assert.Equal(t, int64(1), size)

		got, err := p.Dequeue(ctx, "peek")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, msg.ID, got.ID)
	})

	t.Run("EmptyQueue", func(t *testing.T) {
		p := newProvider(t)
		ctx := context.Background()

		msg, err := p.Dequeue(ctx, "never-used")
		assert.NoError(t, err)
		assert.Nil(t, msg)

		msg, err = p.Peek(ctx, "never-used")
		assert.NoError(t, err)
		assert.Nil(t, msg)

		size, err := p.GetQueueSize(ctx, "never-used")
		assert.NoError(t, err)
		assert.Zero(t, size)

		stats, err := p.GetStats(ctx, "never-used")
		assert.NoError(t, err)
		assert.Zero(t, stats.Total)
	})

	t.Run("PurgeKeepsSubscribers", func(t *testing.T) {
		p := newProvider(t)
		ctx := context.Background()

		received := make(chan string, 10)
		require.NoError(t, p.Subscribe(ctx, "purge", func(ctx context.Context, msg *QueueMessage) error {
			received <- msg.ID
			return nil
		}))

		for i := 0; i < 3; i++ {
			require.NoError(t, p.Enqueue(ctx, "purge", newTestMessage(t, "later", WithDelay(time.Hour))))
		}
		require.NoError(t, p.PurgeQueue(ctx, "purge"))

		size, err := p.GetQueueSize(ctx, "purge")
		require.NoError(t, err)
		assert.Zero(t, size)

		stats, err := p.GetStats(ctx, "purge")
		require.NoError(t, err)
		assert.Equal(t, int64(3), stats.Total, "purge keeps counters")

		msg := newTestMessage(t, "after-purge")
		require.NoError(t, p.Enqueue(ctx, "purge", msg))

		select {
		case id := <-received:
			assert.Equal(t, msg.ID, id)
		case <-time.After(2 * time.Second):
			t.Fatal("Subscriber did not survive purge")
		}
	})

	t.Run("DeleteDropsEverything", func(t *testing.T) {
		p := newProvider(t)
		ctx := context.Background()

		var calls atomic.Int32
		require.NoError(t, p.Subscribe(ctx, "doomed", func(ctx context.Context, msg *QueueMessage) error {
			calls.Add(1)
			return nil
		}))
		require.NoError(t, p.Enqueue(ctx, "doomed", newTestMessage(t, "later", WithDelay(time.Hour))))
		require.NoError(t, p.DeleteQueue(ctx, "doomed"))

		stats, err := p.GetStats(ctx, "doomed")
		require.NoError(t, err)
		assert.Zero(t, stats.Total)
		assert.Zero(t, stats.Pending)

		require.NoError(t, p.Enqueue(ctx, "doomed", newTestMessage(t, "orphan")))
		time.Sleep(100 * time.Millisecond)
		assert.Equal(t, int32(0), calls.Load(), "subscribers must be dropped by delete")

		size, err := p.GetQueueSize(ctx, "doomed")
		require.NoError(t, err)
		assert.Equal(t, int64(1), size)
	})

	t.Run("DeleteDuringDelivery", func(t *testing.T) {
		tests := []struct {
			name       string
			maxRetries int
			err        error
		}{
			{"HandlerSucceeds", 3, nil},
			{"HandlerFailsWithRetriesLeft", 3, errors.New("handler failed")},
			{"HandlerFailsOnLastAttempt", 0, errors.New("handler failed")},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				p := newProvider(t)
				ctx := context.Background()
				const queue = "inflight-delete"

				var deadLetters atomic.Int32
				p.OnDeadLetter(DeadLetterFunc(func(e DeadLetterEvent) { deadLetters.Add(1) }))

				started := make(chan struct{})
				release := make(chan struct{})
				var startOnce, releaseOnce sync.Once
				unblock := func() { releaseOnce.Do(func() { close(release) }) }
				defer unblock()

				require.NoError(t, p.Subscribe(ctx, queue, func(ctx context.Context, msg *QueueMessage) error {
					startOnce.Do(func() { close(started) })
					<-release
					return tt.err
				}))
				require.NoError(t, p.Enqueue(ctx, queue, newTestMessage(t, "doomed", WithMaxRetries(tt.maxRetries))))

				select {
				case <-started:
				case <-time.After(2 * time.Second):
					t.Fatal("Timeout waiting for delivery to start")
				}

				require.NoError(t, p.DeleteQueue(ctx, queue))
				fresh := newTestMessage(t, "fresh")
				require.NoError(t, p.Enqueue(ctx, queue, fresh))

				unblock()
				// longer than the first retry delay, so a resurrected message would be back
				time.Sleep(150 * time.Millisecond)

				stats, err := p.GetStats(ctx, queue)
				require.NoError(t, err)
				assert.GreaterOrEqual(t, stats.Processing, int64(0))
				assert.Zero(t, stats.Processing)
				assert.Zero(t, stats.Completed)
				assert.Zero(t, stats.Retried)
				assert.Zero(t, stats.Failed)
				assert.Equal(t, int64(1), stats.Total)

				size, err := p.GetQueueSize(ctx, queue)
				require.NoError(t, err)
				assert.Equal(t, int64(1), size, "only the message enqueued after delete remains")

				got, err := p.Dequeue(ctx, queue)
				require.NoError(t, err)
				require.NotNil(t, got)
				assert.Equal(t, fresh.ID, got.ID)

				got, err = p.Dequeue(ctx, queue)
				require.NoError(t, err)
				assert.Nil(t, got)

				total, err := p.GetStats(ctx, "")
				require.NoError(t, err)
				assert.Zero(t, total.Completed)
				assert.Zero(t, total.Retried)
				assert.Zero(t, total.Failed)
				assert.Zero(t, total.Processing)

				assert.Zero(t, deadLetters.Load(), "deleted messages are not dead-lettered")
			})
		}
	})

	t.Run("FanOut", func(t *testing.T) {
		p := newProvider(t)
		ctx := context.Background()

		var a, b atomic.Int32
		var wg sync.WaitGroup
		wg.Add(2)
		require.NoError(t, p.Subscribe(ctx, "fanout", func(ctx context.Context, msg *QueueMessage) error {
			a.Add(1)
			wg.Done()
			return nil
		}))
		require.NoError(t, p.Subscribe(ctx, "fanout", func(ctx context.Context, msg *QueueMessage) error {
			b.Add(1)
			wg.Done()
			return nil
		}))

		require.NoError(t, p.Enqueue(ctx, "fanout", newTestMessage(t, "broadcast")))
		waitTimeout(t, &wg, 2*time.Second)

		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, int32(1), a.Load())
		assert.Equal(t, int32(1), b.Load())

		stats, err := p.GetStats(ctx, "fanout")
		require.NoError(t, err)
		assert.Equal(t, int64(1), stats.Completed)
	})

	t.Run("UnsubscribeHaltsDelivery", func(t *testing.T) {
		p := newProvider(t)
		ctx := context.Background()

		var calls atomic.Int32
		require.NoError(t, p.Subscribe(ctx, "unsub", func(ctx context.Context, msg *QueueMessage) error {
			calls.Add(1)
			return nil
		}))
		require.NoError(t, p.Unsubscribe(ctx, "unsub"))

		require.NoError(t, p.Enqueue(ctx, "unsub", newTestMessage(t, "ignored")))
		time.Sleep(100 * time.Millisecond)

		assert.Equal(t, int32(0), calls.Load())
		size, err := p.GetQueueSize(ctx, "unsub")
		require.NoError(t, err)
		assert.Equal(t, int64(1), size)
	})

	t.Run("SubscribeDrainsBacklog", func(t *testing.T) {
		p := newProvider(t)
		ctx := context.Background()

		for i := 0; i < 5; i++ {
			require.NoError(t, p.Enqueue(ctx, "backlog", newTestMessage(t, "old")))
		}

		var calls atomic.Int32
		require.NoError(t, p.Subscribe(ctx, "backlog", func(ctx context.Context, msg *QueueMessage) error {
			calls.Add(1)
			return nil
		}))

		require.Eventually(t, func() bool { return calls.Load() == 5 }, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("EnqueueOptionsOverrideMessage", func(t *testing.T) {
		p := newProvider(t)
		ctx := context.Background()

		low := newTestMessage(t, "low", WithPriority(1))
		high := newTestMessage(t, "high", WithPriority(1))
		require.NoError(t, p.Enqueue(ctx, "override", low))
		require.NoError(t, p.Enqueue(ctx, "override", high, WithPriority(50)))

		got, err := p.Dequeue(ctx, "override")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, high.ID, got.ID)
		assert.Equal(t, 50, got.Priority)
		assert.Equal(t, 1, high.Priority, "caller's message is not modified")
	})

	t.Run("AggregateStats", func(t *testing.T) {
		p := newProvider(t)
		ctx := context.Background()

		require.NoError(t, p.Enqueue(ctx, "agg-a", newTestMessage(t, "a")))
		require.NoError(t, p.Enqueue(ctx, "agg-a", newTestMessage(t, "a")))
		require.NoError(t, p.Enqueue(ctx, "agg-b", newTestMessage(t, "b")))

		stats, err := p.GetStats(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, int64(3), stats.Total)
		assert.Equal(t, int64(3), stats.Pending)
		assert.Empty(t, stats.QueueName)
	})

	t.Run("InvalidArguments", func(t *testing.T) {
		p := newProvider(t)
		ctx := context.Background()

		assert.ErrorIs(t, p.Enqueue(ctx, "", newTestMessage(t, "x")), ErrInvalidQueueName)
		assert.ErrorIs(t, p.Enqueue(ctx, "q", nil), ErrNilMessage)
		assert.ErrorIs(t, p.Subscribe(ctx, "q", nil), ErrNilHandler)
		_, err := p.Dequeue(ctx, "")
		assert.ErrorIs(t, err, ErrInvalidQueueName)
	})

	t.Run("RequiresConnect", func(t *testing.T) {
		p := newProvider(t)
		ctx := context.Background()

		require.NoError(t, p.Disconnect(ctx))
		assert.False(t, p.IsHealthy(ctx))

		assert.ErrorIs(t, p.Enqueue(ctx, "q", newTestMessage(t, "x")), ErrNotConnected)
		assert.ErrorIs(t, p.Subscribe(ctx, "q", func(ctx context.Context, msg *QueueMessage) error { return nil }), ErrNotConnected)

		require.NoError(t, p.Connect(ctx))
		assert.True(t, p.IsHealthy(ctx))
		assert.NoError(t, p.Enqueue(ctx, "q", newTestMessage(t, "x")))
	})
}

func newTestMessage(t *testing.T, msgType string, opts ...MessageOption) *QueueMessage {
	t.Helper()
	msg, err := NewMessage(msgType, map[string]string{"type": msgType}, opts...)
	require.NoError(t, err)
	return msg
}

func waitTimeout(t *testing.T, wg *sync.WaitGroup, timeout time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("Timeout waiting for handlers")
	}
}
