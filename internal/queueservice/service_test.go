package queueservice

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arnabghosh/chat-queue/internal/config"
	"github.com/arnabghosh/chat-queue/internal/mq"
)

func testQueueConfig() config.QueueConfig {
	cfg := config.Default().Queue
	cfg.RetryBaseDelay = 10 * time.Millisecond
	cfg.RetryMaxDelay = 20 * time.Millisecond
	return cfg
}

func newConnectedService(t *testing.T, cfg config.QueueConfig, opts ...Option) *Service {
	t.Helper()

	svc, err := New(cfg, opts...)
	require.NoError(t, err)
	require.NoError(t, svc.Connect(context.Background()))
	t.Cleanup(func() {
		_ = svc.Disconnect(context.Background())
	})
	return svc
}

func TestNew_SelectsProvider(t *testing.T) {
	cfg := testQueueConfig()

	svc, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, "memory", svc.Name())
	assert.IsType(t, &mq.InMemoryProvider{}, svc.Provider())

	mr := miniredis.RunT(t)
	cfg.Provider = config.ProviderRedis
	cfg.RedisURL = "redis://" + mr.Addr()
	svc, err = New(cfg)
	require.NoError(t, err)
	assert.Equal(t, "redis", svc.Name())
}

func TestNew_UnknownProvider(t *testing.T) {
	cfg := testQueueConfig()
	cfg.Provider = "kafka"

	_, err := New(cfg)
	require.Error(t, err)

	var unknown *mq.UnknownProviderError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "kafka", unknown.Kind)
}

func TestNew_RedisWithoutURL(t *testing.T) {
	cfg := testQueueConfig()
	cfg.Provider = config.ProviderRedis

	_, err := New(cfg)
	assert.Error(t, err)
}

func TestService_CreateMessageDefaults(t *testing.T) {
	cfg := testQueueConfig()
	cfg.DefaultPriority = 7
	cfg.DefaultMaxRetries = 1

	svc, err := New(cfg)
	require.NoError(t, err)

	msg, err := svc.CreateMessage("chat.message", map[string]string{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, 7, msg.Priority)
	assert.Equal(t, 1, msg.MaxRetries)

	msg, err = svc.CreateMessage("chat.message", nil, mq.WithPriority(2), mq.WithUserID("u-1"))
	require.NoError(t, err)
	assert.Equal(t, 2, msg.Priority, "caller options win over defaults")
	assert.Equal(t, "u-1", msg.UserID)
}

func TestService_WithDefaultsOption(t *testing.T) {
	svc := NewWithProvider(mq.NewInMemoryProvider(), WithDefaults(1, 0))

	msg, err := svc.CreateMessage("t", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, msg.Priority)
	assert.Equal(t, 0, msg.MaxRetries)
}

func TestService_ForwardsOperations(t *testing.T) {
	svc := newConnectedService(t, testQueueConfig())
	ctx := context.Background()

	msg, err := svc.Publish(ctx, QueueChatMessages, "chat.message", map[string]string{"text": "hello"})
	require.NoError(t, err)

	size, err := svc.GetQueueSize(ctx, QueueChatMessages)
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)

	peeked, err := svc.Peek(ctx, QueueChatMessages)
	require.NoError(t, err)
	require.NotNil(t, peeked)
	assert.Equal(t, msg.ID, peeked.ID)

	got, err := svc.Dequeue(ctx, QueueChatMessages)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, msg.ID, got.ID)

	stats, err := svc.GetStats(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Total)

	require.NoError(t, svc.PurgeQueue(ctx, QueueChatMessages))
	require.NoError(t, svc.DeleteQueue(ctx, QueueChatMessages))
	assert.True(t, svc.IsHealthy(ctx))
}

func TestService_SubscribeAndDeadLetter(t *testing.T) {
	svc := newConnectedService(t, testQueueConfig())
	ctx := context.Background()

	events := make(chan mq.DeadLetterEvent, 2)
	remove := svc.OnDeadLetter(mq.DeadLetterFunc(func(e mq.DeadLetterEvent) { events <- e }))
	defer remove()

	var calls atomic.Int32
	require.NoError(t, svc.Subscribe(ctx, QueueAgentResponses, func(ctx context.Context, msg *mq.QueueMessage) error {
		calls.Add(1)
		return errors.New("agent unavailable")
	}))

	msg, err := svc.Publish(ctx, QueueAgentResponses, "agent.response", "x", mq.WithMaxRetries(1))
	require.NoError(t, err)

	select {
	case e := <-events:
		assert.Equal(t, msg.ID, e.Message.ID)
		assert.Equal(t, QueueAgentResponses, e.QueueName)
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for dead-letter event")
	}
	assert.Equal(t, int32(2), calls.Load())

	require.NoError(t, svc.Unsubscribe(ctx, QueueAgentResponses))
}

func TestService_ReplaceKeepsObservers(t *testing.T) {
	svc := newConnectedService(t, testQueueConfig())
	ctx := context.Background()

	var deadLetters atomic.Int32
	svc.OnDeadLetter(mq.DeadLetterFunc(func(e mq.DeadLetterEvent) { deadLetters.Add(1) }))
	svc.OnDeadLetter(mq.DeadLetterFunc(func(e mq.DeadLetterEvent) { panic("observer bug") }))

	old := svc.Provider()
	next := mq.NewInMemoryProvider(mq.WithRetryBackoff(10*time.Millisecond, 20*time.Millisecond))
	require.NoError(t, svc.Replace(ctx, next))

	assert.False(t, old.IsHealthy(ctx))
	assert.Same(t, next, svc.Provider())

	require.NoError(t, svc.Subscribe(ctx, QueueStatusUpdates, func(ctx context.Context, msg *mq.QueueMessage) error {
		return errors.New("fail")
	}))
	_, err := svc.Publish(ctx, QueueStatusUpdates, "status", nil, mq.WithMaxRetries(0))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return deadLetters.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestService_ReplaceDeliversInFlightDeadLetters(t *testing.T) {
	svc := newConnectedService(t, testQueueConfig())
	ctx := context.Background()

	events := make(chan mq.DeadLetterEvent, 1)
	svc.OnDeadLetter(mq.DeadLetterFunc(func(e mq.DeadLetterEvent) { events <- e }))

	started := make(chan struct{})
	var once sync.Once
	require.NoError(t, svc.Subscribe(ctx, QueueStatusUpdates, func(ctx context.Context, msg *mq.QueueMessage) error {
		once.Do(func() { close(started) })
		time.Sleep(100 * time.Millisecond)
		return errors.New("status sink unavailable")
	}))

	msg, err := svc.Publish(ctx, QueueStatusUpdates, "status", nil, mq.WithMaxRetries(0))
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for delivery to start")
	}

	// Replace returns once the previous provider finished its deliveries
	require.NoError(t, svc.Replace(ctx, mq.NewInMemoryProvider()))

	select {
	case e := <-events:
		assert.Equal(t, msg.ID, e.Message.ID)
		assert.Equal(t, QueueStatusUpdates, e.QueueName)
	default:
		t.Fatal("Dead letter from the previous provider was not forwarded")
	}
}

func TestService_ReplaceFailsWhenNextCannotConnect(t *testing.T) {
	svc := newConnectedService(t, testQueueConfig())
	ctx := context.Background()

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	next, err := mq.NewRedisProvider(mq.RedisConfig{RedisURL: "redis://" + addr})
	require.NoError(t, err)

	err = svc.Replace(ctx, next)
	assert.ErrorIs(t, err, mq.ErrStoreUnavailable)
	assert.Equal(t, "memory", svc.Name())
	assert.True(t, svc.IsHealthy(ctx))
}

func TestCanonicalQueues(t *testing.T) {
	names := CanonicalQueues()
	assert.Len(t, names, 8)
	assert.Contains(t, names, "chat:messages")
	assert.Contains(t, names, "goal-seeking:updates")
	assert.True(t, IsCanonicalQueue(QueueStreamChunks))
	assert.False(t, IsCanonicalQueue("random"))
}
