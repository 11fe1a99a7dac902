package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultKeyPrefix namespaces every key written by the Redis provider
	DefaultKeyPrefix = "mq"

	// DefaultVisibilityTimeout is the lifetime of a processing marker
	DefaultVisibilityTimeout = 5 * time.Minute

	// sweepBatch bounds the ids moved by one delayed sweep
	sweepBatch = 1000
)

// RedisConfig configures the Redis provider
type RedisConfig struct {
	RedisURL          string
	KeyPrefix         string
	VisibilityTimeout time.Duration
	PoolSize          int

	// ReaperInterval enables the processing reaper when positive
	ReaperInterval time.Duration
}

// RedisProvider implements Provider on Redis sorted sets. Any number of
// processes may share the same keys; dequeues are atomic across them.
type RedisProvider struct {
	config      RedisConfig
	redisOpts   *redis.Options
	logger      *slog.Logger
	retryBase   time.Duration
	retryMax    time.Duration
	queues      *queueRegistry[*redisQueue]
	sched       *scheduler
	deadLetters *deadLetterBus

	// mu guards the connection lifecycle
	mu        sync.RWMutex
	client    *redis.Client
	ctx       context.Context
	cancel    context.CancelFunc
	connected atomic.Bool

	// wg tracks workers, listeners, the sweeper and the reaper
	wg sync.WaitGroup

	sweepMu      sync.Mutex
	sweepPending map[string]struct{}
	sweepSignal  chan struct{}
}

// redisQueue holds the local subscription state of one queue. The queue
// contents live in Redis.
type redisQueue struct {
	name string
	keys redisKeys

	mu          sync.Mutex
	subscribers []Handler
	worker      *worker
	pubsub      *redis.PubSub
}

type redisKeys struct {
	ready      string
	delayed    string
	messages   string
	priorities string
	stats      string
	inflight   string
	marker     string
	notify     string
}

func (p *RedisProvider) keysFor(queueName string) redisKeys {
	base := p.config.KeyPrefix + ":" + queueName + ":"
	return redisKeys{
		ready:      base + "ready",
		delayed:    base + "delayed",
		messages:   base + "messages",
		priorities: base + "priorities",
		stats:      base + "stats",
		inflight:   base + "inflight",
		marker:     base + "processing:",
		notify:     base + "notify",
	}
}

// NewRedisProvider validates the configuration. No connection is made until
// Connect.
func NewRedisProvider(config RedisConfig, opts ...Option) (*RedisProvider, error) {
	if config.RedisURL == "" {
		return nil, fmt.Errorf("redis URL is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultKeyPrefix
	}
	if config.VisibilityTimeout <= 0 {
		config.VisibilityTimeout = DefaultVisibilityTimeout
	}
	// markers expire with whole-second TTLs; EX 0 is rejected by Redis
	if config.VisibilityTimeout < time.Second {
		config.VisibilityTimeout = time.Second
	}
	if config.PoolSize <= 0 {
		config.PoolSize = 10
	}

	redisOpts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	redisOpts.PoolSize = config.PoolSize

	o := applyOptions(opts)
	logger := o.logger.With("provider", "redis")

	p := &RedisProvider{
		config:       config,
		redisOpts:    redisOpts,
		logger:       logger,
		retryBase:    o.retryBase,
		retryMax:     o.retryMax,
		sched:        newScheduler(logger),
		deadLetters:  newDeadLetterBus(logger),
		sweepPending: make(map[string]struct{}),
		sweepSignal:  make(chan struct{}, 1),
	}
	p.queues = newQueueRegistry(func(name string) *redisQueue {
		return &redisQueue{name: name, keys: p.keysFor(name)}
	})
	return p, nil
}

// Name returns "redis"
func (p *RedisProvider) Name() string {
	return "redis"
}

// Connect opens the client, verifies it with PING and starts background
// loops
func (p *RedisProvider) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.connected.Load() {
		return nil
	}

	client := redis.NewClient(p.redisOpts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	p.client = client
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.sched.start()

	p.wg.Add(1)
	go p.sweepLoop(p.ctx)

	if p.config.ReaperInterval > 0 {
		reaper := newProcessingReaper(p, p.config.ReaperInterval)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			reaper.run(p.ctx)
		}()
	}

	p.connected.Store(true)
	p.logger.Info("Redis queue connected",
		"addr", p.redisOpts.Addr,
		"key_prefix", p.config.KeyPrefix,
		"visibility_timeout", p.config.VisibilityTimeout,
		"reaper_interval", p.config.ReaperInterval,
	)
	return nil
}

// Disconnect stops all workers and closes the client
func (p *RedisProvider) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	if !p.connected.Swap(false) {
		p.mu.Unlock()
		return nil
	}
	p.cancel()
	for _, q := range p.queues.values() {
		q.mu.Lock()
		q.subscribers = nil
		q.worker = nil
		if q.pubsub != nil {
			_ = q.pubsub.Close()
			q.pubsub = nil
		}
		q.mu.Unlock()
	}
	p.mu.Unlock()

	p.sched.stop()
	p.wg.Wait()

	p.mu.Lock()
	err := p.client.Close()
	p.mu.Unlock()

	p.logger.Info("Redis queue disconnected")
	if err != nil {
		return fmt.Errorf("failed to close Redis client: %w", err)
	}
	return nil
}

// IsHealthy pings Redis
func (p *RedisProvider) IsHealthy(ctx context.Context) bool {
	if !p.connected.Load() {
		return false
	}
	client := p.currentClient()
	if client == nil {
		return false
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return client.Ping(pingCtx).Err() == nil
}

// OnDeadLetter registers a dead-letter observer
func (p *RedisProvider) OnDeadLetter(observer DeadLetterObserver) func() {
	return p.deadLetters.register(observer)
}

func (p *RedisProvider) currentClient() *redis.Client {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.client
}

// connectedClient returns the client or ErrNotConnected
func (p *RedisProvider) connectedClient() (*redis.Client, error) {
	if !p.connected.Load() {
		return nil, ErrNotConnected
	}
	client := p.currentClient()
	if client == nil {
		return nil, ErrNotConnected
	}
	return client, nil
}

// Enqueue writes the message and its index entry in one transaction
func (p *RedisProvider) Enqueue(ctx context.Context, queueName string, msg *QueueMessage, opts ...MessageOption) error {
	if err := validateQueueName(queueName); err != nil {
		return err
	}
	if msg == nil {
		return ErrNilMessage
	}
	client, err := p.connectedClient()
	if err != nil {
		return err
	}

	stored := msg.Clone()
	stored.Apply(opts...)

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	keys := p.keysFor(queueName)
	due := stored.ExecuteAt()
	delayed := stored.DelayMs > 0 && due.After(time.Now())

	_, err = client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, keys.messages, stored.ID, data)
		pipe.HSet(ctx, keys.priorities, stored.ID, stored.Priority)
		if delayed {
			pipe.ZAdd(ctx, keys.delayed, redis.Z{Score: float64(due.UnixMilli()), Member: stored.ID})
		} else {
			pipe.ZAdd(ctx, keys.ready, redis.Z{Score: float64(stored.Priority), Member: stored.ID})
		}
		pipe.HIncrBy(ctx, keys.stats, "total", 1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: failed to enqueue message: %v", ErrStoreUnavailable, err)
	}

	if delayed {
		p.scheduleSweep(queueName, due)
	} else if err := client.Publish(ctx, keys.notify, stored.ID).Err(); err != nil {
		// the message is stored; subscribers will find it on their next drain
		p.logger.Warn("Failed to publish notification",
			"queue", queueName,
			"message_id", stored.ID,
			"error", err,
		)
	}

	p.logger.Debug("Message enqueued",
		"queue", queueName,
		"message_id", stored.ID,
		"priority", stored.Priority,
		"delay_ms", stored.DelayMs,
	)
	return nil
}

// Dequeue pops the highest-priority ready message. Store errors are logged
// and reported as an empty queue.
func (p *RedisProvider) Dequeue(ctx context.Context, queueName string) (*QueueMessage, error) {
	if err := validateQueueName(queueName); err != nil {
		return nil, err
	}
	for {
		msg, malformed, err := p.pop(ctx, queueName, false)
		if err != nil {
			p.logger.Error("Failed to dequeue message", "queue", queueName, "error", err)
			return nil, nil
		}
		if !malformed {
			return msg, nil
		}
	}
}

// Peek returns the message Dequeue would return without removing it
func (p *RedisProvider) Peek(ctx context.Context, queueName string) (*QueueMessage, error) {
	if err := validateQueueName(queueName); err != nil {
		return nil, err
	}
	client, err := p.connectedClient()
	if err != nil {
		return nil, nil
	}

	keys := p.keysFor(queueName)
	raw, err := peekScript.Run(ctx, client,
		[]string{keys.delayed, keys.ready, keys.priorities, keys.messages},
		time.Now().UnixMilli(), sweepBatch,
	).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		p.logger.Error("Failed to peek message", "queue", queueName, "error", err)
		return nil, nil
	}

	var msg QueueMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		p.logger.Error("Malformed message in store", "queue", queueName, "error", err)
		return nil, nil
	}
	return &msg, nil
}

// pop runs the dequeue script. A malformed body is logged, discarded and
// reported so the caller can try the next message.
func (p *RedisProvider) pop(ctx context.Context, queueName string, track bool) (*QueueMessage, bool, error) {
	client, err := p.connectedClient()
	if err != nil {
		return nil, false, err
	}

	keys := p.keysFor(queueName)
	now := time.Now()
	trackArg := "0"
	if track {
		trackArg = "1"
	}
	visibility := p.config.VisibilityTimeout

	res, err := dequeueScript.Run(ctx, client,
		[]string{keys.delayed, keys.ready, keys.priorities, keys.messages, keys.inflight, keys.stats},
		now.UnixMilli(), sweepBatch, trackArg, keys.marker,
		int64(visibility/time.Second), now.Add(visibility).UnixMilli(),
	).StringSlice()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if len(res) != 2 {
		return nil, false, fmt.Errorf("unexpected dequeue reply of length %d", len(res))
	}
	id, raw := res[0], res[1]

	var msg QueueMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		p.logger.Error("Malformed message in store, discarding",
			"queue", queueName,
			"message_id", id,
			"error", err,
		)
		if track {
			p.finish(ctx, queueName, &QueueMessage{ID: id}, "failed", 0)
		}
		return nil, true, nil
	}
	return &msg, false, nil
}

// Subscribe adds a handler. The first handler of a queue opens a Redis
// subscription to the queue's notification channel and starts a worker.
func (p *RedisProvider) Subscribe(ctx context.Context, queueName string, handler Handler) error {
	if err := validateQueueName(queueName); err != nil {
		return err
	}
	if handler == nil {
		return ErrNilHandler
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.connected.Load() {
		return ErrNotConnected
	}

	q := p.queues.getOrCreate(queueName)

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.pubsub == nil {
		ps := p.client.Subscribe(ctx, q.keys.notify)
		if _, err := ps.Receive(ctx); err != nil {
			_ = ps.Close()
			return fmt.Errorf("%w: failed to subscribe to %s: %v", ErrStoreUnavailable, queueName, err)
		}
		q.pubsub = ps
	}

	q.subscribers = append(q.subscribers, handler)
	if q.worker == nil {
		q.worker = startWorker(queueName, p.workerConfig(), &p.wg)
		w, ps := q.worker, q.pubsub
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.listen(ps, w)
		}()
	} else {
		q.worker.notify()
	}

	p.logger.Info("Handler subscribed to queue",
		"queue", queueName,
		"total_handlers", len(q.subscribers),
	)
	return nil
}

// listen forwards notifications to the worker until the subscription closes
func (p *RedisProvider) listen(ps *redis.PubSub, w *worker) {
	ch := ps.Channel()
	for {
		select {
		case <-w.done:
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			w.notify()
		}
	}
}

// Unsubscribe drops local handlers and the notification subscription
func (p *RedisProvider) Unsubscribe(ctx context.Context, queueName string) error {
	if err := validateQueueName(queueName); err != nil {
		return err
	}
	q, ok := p.queues.get(queueName)
	if !ok {
		return nil
	}

	q.mu.Lock()
	w, ps := q.worker, q.pubsub
	q.worker, q.pubsub = nil, nil
	q.subscribers = nil
	q.mu.Unlock()

	if w != nil {
		w.stop()
	}
	if ps != nil {
		if err := ps.Close(); err != nil {
			p.logger.Warn("Failed to close subscription", "queue", queueName, "error", err)
		}
	}

	p.logger.Info("Unsubscribed from queue", "queue", queueName)
	return nil
}

// GetQueueSize counts ready and delayed ids. Store errors read as zero.
func (p *RedisProvider) GetQueueSize(ctx context.Context, queueName string) (int64, error) {
	if err := validateQueueName(queueName); err != nil {
		return 0, err
	}
	client, err := p.connectedClient()
	if err != nil {
		return 0, nil
	}

	size, err := p.pending(ctx, client, p.keysFor(queueName))
	if err != nil {
		p.logger.Error("Failed to get queue size", "queue", queueName, "error", err)
		return 0, nil
	}
	return size, nil
}

func (p *RedisProvider) pending(ctx context.Context, client *redis.Client, keys redisKeys) (int64, error) {
	var ready, delayed *redis.IntCmd
	_, err := client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		ready = pipe.ZCard(ctx, keys.ready)
		delayed = pipe.ZCard(ctx, keys.delayed)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return ready.Val() + delayed.Val(), nil
}

// PurgeQueue drops pending messages. Counters and subscribers are kept.
func (p *RedisProvider) PurgeQueue(ctx context.Context, queueName string) error {
	if err := validateQueueName(queueName); err != nil {
		return err
	}
	client, err := p.connectedClient()
	if err != nil {
		return err
	}

	keys := p.keysFor(queueName)
	dropped, err := purgeScript.Run(ctx, client,
		[]string{keys.ready, keys.delayed, keys.messages, keys.priorities},
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: failed to purge queue: %v", ErrStoreUnavailable, err)
	}

	p.logger.Info("Queue purged", "queue", queueName, "dropped", dropped)
	return nil
}

// DeleteQueue removes every key of the queue, including processing markers
func (p *RedisProvider) DeleteQueue(ctx context.Context, queueName string) error {
	if err := validateQueueName(queueName); err != nil {
		return err
	}
	if err := p.Unsubscribe(ctx, queueName); err != nil {
		return err
	}
	p.queues.remove(queueName)

	client, err := p.connectedClient()
	if err != nil {
		return err
	}

	keys := p.keysFor(queueName)
	toDelete := []string{keys.ready, keys.delayed, keys.messages, keys.priorities, keys.stats, keys.inflight}

	iter := client.Scan(ctx, 0, keys.marker+"*", 100).Iterator()
	for iter.Next(ctx) {
		toDelete = append(toDelete, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("%w: failed to scan processing markers: %v", ErrStoreUnavailable, err)
	}

	if err := client.Del(ctx, toDelete...).Err(); err != nil {
		return fmt.Errorf("%w: failed to delete queue: %v", ErrStoreUnavailable, err)
	}

	p.logger.Info("Queue deleted", "queue", queueName, "keys", len(toDelete))
	return nil
}

// GetStats reads the counters hash of one queue, or of every queue found
// under the key prefix when queueName is empty
func (p *RedisProvider) GetStats(ctx context.Context, queueName string) (QueueStats, error) {
	client, err := p.connectedClient()
	if err != nil {
		return QueueStats{QueueName: queueName}, err
	}

	if queueName != "" {
		return p.queueStats(ctx, client, queueName)
	}

	names, err := p.discoverQueues(ctx, client)
	if err != nil {
		return QueueStats{}, err
	}

	var total QueueStats
	for _, name := range names {
		s, err := p.queueStats(ctx, client, name)
		if err != nil {
			return QueueStats{}, err
		}
		total.Add(s)
	}
	return total, nil
}

// discoverQueues lists queue names that have a stats hash
func (p *RedisProvider) discoverQueues(ctx context.Context, client *redis.Client) ([]string, error) {
	prefix := p.config.KeyPrefix + ":"
	const suffix = ":stats"

	var names []string
	iter := client.Scan(ctx, 0, prefix+"*"+suffix, 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		name := strings.TrimSuffix(strings.TrimPrefix(key, prefix), suffix)
		if name != "" {
			names = append(names, name)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to scan queues: %v", ErrStoreUnavailable, err)
	}
	return names, nil
}

func (p *RedisProvider) queueStats(ctx context.Context, client *redis.Client, queueName string) (QueueStats, error) {
	keys := p.keysFor(queueName)
	stats := QueueStats{QueueName: queueName}

	fields, err := client.HGetAll(ctx, keys.stats).Result()
	if err != nil {
		return stats, fmt.Errorf("%w: failed to read stats: %v", ErrStoreUnavailable, err)
	}
	pending, err := p.pending(ctx, client, keys)
	if err != nil {
		return stats, fmt.Errorf("%w: failed to read queue size: %v", ErrStoreUnavailable, err)
	}

	stats.Total = parseCounter(fields["total"])
	stats.Pending = pending
	stats.Processing = parseCounter(fields["processing"])
	stats.Completed = parseCounter(fields["completed"])
	stats.Failed = parseCounter(fields["failed"])
	stats.Retried = parseCounter(fields["retried"])
	if stats.Completed > 0 {
		totalMs := parseCounter(fields["processing_ms"])
		stats.AvgProcessingTime = time.Duration(totalMs/stats.Completed) * time.Millisecond
	}
	return stats, nil
}

func parseCounter(v string) int64 {
	n, _ := strconv.ParseInt(v, 10, 64)
	return n
}

func (p *RedisProvider) workerConfig() workerConfig {
	return workerConfig{
		backend:    p,
		deadLtrs:   p.deadLetters,
		logger:     p.logger,
		retryBase:  p.retryBase,
		retryMax:   p.retryMax,
		handlerCtx: p.ctx,
	}
}

// scheduleSweep arranges a delayed sweep of queueName at time at
func (p *RedisProvider) scheduleSweep(queueName string, at time.Time) {
	p.sched.schedule(at, queueName, func() {
		p.sweepMu.Lock()
		p.sweepPending[queueName] = struct{}{}
		p.sweepMu.Unlock()

		select {
		case p.sweepSignal <- struct{}{}:
		default:
		}
	})
}

// sweepLoop runs requested sweeps off the scheduler goroutine
func (p *RedisProvider) sweepLoop(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.sweepSignal:
		}

		p.sweepMu.Lock()
		names := make([]string, 0, len(p.sweepPending))
		for name := range p.sweepPending {
			names = append(names, name)
		}
		p.sweepPending = make(map[string]struct{})
		p.sweepMu.Unlock()

		for _, name := range names {
			p.sweep(ctx, name)
		}
	}
}

// sweep promotes due messages, notifies subscribers on every instance and
// re-arms the local timer for the next delayed message
func (p *RedisProvider) sweep(ctx context.Context, queueName string) {
	client, err := p.connectedClient()
	if err != nil {
		return
	}

	keys := p.keysFor(queueName)
	moved, err := sweepScript.Run(ctx, client,
		[]string{keys.delayed, keys.ready, keys.priorities},
		time.Now().UnixMilli(), sweepBatch,
	).Int64()
	if err != nil {
		p.logger.Error("Failed to sweep delayed messages", "queue", queueName, "error", err)
		return
	}

	if moved > 0 {
		if err := client.Publish(ctx, keys.notify, "sweep").Err(); err != nil {
			p.logger.Warn("Failed to publish notification", "queue", queueName, "error", err)
		}
		p.logger.Debug("Promoted delayed messages", "queue", queueName, "moved", moved)
	}

	p.armNextSweep(ctx, client, queueName)
}

// armNextSweep schedules a sweep for the earliest delayed message, which may
// have been written by another instance
func (p *RedisProvider) armNextSweep(ctx context.Context, client *redis.Client, queueName string) {
	next, err := client.ZRangeWithScores(ctx, p.keysFor(queueName).delayed, 0, 0).Result()
	if err != nil || len(next) == 0 {
		return
	}
	p.scheduleSweep(queueName, time.UnixMilli(int64(next[0].Score)))
}

// deliveryBackend

func (p *RedisProvider) claim(ctx context.Context, queueName string) (*QueueMessage, error) {
	for {
		msg, malformed, err := p.pop(ctx, queueName, true)
		if err != nil || !malformed {
			return msg, err
		}
	}
}

func (p *RedisProvider) complete(ctx context.Context, queueName string, msg *QueueMessage, elapsed time.Duration) bool {
	return p.finish(ctx, queueName, msg, "completed", elapsed)
}

func (p *RedisProvider) bury(ctx context.Context, queueName string, msg *QueueMessage) bool {
	return p.finish(ctx, queueName, msg, "failed", 0)
}

// finish reports false only when Redis confirmed the id is no longer
// inflight. Store errors are logged and count as owned.
func (p *RedisProvider) finish(ctx context.Context, queueName string, msg *QueueMessage, counter string, elapsed time.Duration) bool {
	// the client stays open until every worker has returned
	client := p.currentClient()
	if client == nil {
		p.logger.Warn("Cannot acknowledge message, provider disconnected", "queue", queueName, "message_id", msg.ID)
		return true
	}

	keys := p.keysFor(queueName)
	owned, err := finishScript.Run(ctx, client,
		[]string{keys.inflight, keys.messages, keys.priorities, keys.stats, keys.marker + msg.ID},
		msg.ID, counter, elapsed.Milliseconds(),
	).Int64()
	if err != nil {
		p.logger.Error("Failed to acknowledge message",
			"queue", queueName,
			"message_id", msg.ID,
			"error", err,
		)
		return true
	}
	return owned == 1
}

func (p *RedisProvider) retry(ctx context.Context, queueName string, msg *QueueMessage, delay time.Duration) bool {
	client := p.currentClient()
	if client == nil {
		p.logger.Warn("Cannot schedule retry, provider disconnected", "queue", queueName, "message_id", msg.ID)
		return true
	}

	data, err := json.Marshal(msg)
	if err != nil {
		p.logger.Error("Failed to marshal message for retry", "message_id", msg.ID, "error", err)
		return true
	}

	keys := p.keysFor(queueName)
	due := time.Now().Add(delay)
	owned, err := retryScript.Run(ctx, client,
		[]string{keys.inflight, keys.messages, keys.priorities, keys.stats, keys.marker + msg.ID, keys.delayed},
		msg.ID, data, due.UnixMilli(), msg.Priority,
	).Int64()
	if err != nil {
		p.logger.Error("Failed to schedule retry",
			"queue", queueName,
			"message_id", msg.ID,
			"error", err,
		)
		return true
	}
	if owned == 0 {
		return false
	}

	p.scheduleSweep(queueName, due)
	return true
}

func (p *RedisProvider) handlers(queueName string) []Handler {
	q, ok := p.queues.get(queueName)
	if !ok {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Handler(nil), q.subscribers...)
}

func (p *RedisProvider) drained(ctx context.Context, queueName string) {
	client, err := p.connectedClient()
	if err != nil {
		return
	}
	p.armNextSweep(ctx, client, queueName)
}
