package mq

import (
	"container/heap"
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// InMemoryProvider implements Provider inside a single process.
// Nothing survives a restart.
type InMemoryProvider struct {
	logger    *slog.Logger
	retryBase time.Duration
	retryMax  time.Duration

	queues      *queueRegistry[*memoryQueue]
	sched       *scheduler
	deadLetters *deadLetterBus

	// mu guards the connection lifecycle
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	connected atomic.Bool

	// wg tracks delivery workers
	wg sync.WaitGroup
}

// memoryQueue is the state of one named queue
type memoryQueue struct {
	name string

	mu      sync.Mutex
	ready   []*QueueMessage // priority descending, FIFO within a priority
	delayed delayedHeap
	seq     uint64

	subscribers []Handler
	worker      *worker

	// inflight counts claims per message id. A delivery outcome is applied
	// only while its claim is still held here.
	inflight map[string]int

	total          int64
	processing     int64
	completed      int64
	failed         int64
	retried        int64
	processingTime time.Duration
}

// NewInMemoryProvider creates an in-memory provider. Connect must be
// called before enqueueing or subscribing.
func NewInMemoryProvider(opts ...Option) *InMemoryProvider {
	o := applyOptions(opts)
	logger := o.logger.With("provider", "memory")

	return &InMemoryProvider{
		logger:    logger,
		retryBase: o.retryBase,
		retryMax:  o.retryMax,
		queues: newQueueRegistry(func(name string) *memoryQueue {
			return &memoryQueue{name: name}
		}),
		sched:       newScheduler(logger),
		deadLetters: newDeadLetterBus(logger),
	}
}

// Name returns "memory"
func (p *InMemoryProvider) Name() string {
	return "memory"
}

// Connect starts the delay scheduler
func (p *InMemoryProvider) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.connected.Load() {
		return nil
	}

	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.sched.start()
	p.connected.Store(true)

	// delayed messages that survived a disconnect need new wake-ups
	for _, q := range p.queues.values() {
		q.mu.Lock()
		next, ok := q.nextDue()
		q.mu.Unlock()
		if ok {
			p.scheduleWake(q.name, next)
		}
	}

	p.logger.Info("Message queue connected")
	return nil
}

// Disconnect stops the scheduler and all workers and clears subscriptions.
// Pending messages are kept.
func (p *InMemoryProvider) Disconnect(ctx context.Context) error {
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
		q.mu.Unlock()
	}
	p.mu.Unlock()

	p.sched.stop()
	p.wg.Wait()

	total, _ := p.GetStats(ctx, "")
	p.logger.Info("Message queue disconnected",
		"total", total.Total,
		"completed", total.Completed,
		"failed", total.Failed,
	)
	return nil
}

// IsHealthy reports whether the provider is connected
func (p *InMemoryProvider) IsHealthy(ctx context.Context) bool {
	return p.connected.Load()
}

// OnDeadLetter registers a dead-letter observer
func (p *InMemoryProvider) OnDeadLetter(observer DeadLetterObserver) func() {
	return p.deadLetters.register(observer)
}

// Enqueue stores a copy of msg
func (p *InMemoryProvider) Enqueue(ctx context.Context, queueName string, msg *QueueMessage, opts ...MessageOption) error {
	if err := validateQueueName(queueName); err != nil {
		return err
	}
	if msg == nil {
		return ErrNilMessage
	}
	if !p.connected.Load() {
		return ErrNotConnected
	}

	stored := msg.Clone()
	stored.Apply(opts...)

	q := p.queues.getOrCreate(queueName)
	now := time.Now()

	q.mu.Lock()
	q.total++
	due := stored.ExecuteAt()
	delayed := stored.DelayMs > 0 && due.After(now)
	if delayed {
		q.pushDelayed(stored, due)
	} else {
		q.insertReady(stored)
	}
	w := q.worker
	q.mu.Unlock()

	if delayed {
		p.scheduleWake(queueName, due)
	} else if w != nil {
		w.notify()
	}

	p.logger.Debug("Message enqueued",
		"queue", queueName,
		"message_id", stored.ID,
		"priority", stored.Priority,
		"delay_ms", stored.DelayMs,
	)
	return nil
}

// Dequeue removes and returns the highest-priority ready message
func (p *InMemoryProvider) Dequeue(ctx context.Context, queueName string) (*QueueMessage, error) {
	if err := validateQueueName(queueName); err != nil {
		return nil, err
	}
	q, ok := p.queues.get(queueName)
	if !ok {
		return nil, nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.promote(time.Now())
	return q.popReady(), nil
}

// Peek returns a copy of the message Dequeue would return
func (p *InMemoryProvider) Peek(ctx context.Context, queueName string) (*QueueMessage, error) {
	if err := validateQueueName(queueName); err != nil {
		return nil, err
	}
	q, ok := p.queues.get(queueName)
	if !ok {
		return nil, nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.promote(time.Now())
	if len(q.ready) == 0 {
		return nil, nil
	}
	return q.ready[0].Clone(), nil
}

// Subscribe adds a handler and starts the queue's worker if needed
func (p *InMemoryProvider) Subscribe(ctx context.Context, queueName string, handler Handler) error {
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
	q.subscribers = append(q.subscribers, handler)
	count := len(q.subscribers)
	w := q.worker
	if w == nil {
		q.worker = startWorker(queueName, p.workerConfig(), &p.wg)
	}
	q.mu.Unlock()

	if w != nil {
		w.notify()
	}

	p.logger.Info("Handler subscribed to queue",
		"queue", queueName,
		"total_handlers", count,
	)
	return nil
}

// Unsubscribe removes every handler of the queue. An in-flight delivery
// runs to completion.
func (p *InMemoryProvider) Unsubscribe(ctx context.Context, queueName string) error {
	if err := validateQueueName(queueName); err != nil {
		return err
	}
	q, ok := p.queues.get(queueName)
	if !ok {
		return nil
	}

	q.mu.Lock()
	q.subscribers = nil
	w := q.worker
	q.worker = nil
	q.mu.Unlock()

	if w != nil {
		w.stop()
	}

	p.logger.Info("Unsubscribed from queue", "queue", queueName)
	return nil
}

// GetQueueSize counts ready and delayed messages
func (p *InMemoryProvider) GetQueueSize(ctx context.Context, queueName string) (int64, error) {
	if err := validateQueueName(queueName); err != nil {
		return 0, err
	}
	q, ok := p.queues.get(queueName)
	if !ok {
		return 0, nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending(), nil
}

// PurgeQueue drops pending messages and keeps subscribers and counters
func (p *InMemoryProvider) PurgeQueue(ctx context.Context, queueName string) error {
	if err := validateQueueName(queueName); err != nil {
		return err
	}
	q, ok := p.queues.get(queueName)
	if !ok {
		return nil
	}

	q.mu.Lock()
	dropped := q.pending()
	q.ready = nil
	q.delayed = nil
	q.mu.Unlock()

	p.logger.Info("Queue purged", "queue", queueName, "dropped", dropped)
	return nil
}

// DeleteQueue forgets the queue entirely
func (p *InMemoryProvider) DeleteQueue(ctx context.Context, queueName string) error {
	if err := validateQueueName(queueName); err != nil {
		return err
	}
	q, ok := p.queues.remove(queueName)
	if !ok {
		return nil
	}

	q.mu.Lock()
	w := q.worker
	q.worker = nil
	q.subscribers = nil
	q.ready = nil
	q.delayed = nil
	q.inflight = nil
	q.processing = 0
	q.mu.Unlock()

	if w != nil {
		w.stop()
	}

	p.logger.Info("Queue deleted", "queue", queueName)
	return nil
}

// GetStats returns counters for one queue or, with an empty name, for all
func (p *InMemoryProvider) GetStats(ctx context.Context, queueName string) (QueueStats, error) {
	if queueName != "" {
		q, ok := p.queues.get(queueName)
		if !ok {
			return QueueStats{QueueName: queueName}, nil
		}
		return q.stats(), nil
	}

	var total QueueStats
	for _, q := range p.queues.values() {
		total.Add(q.stats())
	}
	return total, nil
}

func (p *InMemoryProvider) workerConfig() workerConfig {
	return workerConfig{
		backend:    p,
		deadLtrs:   p.deadLetters,
		logger:     p.logger,
		retryBase:  p.retryBase,
		retryMax:   p.retryMax,
		handlerCtx: p.ctx,
	}
}

func (p *InMemoryProvider) scheduleWake(queueName string, at time.Time) {
	p.sched.schedule(at, queueName, func() {
		p.onDue(queueName)
	})
}

// onDue promotes due messages, wakes the worker and re-arms the timer for
// the next delayed message
func (p *InMemoryProvider) onDue(queueName string) {
	q, ok := p.queues.get(queueName)
	if !ok {
		return
	}

	q.mu.Lock()
	moved := q.promote(time.Now())
	next, hasNext := q.nextDue()
	w := q.worker
	q.mu.Unlock()

	if hasNext {
		p.scheduleWake(queueName, next)
	}
	if moved > 0 && w != nil {
		w.notify()
	}
}

// deliveryBackend

func (p *InMemoryProvider) claim(ctx context.Context, queueName string) (*QueueMessage, error) {
	q, ok := p.queues.get(queueName)
	if !ok {
		return nil, nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.promote(time.Now())
	msg := q.popReady()
	if msg != nil {
		if q.inflight == nil {
			q.inflight = make(map[string]int)
		}
		q.inflight[msg.ID]++
		q.processing++
	}
	return msg, nil
}

// complete looks the queue up by name again, so a queue deleted and
// recreated during the delivery shows up here without the claim
func (p *InMemoryProvider) complete(ctx context.Context, queueName string, msg *QueueMessage, elapsed time.Duration) bool {
	q, ok := p.queues.get(queueName)
	if !ok {
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.release(msg.ID) {
		return false
	}
	q.completed++
	q.processingTime += elapsed
	return true
}

func (p *InMemoryProvider) retry(ctx context.Context, queueName string, msg *QueueMessage, delay time.Duration) bool {
	q, ok := p.queues.get(queueName)
	if !ok {
		return false
	}

	due := time.Now().Add(delay)

	q.mu.Lock()
	if !q.release(msg.ID) {
		q.mu.Unlock()
		return false
	}
	q.retried++
	q.pushDelayed(msg, due)
	q.mu.Unlock()

	p.scheduleWake(queueName, due)
	return true
}

func (p *InMemoryProvider) bury(ctx context.Context, queueName string, msg *QueueMessage) bool {
	q, ok := p.queues.get(queueName)
	if !ok {
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.release(msg.ID) {
		return false
	}
	q.failed++
	return true
}

func (p *InMemoryProvider) handlers(queueName string) []Handler {
	q, ok := p.queues.get(queueName)
	if !ok {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Handler(nil), q.subscribers...)
}

func (p *InMemoryProvider) drained(ctx context.Context, queueName string) {}

// memoryQueue helpers, called with q.mu held

// insertReady places msg after every ready message of equal or higher priority
func (q *memoryQueue) insertReady(msg *QueueMessage) {
	idx := sort.Search(len(q.ready), func(i int) bool {
		return q.ready[i].Priority < msg.Priority
	})
	q.ready = append(q.ready, nil)
	copy(q.ready[idx+1:], q.ready[idx:])
	q.ready[idx] = msg
}

func (q *memoryQueue) popReady() *QueueMessage {
	if len(q.ready) == 0 {
		return nil
	}
	msg := q.ready[0]
	q.ready[0] = nil
	q.ready = q.ready[1:]
	return msg
}

// release drops one claim of id and reports whether it was held
func (q *memoryQueue) release(id string) bool {
	n := q.inflight[id]
	if n == 0 {
		return false
	}
	if n == 1 {
		delete(q.inflight, id)
	} else {
		q.inflight[id] = n - 1
	}
	q.processing--
	return true
}

func (q *memoryQueue) pushDelayed(msg *QueueMessage, due time.Time) {
	q.seq++
	heap.Push(&q.delayed, &delayedEntry{msg: msg, due: due, seq: q.seq})
}

// promote moves every delayed message due at now into the ready list.
// Running it twice moves nothing the second time.
func (q *memoryQueue) promote(now time.Time) int {
	moved := 0
	for q.delayed.Len() > 0 && !q.delayed[0].due.After(now) {
		e := heap.Pop(&q.delayed).(*delayedEntry)
		q.insertReady(e.msg)
		moved++
	}
	return moved
}

func (q *memoryQueue) nextDue() (time.Time, bool) {
	if q.delayed.Len() == 0 {
		return time.Time{}, false
	}
	return q.delayed[0].due, true
}

func (q *memoryQueue) pending() int64 {
	return int64(len(q.ready) + q.delayed.Len())
}

func (q *memoryQueue) stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := QueueStats{
		QueueName:  q.name,
		Total:      q.total,
		Pending:    q.pending(),
		Processing: q.processing,
		Completed:  q.completed,
		Failed:     q.failed,
		Retried:    q.retried,
	}
	if q.completed > 0 {
		s.AvgProcessingTime = q.processingTime / time.Duration(q.completed)
	}
	return s
}

type delayedEntry struct {
	msg *QueueMessage
	due time.Time
	seq uint64
}

// delayedHeap is a min-heap by due time, then insertion order
type delayedHeap []*delayedEntry

func (h delayedHeap) Len() int { return len(h) }
func (h delayedHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].seq < h[j].seq
	}
	return h[i].due.Before(h[j].due)
}
func (h delayedHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *delayedHeap) Push(x any) {
	*h = append(*h, x.(*delayedEntry))
}

func (h *delayedHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}
