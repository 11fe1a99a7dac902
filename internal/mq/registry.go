package mq

import "sync"

// queueRegistry maps queue names to per-queue state. Each provider owns one.
type queueRegistry[T any] struct {
	mu     sync.RWMutex
	queues map[string]T
	create func(name string) T
}

func newQueueRegistry[T any](create func(name string) T) *queueRegistry[T] {
	return &queueRegistry[T]{
		queues: make(map[string]T),
		create: create,
	}
}

// getOrCreate returns the state for name, creating it on first use
func (r *queueRegistry[T]) getOrCreate(name string) T {
	r.mu.RLock()
	q, ok := r.queues[name]
	r.mu.RUnlock()
	if ok {
		return q
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if q, ok = r.queues[name]; ok {
		return q
	}
	q = r.create(name)
	r.queues[name] = q
	return q
}

func (r *queueRegistry[T]) get(name string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	q, ok := r.queues[name]
	return q, ok
}

// remove forgets name and returns the state it held
func (r *queueRegistry[T]) remove(name string) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.queues[name]
	if ok {
		delete(r.queues, name)
	}
	return q, ok
}

func (r *queueRegistry[T]) values() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	vals := make([]T, 0, len(r.queues))
	for _, q := range r.queues {
		vals = append(vals, q)
	}
	return vals
}
