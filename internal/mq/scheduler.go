package mq

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"
)

// scheduler runs callbacks at (or shortly after) a point in time. All
// callbacks run on one goroutine and must not block.
type scheduler struct {
	mu      sync.Mutex
	timers  timerHeap
	pending map[string]time.Time
	wake    chan struct{}
	logger  *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

type timerEntry struct {
	at    time.Time
	key   string
	fn    func()
	index int
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

func newScheduler(logger *slog.Logger) *scheduler {
	return &scheduler{
		pending: make(map[string]time.Time),
		wake:    make(chan struct{}, 1),
		logger:  logger,
	}
}

// start launches the timer goroutine. It is a no-op if already running.
func (s *scheduler) start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx, s.done)
}

// stop halts the goroutine and drops every pending callback
func (s *scheduler) stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.timers = nil
	s.pending = make(map[string]time.Time)
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// schedule arranges for fn to run at time at. Callbacks sharing a key are
// collapsed: a request later than an already pending one for the same key
// is dropped, so fn must be safe to run early.
func (s *scheduler) schedule(at time.Time, key string, fn func()) {
	s.mu.Lock()
	if prev, ok := s.pending[key]; ok && !at.Before(prev) {
		s.mu.Unlock()
		return
	}
	s.pending[key] = at
	heap.Push(&s.timers, &timerEntry{at: at, key: key, fn: fn})
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// len returns the number of pending callbacks
func (s *scheduler) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timers.Len()
}

func (s *scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		due, next, ok := s.popDue(time.Now())
		for _, e := range due {
			s.fire(e)
		}
		if len(due) > 0 {
			continue
		}

		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
			}
			continue
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// popDue removes every entry due at now and reports the next deadline
func (s *scheduler) popDue(now time.Time) ([]*timerEntry, time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*timerEntry
	for s.timers.Len() > 0 && !s.timers[0].at.After(now) {
		e := heap.Pop(&s.timers).(*timerEntry)
		if at, ok := s.pending[e.key]; ok && !at.After(e.at) {
			delete(s.pending, e.key)
		}
		due = append(due, e)
	}

	if s.timers.Len() == 0 {
		return due, time.Time{}, false
	}
	return due, s.timers[0].at, true
}

func (s *scheduler) fire(e *timerEntry) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Scheduled callback panicked", "key", e.key, "panic", r)
		}
	}()
	e.fn()
}
