package inmemory

import (
	"context"
	"sync"

	"github.com/arnabghosh/chat-queue/internal/deadletter"
)

// DefaultCapacity is used when NewRepository is given a non-positive capacity
const DefaultCapacity = 1000

// Repository is an in-memory dead-letter archive.
// It keeps the newest records in a fixed-size ring; once full, the oldest
// record is overwritten.
type Repository struct {
	mu      sync.RWMutex
	records []*deadletter.Record
	next    int
	full    bool
}

var _ deadletter.Repository = (*Repository)(nil)

// NewRepository creates a new in-memory dead-letter repository
func NewRepository(capacity int) *Repository {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Repository{
		records: make([]*deadletter.Record, capacity),
	}
}

// Store persists a record
// Thread-safe for concurrent writes
func (r *Repository) Store(ctx context.Context, record *deadletter.Record) error {
	if err := record.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.records[r.next] = record
	r.next = (r.next + 1) % len(r.records)
	if r.next == 0 {
		r.full = true
	}
	return nil
}

// List returns the newest records first
func (r *Repository) List(ctx context.Context, queueName string, limit int) ([]*deadletter.Record, error) {
	if limit <= 0 {
		limit = deadletter.DefaultListLimit
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	size := r.len()
	result := make([]*deadletter.Record, 0, min(limit, size))
	for i := 0; i < size && len(result) < limit; i++ {
		// walk backwards from the most recent write
		idx := (r.next - 1 - i + len(r.records)) % len(r.records)
		rec := r.records[idx]
		if queueName != "" && rec.QueueName != queueName {
			continue
		}
		result = append(result, rec)
	}
	return result, nil
}

// Count returns the number of records held
func (r *Repository) Count(ctx context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(r.len()), nil
}

// Close is a no-op
func (r *Repository) Close(ctx context.Context) error {
	return nil
}

func (r *Repository) len() int {
	if r.full {
		return len(r.records)
	}
	return r.next
}
