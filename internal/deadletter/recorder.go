package deadletter

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/arnabghosh/chat-queue/internal/mq"
)

const defaultStoreTimeout = 5 * time.Second

// Recorder archives dead-letter events into a Repository.
// It is registered with Service.OnDeadLetter and runs on the delivering goroutine,
// so every store is bounded by a timeout.
type Recorder struct {
	repo         Repository
	logger       *slog.Logger
	storeTimeout time.Duration

	recorded atomic.Int64
	failed   atomic.Int64
}

var _ mq.DeadLetterObserver = (*Recorder)(nil)

// RecorderStats holds the recorder's counters
type RecorderStats struct {
	Recorded int64 `json:"recorded"`
	Failed   int64 `json:"failed"`
}

// NewRecorder creates a recorder over repo
func NewRecorder(repo Repository, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Recorder{
		repo:         repo,
		logger:       logger.With("component", "deadletter_recorder"),
		storeTimeout: defaultStoreTimeout,
	}
}

// OnDeadLetter stores the event. Storage errors are logged, never returned,
// because the queue has already let go of the message.
func (r *Recorder) OnDeadLetter(event mq.DeadLetterEvent) {
	record := NewRecord(event)

	ctx, cancel := context.WithTimeout(context.Background(), r.storeTimeout)
	defer cancel()

	if err := r.repo.Store(ctx, record); err != nil {
		r.failed.Add(1)
		r.logger.Error("Failed to archive dead letter",
			"queue", record.QueueName,
			"message_id", record.MessageID,
			"error", err,
		)
		return
	}

	r.recorded.Add(1)
	r.logger.Warn("Message dead-lettered",
		"queue", record.QueueName,
		"message_id", record.MessageID,
		"type", record.Type,
		"retry_count", record.RetryCount,
		"reason", record.Error,
	)
}

// Stats returns the recorder's counters
func (r *Recorder) Stats() RecorderStats {
	return RecorderStats{
		Recorded: r.recorded.Load(),
		Failed:   r.failed.Load(),
	}
}
