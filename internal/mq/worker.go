package mq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// deliveryBackend is the storage side of the delivery loop. Each provider
// implements it over its own store.
type deliveryBackend interface {
	// claim takes the next ready message and marks it processing
	claim(ctx context.Context, queueName string) (*QueueMessage, error)

	// The three outcomes below report false when the queue no longer owns
	// msg, e.g. it was deleted while msg was being delivered. Nothing is
	// written back in that case.

	// complete acknowledges a successful delivery
	complete(ctx context.Context, queueName string, msg *QueueMessage, elapsed time.Duration) bool

	// retry re-queues msg (RetryCount already incremented) to run after delay
	retry(ctx context.Context, queueName string, msg *QueueMessage, delay time.Duration) bool

	// bury drops msg after its retry budget is exhausted
	bury(ctx context.Context, queueName string, msg *QueueMessage) bool

	// handlers returns a snapshot of the queue's subscribers
	handlers(queueName string) []Handler

	// drained is called after the loop found the queue empty
	drained(ctx context.Context, queueName string)
}

// worker delivers messages of one subscribed queue. Messages are taken one
// at a time and every handler sees each of them.
type worker struct {
	queueName string
	backend   deliveryBackend
	deadLtrs  *deadLetterBus
	logger    *slog.Logger

	retryBase time.Duration
	retryMax  time.Duration

	// handlerCtx is passed to handlers and outlives Unsubscribe
	handlerCtx context.Context

	wake   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

type workerConfig struct {
	backend    deliveryBackend
	deadLtrs   *deadLetterBus
	logger     *slog.Logger
	retryBase  time.Duration
	retryMax   time.Duration
	handlerCtx context.Context
}

func startWorker(queueName string, cfg workerConfig, wg *sync.WaitGroup) *worker {
	ctx, cancel := context.WithCancel(cfg.handlerCtx)
	w := &worker{
		queueName:  queueName,
		backend:    cfg.backend,
		deadLtrs:   cfg.deadLtrs,
		logger:     cfg.logger.With("queue", queueName),
		retryBase:  cfg.retryBase,
		retryMax:   cfg.retryMax,
		handlerCtx: cfg.handlerCtx,
		wake:       make(chan struct{}, 1),
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(w.done)
		w.run(ctx)
	}()

	// drain whatever is already waiting
	w.notify()
	return w
}

// notify wakes the worker. Signals coalesce while a drain is pending.
func (w *worker) notify() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// stop cancels the loop without waiting for an in-flight delivery
func (w *worker) stop() {
	w.cancel()
}

func (w *worker) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.wake:
			w.drain(ctx)
		}
	}
}

func (w *worker) drain(ctx context.Context) {
	for ctx.Err() == nil {
		handlers := w.backend.handlers(w.queueName)
		if len(handlers) == 0 {
			return
		}

		msg, err := w.backend.claim(ctx, w.queueName)
		if err != nil {
			w.logger.Error("Failed to claim message", "error", err)
			return
		}
		if msg == nil {
			w.backend.drained(ctx, w.queueName)
			return
		}

		w.process(msg, handlers)
	}
}

func (w *worker) process(msg *QueueMessage, handlers []Handler) {
	start := time.Now()
	err := w.deliver(msg, handlers)
	elapsed := time.Since(start)

	// bookkeeping runs even if the worker was cancelled mid-delivery
	ctx := context.WithoutCancel(w.handlerCtx)

	if err == nil {
		if !w.backend.complete(ctx, w.queueName, msg, elapsed) {
			w.released(msg)
			return
		}
		w.logger.Debug("Message processed",
			"message_id", msg.ID,
			"duration", elapsed,
		)
		return
	}

	if msg.RetryCount >= msg.MaxRetries {
		if !w.backend.bury(ctx, w.queueName, msg) {
			w.released(msg)
			return
		}
		w.logger.Error("Message exhausted retries",
			"message_id", msg.ID,
			"retry_count", msg.RetryCount,
			"error", err,
		)
		w.deadLtrs.publish(DeadLetterEvent{
			QueueName: w.queueName,
			Message:   msg,
			Err:       err,
			At:        time.Now(),
		})
		return
	}

	msg.RetryCount++
	delay := RetryDelay(w.retryBase, w.retryMax, msg.RetryCount)
	if !w.backend.retry(ctx, w.queueName, msg, delay) {
		w.released(msg)
		return
	}
	w.logger.Warn("Message processing failed, retrying",
		"message_id", msg.ID,
		"retry_count", msg.RetryCount,
		"max_retries", msg.MaxRetries,
		"delay", delay,
		"error", err,
	)
}

// released logs a delivery whose outcome was discarded because the queue
// let go of the message while it was in flight
func (w *worker) released(msg *QueueMessage) {
	w.logger.Info("Discarding delivery outcome, message no longer owned by queue",
		"message_id", msg.ID,
	)
}

// deliver invokes every handler concurrently and waits for all of them.
// The first failure is returned.
func (w *worker) deliver(msg *QueueMessage, handlers []Handler) error {
	var g errgroup.Group
	for _, h := range handlers {
		h := h
		clone := msg.Clone()
		g.Go(func() error {
			return invokeHandler(w.handlerCtx, h, clone)
		})
	}
	return g.Wait()
}

func invokeHandler(ctx context.Context, h Handler, msg *QueueMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return h(ctx, msg)
}
