package mq

import (
	"context"
	"time"
)

// reapBatch bounds the ids inspected per queue per tick
const reapBatch = 500

// processingReaper returns messages to the ready set when their consumer
// vanished: the id is still inflight but its processing marker expired.
type processingReaper struct {
	provider *RedisProvider
	interval time.Duration
}

func newProcessingReaper(p *RedisProvider, interval time.Duration) *processingReaper {
	return &processingReaper{provider: p, interval: interval}
}

func (r *processingReaper) run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.provider.logger.Info("Processing reaper started", "interval", r.interval)

	for {
		select {
		case <-ctx.Done():
			r.provider.logger.Info("Processing reaper stopped")
			return
		case <-ticker.C:
			r.reapAll(ctx)
		}
	}
}

// reapAll scans every queue under the key prefix, not only local ones
func (r *processingReaper) reapAll(ctx context.Context) int64 {
	p := r.provider
	client, err := p.connectedClient()
	if err != nil {
		return 0
	}

	names, err := p.discoverQueues(ctx, client)
	if err != nil {
		p.logger.Error("Failed to list queues for reaping", "error", err)
		return 0
	}

	var total int64
	for _, name := range names {
		total += r.reap(ctx, name)
	}
	return total
}

func (r *processingReaper) reap(ctx context.Context, queueName string) int64 {
	p := r.provider
	client, err := p.connectedClient()
	if err != nil {
		return 0
	}

	keys := p.keysFor(queueName)
	requeued, err := reapScript.Run(ctx, client,
		[]string{keys.inflight, keys.ready, keys.priorities, keys.messages, keys.stats},
		time.Now().UnixMilli(), keys.marker, reapBatch,
	).Int64()
	if err != nil {
		p.logger.Error("Failed to reap expired messages", "queue", queueName, "error", err)
		return 0
	}

	if requeued > 0 {
		p.logger.Warn("Requeued messages with expired processing markers",
			"queue", queueName,
			"count", requeued,
		)
		if err := client.Publish(ctx, keys.notify, "reaper").Err(); err != nil {
			p.logger.Warn("Failed to publish notification", "queue", queueName, "error", err)
		}
	}
	return requeued
}
