package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/arnabghosh/chat-queue/internal/config"
	"github.com/arnabghosh/chat-queue/internal/consumer"
	"github.com/arnabghosh/chat-queue/internal/deadletter"
	"github.com/arnabghosh/chat-queue/internal/deadletter/store"
	"github.com/arnabghosh/chat-queue/internal/mq"
	"github.com/arnabghosh/chat-queue/internal/queueservice"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Consumer failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(".env")
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := cfg.Log.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	queues := cfg.Consumer.Queues
	if len(queues) == 0 {
		queues = queueservice.CanonicalQueues()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	service, err := queueservice.New(cfg.Queue, queueservice.WithLogger(logger))
	if err != nil {
		return err
	}
	if err := service.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect queue provider: %w", err)
	}
	defer service.Disconnect(context.Background())

	// Retries run here, so dead letters surface in this process
	repo, err := store.New(cfg.DeadLetter)
	if err != nil {
		return fmt.Errorf("failed to open dead-letter store: %w", err)
	}
	defer repo.Close(context.Background())
	recorder := deadletter.NewRecorder(repo, logger)
	service.OnDeadLetter(recorder)

	dispatcher := consumer.NewDispatcher(consumer.Config{
		InstanceID: cfg.Consumer.InstanceID,
		Queues:     queues,
	}, service, logger)

	dispatcher.SetFallback(func(ctx context.Context, msg *mq.QueueMessage) error {
		logger.Info("Received message",
			"message_id", msg.ID,
			"type", msg.Type,
			"priority", msg.Priority,
			"retry_count", msg.RetryCount,
			"user_id", msg.UserID,
			"conversation_id", msg.ConversationID,
		)
		return nil
	})

	if err := dispatcher.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	stats := dispatcher.Stats()
	dl := recorder.Stats()
	logger.Info("Shutdown complete",
		"messages_processed", stats.MessagesProcessed,
		"messages_succeeded", stats.MessagesSucceeded,
		"messages_errors", stats.MessagesErrors,
		"dead_letters_recorded", dl.Recorded,
	)
	return nil
}
