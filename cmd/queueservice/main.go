package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/arnabghosh/chat-queue/internal/api"
	"github.com/arnabghosh/chat-queue/internal/config"
	"github.com/arnabghosh/chat-queue/internal/deadletter"
	"github.com/arnabghosh/chat-queue/internal/deadletter/store"
	"github.com/arnabghosh/chat-queue/internal/metrics"
	"github.com/arnabghosh/chat-queue/internal/queueservice"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Queue Service failed", "error", err)
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

	logger.Info("Starting Queue Service",
		"addr", cfg.Server.Addr(),
		"provider", cfg.Queue.Provider,
		"deadletter_store", cfg.DeadLetter.Store,
		"log_level", cfg.Log.Level,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	service, err := queueservice.New(cfg.Queue, queueservice.WithLogger(logger))
	if err != nil {
		return err
	}
	if err := service.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect queue provider: %w", err)
	}

	repo, err := store.New(cfg.DeadLetter)
	if err != nil {
		_ = service.Disconnect(context.Background())
		return fmt.Errorf("failed to open dead-letter store: %w", err)
	}
	defer repo.Close(context.Background())

	service.OnDeadLetter(deadletter.NewRecorder(repo, logger))

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.NewQueueCollector(service, queueservice.CanonicalQueues, logger),
	)

	gin.SetMode(gin.ReleaseMode)
	router := api.NewRouter(service, repo, registry)

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting HTTP server", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down Queue Service...")

		// Give outstanding requests time to complete
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server forced to shutdown: %w", err))
		}
		if err := service.Disconnect(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("failed to disconnect queue provider: %w", err))
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("Queue Service stopped gracefully")
	return nil
}
