package queueservice

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/arnabghosh/chat-queue/internal/config"
	"github.com/arnabghosh/chat-queue/internal/mq"
)

// Service is the single entry point the rest of the application uses for
// queueing. It owns exactly one provider and forwards every operation to it.
// Construct one per process and pass it to whoever needs it.
type Service struct {
	logger *slog.Logger

	defaultPriority   int
	defaultMaxRetries int

	mu       sync.RWMutex
	provider mq.Provider
	detach   func()

	observersMu sync.RWMutex
	nextID      uint64
	observers   map[uint64]mq.DeadLetterObserver
}

var _ mq.Provider = (*Service)(nil)

// Option configures a Service
type Option func(*Service)

// WithLogger sets the service logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithDefaults sets the priority and retry budget applied by CreateMessage
func WithDefaults(priority, maxRetries int) Option {
	return func(s *Service) {
		s.defaultPriority = priority
		s.defaultMaxRetries = maxRetries
	}
}

// NewProvider builds the provider named by cfg.Provider
func NewProvider(cfg config.QueueConfig, logger *slog.Logger) (mq.Provider, error) {
	opts := []mq.Option{
		mq.WithLogger(logger),
		mq.WithRetryBackoff(cfg.RetryBaseDelay, cfg.RetryMaxDelay),
	}

	switch cfg.Provider {
	case config.ProviderMemory, "":
		return mq.NewInMemoryProvider(opts...), nil
	case config.ProviderRedis:
		p, err := mq.NewRedisProvider(mq.RedisConfig{
			RedisURL:          cfg.RedisURL,
			KeyPrefix:         cfg.KeyPrefix,
			VisibilityTimeout: cfg.VisibilityTimeout,
			PoolSize:          cfg.PoolSize,
			ReaperInterval:    cfg.ReaperInterval,
		}, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, &mq.UnknownProviderError{Kind: cfg.Provider}
	}
}

// New creates a service over the provider selected by cfg. The provider is
// not connected yet.
func New(cfg config.QueueConfig, opts ...Option) (*Service, error) {
	if cfg.DefaultPriority != 0 || cfg.DefaultMaxRetries != 0 {
		opts = append([]Option{WithDefaults(cfg.DefaultPriority, cfg.DefaultMaxRetries)}, opts...)
	}
	s, base := newService(opts)

	provider, err := NewProvider(cfg, base)
	if err != nil {
		return nil, fmt.Errorf("failed to create queue provider: %w", err)
	}
	s.attach(provider)
	return s, nil
}

// NewWithProvider creates a service over an existing provider
func NewWithProvider(provider mq.Provider, opts ...Option) *Service {
	s, _ := newService(opts)
	s.attach(provider)
	return s
}

// newService applies opts and returns the service with the caller's logger
// before the component attribute was added
func newService(opts []Option) (*Service, *slog.Logger) {
	s := &Service{
		logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
		defaultPriority:   mq.DefaultPriority,
		defaultMaxRetries: mq.DefaultMaxRetries,
		observers:         make(map[uint64]mq.DeadLetterObserver),
	}
	for _, opt := range opts {
		opt(s)
	}
	base := s.logger
	s.logger = base.With("component", "queue_service")
	return s, base
}

// attach makes provider current and routes its dead letters to the
// service's observers
func (s *Service) attach(provider mq.Provider) {
	detach := provider.OnDeadLetter(mq.DeadLetterFunc(s.forwardDeadLetter))

	s.mu.Lock()
	s.provider = provider
	s.detach = detach
	s.mu.Unlock()
}

func (s *Service) current() mq.Provider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.provider
}

// Provider returns the active provider
func (s *Service) Provider() mq.Provider {
	return s.current()
}

// Replace disconnects the active provider and connects next in its place.
// Dead-letter observers registered on the service carry over, including for
// deliveries still running on the previous provider.
func (s *Service) Replace(ctx context.Context, next mq.Provider) error {
	if err := next.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect replacement provider: %w", err)
	}

	s.mu.Lock()
	prev, detach := s.provider, s.detach
	s.mu.Unlock()

	s.attach(next)

	// Disconnect waits for in-flight deliveries, which may still dead-letter
	// through prev, so its observers are detached only afterwards
	if err := prev.Disconnect(ctx); err != nil {
		s.logger.Warn("Failed to disconnect previous provider",
			"provider", prev.Name(),
			"error", err,
		)
	}
	if detach != nil {
		detach()
	}

	s.logger.Info("Queue provider replaced",
		"previous", prev.Name(),
		"current", next.Name(),
	)
	return nil
}

// Name returns the active provider's name
func (s *Service) Name() string {
	return s.current().Name()
}

// Connect connects the active provider
func (s *Service) Connect(ctx context.Context) error {
	p := s.current()
	if err := p.Connect(ctx); err != nil {
		return err
	}
	s.logger.Info("Queue service connected", "provider", p.Name())
	return nil
}

// Disconnect disconnects the active provider
func (s *Service) Disconnect(ctx context.Context) error {
	return s.current().Disconnect(ctx)
}

// IsHealthy reports the active provider's health
func (s *Service) IsHealthy(ctx context.Context) bool {
	return s.current().IsHealthy(ctx)
}

// CreateMessage builds a message with the service defaults, then opts
func (s *Service) CreateMessage(msgType string, payload interface{}, opts ...mq.MessageOption) (*mq.QueueMessage, error) {
	all := make([]mq.MessageOption, 0, len(opts)+2)
	all = append(all, mq.WithPriority(s.defaultPriority), mq.WithMaxRetries(s.defaultMaxRetries))
	all = append(all, opts...)
	return mq.NewMessage(msgType, payload, all...)
}

// Publish creates a message and enqueues it, returning what was enqueued
func (s *Service) Publish(ctx context.Context, queueName, msgType string, payload interface{}, opts ...mq.MessageOption) (*mq.QueueMessage, error) {
	msg, err := s.CreateMessage(msgType, payload, opts...)
	if err != nil {
		return nil, err
	}
	if err := s.Enqueue(ctx, queueName, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *Service) Enqueue(ctx context.Context, queueName string, msg *mq.QueueMessage, opts ...mq.MessageOption) error {
	return s.current().Enqueue(ctx, queueName, msg, opts...)
}

func (s *Service) Dequeue(ctx context.Context, queueName string) (*mq.QueueMessage, error) {
	return s.current().Dequeue(ctx, queueName)
}

func (s *Service) Peek(ctx context.Context, queueName string) (*mq.QueueMessage, error) {
	return s.current().Peek(ctx, queueName)
}

func (s *Service) Subscribe(ctx context.Context, queueName string, handler mq.Handler) error {
	return s.current().Subscribe(ctx, queueName, handler)
}

func (s *Service) Unsubscribe(ctx context.Context, queueName string) error {
	return s.current().Unsubscribe(ctx, queueName)
}

func (s *Service) GetQueueSize(ctx context.Context, queueName string) (int64, error) {
	return s.current().GetQueueSize(ctx, queueName)
}

func (s *Service) PurgeQueue(ctx context.Context, queueName string) error {
	return s.current().PurgeQueue(ctx, queueName)
}

func (s *Service) DeleteQueue(ctx context.Context, queueName string) error {
	return s.current().DeleteQueue(ctx, queueName)
}

func (s *Service) GetStats(ctx context.Context, queueName string) (mq.QueueStats, error) {
	return s.current().GetStats(ctx, queueName)
}

// OnDeadLetter registers an observer that outlives provider replacement
func (s *Service) OnDeadLetter(observer mq.DeadLetterObserver) func() {
	if observer == nil {
		return func() {}
	}

	s.observersMu.Lock()
	id := s.nextID
	s.nextID++
	s.observers[id] = observer
	s.observersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.observersMu.Lock()
			delete(s.observers, id)
			s.observersMu.Unlock()
		})
	}
}

func (s *Service) forwardDeadLetter(event mq.DeadLetterEvent) {
	s.observersMu.RLock()
	observers := make([]mq.DeadLetterObserver, 0, len(s.observers))
	for _, o := range s.observers {
		observers = append(observers, o)
	}
	s.observersMu.RUnlock()

	for _, o := range observers {
		s.notifyObserver(o, event)
	}
}

func (s *Service) notifyObserver(o mq.DeadLetterObserver, event mq.DeadLetterEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Dead-letter observer panicked",
				"queue", event.QueueName,
				"message_id", event.Message.ID,
				"panic", r,
			)
		}
	}()
	o.OnDeadLetter(event)
}
