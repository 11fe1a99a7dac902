package handlers

import (
	"context"
	"net/http/httptest"

	"github.com/gin-gonic/gin"

	"github.com/arnabghosh/chat-queue/internal/deadletter"
	"github.com/arnabghosh/chat-queue/internal/mq"
)

// MockQueueService implements QueueService for testing
type MockQueueService struct {
	NameFunc         func() string
	IsHealthyFunc    func(ctx context.Context) bool
	PublishFunc      func(ctx context.Context, queueName, msgType string, payload interface{}, opts ...mq.MessageOption) (*mq.QueueMessage, error)
	DequeueFunc      func(ctx context.Context, queueName string) (*mq.QueueMessage, error)
	PeekFunc         func(ctx context.Context, queueName string) (*mq.QueueMessage, error)
	GetQueueSizeFunc func(ctx context.Context, queueName string) (int64, error)
	PurgeQueueFunc   func(ctx context.Context, queueName string) error
	DeleteQueueFunc  func(ctx context.Context, queueName string) error
	GetStatsFunc     func(ctx context.Context, queueName string) (mq.QueueStats, error)
}

func (m *MockQueueService) Name() string {
	if m.NameFunc != nil {
		return m.NameFunc()
	}
	return "mock"
}

func (m *MockQueueService) IsHealthy(ctx context.Context) bool {
	if m.IsHealthyFunc != nil {
		return m.IsHealthyFunc(ctx)
	}
	return true
}

func (m *MockQueueService) Publish(ctx context.Context, queueName, msgType string, payload interface{}, opts ...mq.MessageOption) (*mq.QueueMessage, error) {
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, queueName, msgType, payload, opts...)
	}
	return mq.NewMessage(msgType, payload, opts...)
}

func (m *MockQueueService) Dequeue(ctx context.Context, queueName string) (*mq.QueueMessage, error) {
	if m.DequeueFunc != nil {
		return m.DequeueFunc(ctx, queueName)
	}
	return nil, nil
}

func (m *MockQueueService) Peek(ctx context.Context, queueName string) (*mq.QueueMessage, error) {
	if m.PeekFunc != nil {
		return m.PeekFunc(ctx, queueName)
	}
	return nil, nil
}

func (m *MockQueueService) GetQueueSize(ctx context.Context, queueName string) (int64, error) {
	if m.GetQueueSizeFunc != nil {
		return m.GetQueueSizeFunc(ctx, queueName)
	}
	return 0, nil
}

func (m *MockQueueService) PurgeQueue(ctx context.Context, queueName string) error {
	if m.PurgeQueueFunc != nil {
		return m.PurgeQueueFunc(ctx, queueName)
	}
	return nil
}

func (m *MockQueueService) DeleteQueue(ctx context.Context, queueName string) error {
	if m.DeleteQueueFunc != nil {
		return m.DeleteQueueFunc(ctx, queueName)
	}
	return nil
}

func (m *MockQueueService) GetStats(ctx context.Context, queueName string) (mq.QueueStats, error) {
	if m.GetStatsFunc != nil {
		return m.GetStatsFunc(ctx, queueName)
	}
	return mq.QueueStats{QueueName: queueName}, nil
}

// MockDeadLetterRepository implements deadletter.Repository for testing
type MockDeadLetterRepository struct {
	StoreFunc func(ctx context.Context, record *deadletter.Record) error
	ListFunc  func(ctx context.Context, queueName string, limit int) ([]*deadletter.Record, error)
	CountFunc func(ctx context.Context) (int64, error)
}

func (m *MockDeadLetterRepository) Store(ctx context.Context, record *deadletter.Record) error {
	if m.StoreFunc != nil {
		return m.StoreFunc(ctx, record)
	}
	return nil
}

func (m *MockDeadLetterRepository) List(ctx context.Context, queueName string, limit int) ([]*deadletter.Record, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, queueName, limit)
	}
	return nil, nil
}

func (m *MockDeadLetterRepository) Count(ctx context.Context) (int64, error) {
	if m.CountFunc != nil {
		return m.CountFunc(ctx)
	}
	return 0, nil
}

func (m *MockDeadLetterRepository) Close(ctx context.Context) error {
	return nil
}

func setupGinTest() (*gin.Engine, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	w := httptest.NewRecorder()
	return router, w
}
