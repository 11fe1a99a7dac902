package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arnabghosh/chat-queue/internal/api/dto"
	"github.com/arnabghosh/chat-queue/internal/mq"
)

// QueueService is the part of the queue facade the admin API needs
type QueueService interface {
	Name() string
	IsHealthy(ctx context.Context) bool
	Publish(ctx context.Context, queueName, msgType string, payload interface{}, opts ...mq.MessageOption) (*mq.QueueMessage, error)
	Dequeue(ctx context.Context, queueName string) (*mq.QueueMessage, error)
	Peek(ctx context.Context, queueName string) (*mq.QueueMessage, error)
	GetQueueSize(ctx context.Context, queueName string) (int64, error)
	PurgeQueue(ctx context.Context, queueName string) error
	DeleteQueue(ctx context.Context, queueName string) error
	GetStats(ctx context.Context, queueName string) (mq.QueueStats, error)
}

// QueueHandler handles queue administration requests
type QueueHandler struct {
	queue QueueService
}

// NewQueueHandler creates a new queue handler
func NewQueueHandler(queue QueueService) *QueueHandler {
	return &QueueHandler{
		queue: queue,
	}
}

// respondError writes the error response matching err
func respondError(c *gin.Context, err error) {
	status, body := dto.NewErrorResponse(err)
	c.JSON(status, body)
}

// Health reports whether the provider is connected
func (h *QueueHandler) Health(c *gin.Context) {
	resp := dto.HealthResponse{Status: "healthy", Provider: h.queue.Name()}
	if !h.queue.IsHealthy(c.Request.Context()) {
		resp.Status = "unhealthy"
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Enqueue creates a message from the request body and enqueues it.
// Responds 202 with the stored message.
func (h *QueueHandler) Enqueue(c *gin.Context) {
	var req dto.EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, fmt.Errorf("%w: %v", dto.ErrBadRequest, err))
		return
	}

	msg, err := h.queue.Publish(c.Request.Context(), c.Param("name"), req.Type, req.PayloadValue(), req.MessageOptions()...)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, dto.ToMessageResponse(msg))
}

// Dequeue removes and returns the highest-priority ready message.
// Responds 204 when the queue has nothing ready.
func (h *QueueHandler) Dequeue(c *gin.Context) {
	msg, err := h.queue.Dequeue(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	if msg == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, dto.ToMessageResponse(msg))
}

// Peek returns the highest-priority ready message without removing it
func (h *QueueHandler) Peek(c *gin.Context) {
	msg, err := h.queue.Peek(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	if msg == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, dto.ToMessageResponse(msg))
}

// Size returns the number of pending messages
func (h *QueueHandler) Size(c *gin.Context) {
	name := c.Param("name")
	size, err := h.queue.GetQueueSize(c.Request.Context(), name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.QueueSizeResponse{QueueName: name, Size: size})
}

// Stats returns statistics for one queue
func (h *QueueHandler) Stats(c *gin.Context) {
	name := c.Param("name")
	if name == "" {
		respondError(c, mq.ErrInvalidQueueName)
		return
	}
	h.writeStats(c, name)
}

// AllStats returns statistics aggregated over every queue
func (h *QueueHandler) AllStats(c *gin.Context) {
	h.writeStats(c, "")
}

func (h *QueueHandler) writeStats(c *gin.Context, name string) {
	stats, err := h.queue.GetStats(c.Request.Context(), name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ToQueueStatsResponse(stats))
}

// Purge drops every pending message but keeps subscribers
func (h *QueueHandler) Purge(c *gin.Context) {
	if err := h.queue.PurgeQueue(c.Request.Context(), c.Param("name")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Delete removes the queue with its subscribers and statistics
func (h *QueueHandler) Delete(c *gin.Context) {
	if err := h.queue.DeleteQueue(c.Request.Context(), c.Param("name")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
