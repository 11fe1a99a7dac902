package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/arnabghosh/chat-queue/internal/api/dto"
	"github.com/arnabghosh/chat-queue/internal/deadletter"
)

// maxListLimit caps ?limit= on list endpoints
const maxListLimit = 1000

// DeadLetterHandler serves the dead-letter archive
type DeadLetterHandler struct {
	repo deadletter.Repository
}

// NewDeadLetterHandler creates a new dead-letter handler
func NewDeadLetterHandler(repo deadletter.Repository) *DeadLetterHandler {
	return &DeadLetterHandler{
		repo: repo,
	}
}

// List returns archived dead letters, newest first.
// Query params: queue (optional filter), limit (default 100, max 1000).
func (h *DeadLetterHandler) List(c *gin.Context) {
	limit := deadletter.DefaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(c, fmt.Errorf("%w: limit must be a positive integer", dto.ErrBadRequest))
			return
		}
		limit = min(n, maxListLimit)
	}

	queue := c.Query("queue")
	ctx := c.Request.Context()

	records, err := h.repo.List(ctx, queue, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	total, err := h.repo.Count(ctx)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.ToDeadLetterListResponse(records, total, queue))
}
