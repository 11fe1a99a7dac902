package dto

import (
	"errors"
	"net/http"
	"time"

	"github.com/arnabghosh/chat-queue/internal/mq"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrBadRequest marks errors caused by the request itself (binding, query params)
var ErrBadRequest = errors.New("bad request")

// NewErrorResponse maps err to an HTTP status and response body
func NewErrorResponse(err error) (int, ErrorResponse) {
	status, title := http.StatusInternalServerError, "Internal Server Error"
	switch {
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, mq.ErrInvalidQueueName),
		errors.Is(err, mq.ErrNilMessage):
		status, title = http.StatusBadRequest, "Invalid request"
	case errors.Is(err, mq.ErrNotConnected),
		errors.Is(err, mq.ErrStoreUnavailable):
		status, title = http.StatusServiceUnavailable, "Queue unavailable"
	}

	return status, ErrorResponse{
		Error:     title,
		Message:   err.Error(),
		Timestamp: time.Now(),
	}
}
