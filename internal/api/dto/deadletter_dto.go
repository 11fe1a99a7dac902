package dto

import "github.com/arnabghosh/chat-queue/internal/deadletter"

// DeadLetterListResponse represents a page of archived dead letters
type DeadLetterListResponse struct {
	Records []*deadletter.Record `json:"records"`
	Count   int                  `json:"count"`
	Total   int64                `json:"total"`
	Queue   string               `json:"queue,omitempty"`
}
