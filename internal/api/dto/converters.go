package dto

import (
	"time"

	"github.com/arnabghosh/chat-queue/internal/deadletter"
	"github.com/arnabghosh/chat-queue/internal/mq"
)

// ToMessageResponse converts mq.QueueMessage to dto.MessageResponse
func ToMessageResponse(msg *mq.QueueMessage) *MessageResponse {
	if msg == nil {
		return nil
	}

	return &MessageResponse{
		ID:             msg.ID,
		Type:           msg.Type,
		Payload:        msg.Payload,
		Timestamp:      msg.Timestamp,
		UserID:         msg.UserID,
		ConversationID: msg.ConversationID,
		Priority:       msg.Priority,
		DelayMs:        msg.DelayMs,
		ExecuteAt:      msg.ExecuteAt(),
		MaxRetries:     msg.MaxRetries,
		RetryCount:     msg.RetryCount,
		Metadata:       msg.Metadata,
	}
}

// ToQueueStatsResponse converts mq.QueueStats to dto.QueueStatsResponse
func ToQueueStatsResponse(stats mq.QueueStats) *QueueStatsResponse {
	return &QueueStatsResponse{
		QueueName:           stats.QueueName,
		Total:               stats.Total,
		Pending:             stats.Pending,
		Processing:          stats.Processing,
		Completed:           stats.Completed,
		Failed:              stats.Failed,
		Retried:             stats.Retried,
		AvgProcessingTimeMs: float64(stats.AvgProcessingTime) / float64(time.Millisecond),
	}
}

// ToDeadLetterListResponse wraps records with their counts
func ToDeadLetterListResponse(records []*deadletter.Record, total int64, queue string) *DeadLetterListResponse {
	if records == nil {
		records = []*deadletter.Record{}
	}
	return &DeadLetterListResponse{
		Records: records,
		Count:   len(records),
		Total:   total,
		Queue:   queue,
	}
}

// MessageOptions converts the optional request fields into message options
func (r *EnqueueRequest) MessageOptions() []mq.MessageOption {
	var opts []mq.MessageOption
	if r.Priority != nil {
		opts = append(opts, mq.WithPriority(*r.Priority))
	}
	if r.MaxRetries != nil {
		opts = append(opts, mq.WithMaxRetries(*r.MaxRetries))
	}
	if r.DelayMs > 0 {
		opts = append(opts, mq.WithDelay(time.Duration(r.DelayMs)*time.Millisecond))
	}
	if r.UserID != "" {
		opts = append(opts, mq.WithUserID(r.UserID))
	}
	if r.ConversationID != "" {
		opts = append(opts, mq.WithConversationID(r.ConversationID))
	}
	if len(r.Metadata) > 0 {
		opts = append(opts, mq.WithMetadata(r.Metadata))
	}
	return opts
}

// PayloadValue returns the payload for the message factory; a missing
// payload becomes JSON null
func (r *EnqueueRequest) PayloadValue() interface{} {
	if len(r.Payload) == 0 {
		return nil
	}
	return r.Payload
}
