package queueservice

// Canonical queue names used by the chat pipeline
const (
	QueueChatMessages       = "chat:messages"
	QueueAgentResponses     = "agent:responses"
	QueueProactiveActions   = "proactive:actions"
	QueueStreamChunks       = "stream:chunks"
	QueueStatusUpdates      = "status:updates"
	QueueValidationRequests = "validation:requests"
	QueueGoalSeekingUpdates = "goal-seeking:updates"
	QueueConversationEvents = "conversation:events"
)

// CanonicalQueues returns every well-known queue name
func CanonicalQueues() []string {
	return []string{
		QueueChatMessages,
		QueueAgentResponses,
		QueueProactiveActions,
		QueueStreamChunks,
		QueueStatusUpdates,
		QueueValidationRequests,
		QueueGoalSeekingUpdates,
		QueueConversationEvents,
	}
}

// IsCanonicalQueue reports whether name is one of CanonicalQueues
func IsCanonicalQueue(name string) bool {
	for _, q := range CanonicalQueues() {
		if q == name {
			return true
		}
	}
	return false
}
