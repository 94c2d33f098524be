package database

// MessageStatus is the pipeline position of a message.
type MessageStatus string

const (
	StatusUnprocessed     MessageStatus = "UNPROCESSED"
	StatusReadyForAgent   MessageStatus = "READY_FOR_AGENT"
	StatusAgentProcessing MessageStatus = "AGENT_PROCESSING"
	StatusProcessed       MessageStatus = "PROCESSED"
)

// AllStatuses lists the statuses in pipeline order.
var AllStatuses = []MessageStatus{
	StatusUnprocessed,
	StatusReadyForAgent,
	StatusAgentProcessing,
	StatusProcessed,
}

var forward = map[MessageStatus]MessageStatus{
	StatusUnprocessed:     StatusReadyForAgent,
	StatusReadyForAgent:   StatusAgentProcessing,
	StatusAgentProcessing: StatusProcessed,
}

// Valid reports whether s is a known status.
func (s MessageStatus) Valid() bool {
	switch s {
	case StatusUnprocessed, StatusReadyForAgent, StatusAgentProcessing, StatusProcessed:
		return true
	}
	return false
}

// Next returns the forward successor of s. PROCESSED is terminal.
func (s MessageStatus) Next() (MessageStatus, bool) {
	next, ok := forward[s]
	return next, ok
}

// CanTransitionTo reports whether moving from s to next is legal: one step
// forward, or the recovery requeue of an abandoned agent run.
func (s MessageStatus) CanTransitionTo(next MessageStatus) bool {
	if n, ok := forward[s]; ok && n == next {
		return true
	}
	return IsRecovery(s, next)
}

// IsRecovery reports whether from -> to is the requeue of messages whose
// agent run failed or was abandoned.
func IsRecovery(from, to MessageStatus) bool {
	return from == StatusAgentProcessing && to == StatusReadyForAgent
}
