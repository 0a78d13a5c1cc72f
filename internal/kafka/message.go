package kafka

import "time"

const (
	OutcomeSent       = "sent"
	OutcomeRetry      = "retry"
	OutcomeFailed     = "failed"
	OutcomeDeadLetter = "dead_letter"
)

// DeliveryEvent describes the result of one delivery attempt.
type DeliveryEvent struct {
	MessageID  int64      `json:"message_id"`
	QueueID    int64      `json:"queue_id"`
	Outcome    string     `json:"outcome"`
	Attempt    int        `json:"attempt"`
	StatusCode int        `json:"status_code,omitempty"`
	Error      string     `json:"error,omitempty"`
	NextTry    *time.Time `json:"next_try,omitempty"`
	OccurredAt time.Time  `json:"occurred_at"`

	// DeadLetterMessageID is the copy created under the dead-letter queue.
	DeadLetterMessageID int64 `json:"dead_letter_message_id,omitempty"`
}
