package models

import "time"

const (
	MessageStatusPending = "pending"
	MessageStatusSent    = "sent"
	MessageStatusFailed  = "failed"
)

type Message struct {
	ID      int64             `db:"id" json:"id"`
	QueueID int64             `db:"queue_id" json:"queue_id"`
	Headers map[string]string `db:"headers" json:"headers,omitempty"`
	Body    string            `db:"body" json:"body"`

	When      time.Time  `db:"when" json:"when"`
	SentAt    *time.Time `db:"sent_at" json:"sent_at"` // NULL until the callback answered 2xx
	Retries   int        `db:"retries" json:"retries"`
	Status    string     `db:"status" json:"status"`
	LastError *string    `db:"last_error" json:"last_error,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}

// Terminal reports whether the delivery engine is done with the message.
func (m *Message) Terminal() bool {
	return m.Status == MessageStatusSent || m.Status == MessageStatusFailed || m.SentAt != nil
}

// Due reports whether the message should be picked up by a poll at now.
func (m *Message) Due(now time.Time) bool {
	return !m.Terminal() && !m.When.After(now)
}
