package models

import "time"

type Cron struct {
	ID       int64             `db:"id" json:"id"`
	QueueID  int64             `db:"queue_id" json:"queue_id"`
	Headers  map[string]string `db:"headers" json:"headers,omitempty"`
	Body     string            `db:"body" json:"body"`
	Schedule string            `db:"schedule" json:"schedule"`

	// Watermark is the last firing already turned into a message.
	// Only the cron scheduler moves it.
	Watermark time.Time `db:"watermark" json:"watermark"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
