package models

import "time"

const DefaultMaxRetries = 5

type Queue struct {
	ID                int64             `db:"id" json:"id"`
	Name              string            `db:"name" json:"name"`
	CallbackURL       string            `db:"callback_url" json:"callback_url"`
	Method            string            `db:"method" json:"method"`
	Headers           map[string]string `db:"headers" json:"headers,omitempty"`
	MaxRetries        int               `db:"max_retries" json:"max_retries"`
	DeadLetterQueueID *int64            `db:"dead_letter_queue_id" json:"dead_letter_queue_id,omitempty"`
	CreatedAt         time.Time         `db:"created_at" json:"created_at"`
}
