package models

import (
	"encoding/json"
	"time"
)

type CreateQueueRequest struct {
	Name              string            `json:"name"`
	CallbackURL       string            `json:"callback_url"`
	Method            string            `json:"method"`
	Headers           map[string]string `json:"headers"`
	MaxRetries        *int              `json:"max_retries"`
	DeadLetterQueueID *int64            `json:"dead_letter_queue_id"`
}

// EnqueueRequest carries one message. Body may be a JSON string (sent as-is)
// or any other JSON value (stored as its JSON text).
type EnqueueRequest struct {
	Headers map[string]string `json:"headers"`
	Body    json.RawMessage   `json:"body"`
	When    *time.Time        `json:"when"`
}

type EnqueueBatchRequest struct {
	Messages []EnqueueRequest `json:"messages"`
}

type CreateCronRequest struct {
	QueueID  int64             `json:"queue_id"`
	Schedule string            `json:"schedule"`
	Headers  map[string]string `json:"headers"`
	Body     json.RawMessage   `json:"body"`
}

type ListResponse[T any] struct {
	Items  []T `json:"items"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// BodyText turns a request body into the stored message body.
func BodyText(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	return string(raw), nil
}
