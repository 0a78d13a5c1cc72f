package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"webhook_queue/internal/models"
)

// rowScanner is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

var (
	queueColumns   = []string{"id", "name", "callback_url", "method", "headers", "max_retries", "dead_letter_queue_id", "created_at"}
	messageColumns = []string{"id", "queue_id", "headers", "body", "deliver_at", "sent_at", "retries", "status", "last_error", "created_at"}
	cronColumns    = []string{"id", "queue_id", "headers", "body", "schedule", "watermark", "created_at"}
)

func scanQueue(row rowScanner) (*models.Queue, error) {
	var (
		q       models.Queue
		headers []byte
	)
	if err := row.Scan(
		&q.ID,
		&q.Name,
		&q.CallbackURL,
		&q.Method,
		&headers,
		&q.MaxRetries,
		&q.DeadLetterQueueID,
		&q.CreatedAt,
	); err != nil {
		return nil, err
	}
	h, err := decodeHeaders(headers)
	if err != nil {
		return nil, fmt.Errorf("queue %d headers: %w", q.ID, err)
	}
	q.Headers = h
	q.CreatedAt = q.CreatedAt.UTC()
	return &q, nil
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var (
		m       models.Message
		headers []byte
	)
	if err := row.Scan(
		&m.ID,
		&m.QueueID,
		&headers,
		&m.Body,
		&m.When,
		&m.SentAt,
		&m.Retries,
		&m.Status,
		&m.LastError,
		&m.CreatedAt,
	); err != nil {
		return nil, err
	}
	h, err := decodeHeaders(headers)
	if err != nil {
		return nil, fmt.Errorf("message %d headers: %w", m.ID, err)
	}
	m.Headers = h
	m.When = m.When.UTC()
	m.CreatedAt = m.CreatedAt.UTC()
	if m.SentAt != nil {
		t := m.SentAt.UTC()
		m.SentAt = &t
	}
	return &m, nil
}

func scanCron(row rowScanner) (*models.Cron, error) {
	var (
		c       models.Cron
		headers []byte
	)
	if err := row.Scan(
		&c.ID,
		&c.QueueID,
		&headers,
		&c.Body,
		&c.Schedule,
		&c.Watermark,
		&c.CreatedAt,
	); err != nil {
		return nil, err
	}
	h, err := decodeHeaders(headers)
	if err != nil {
		return nil, fmt.Errorf("cron %d headers: %w", c.ID, err)
	}
	c.Headers = h
	c.Watermark = c.Watermark.UTC()
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

func encodeHeaders(h map[string]string) ([]byte, error) {
	if h == nil {
		h = map[string]string{}
	}
	return json.Marshal(h)
}

func decodeHeaders(b []byte) (map[string]string, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var h map[string]string
	if err := json.Unmarshal(b, &h); err != nil {
		return nil, err
	}
	if len(h) == 0 {
		return nil, nil
	}
	return h, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}

func utcNow() time.Time { return time.Now().UTC() }
