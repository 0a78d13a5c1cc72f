package repository

import (
	"context"
	"errors"
	"time"

	"webhook_queue/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrWatermarkMoved means another process fired the cron since it was read.
	ErrWatermarkMoved = errors.New("cron watermark moved")
)

// Store is the persistence contract shared by the admin surface, the
// delivery engine and the cron scheduler.
type Store interface {
	CreateQueue(ctx context.Context, q *models.Queue) error
	GetQueue(ctx context.Context, id int64) (*models.Queue, error)
	ListQueues(ctx context.Context, limit, offset int) ([]*models.Queue, error)

	CreateMessage(ctx context.Context, m *models.Message) error
	CreateMessages(ctx context.Context, msgs []*models.Message) error
	GetMessage(ctx context.Context, id int64) (*models.Message, error)
	ListMessages(ctx context.Context, queueID int64, status string, limit, offset int) ([]*models.Message, error)
	GetDueMessages(ctx context.Context, now time.Time, limit int) ([]*models.Message, error)
	MarkAsSent(ctx context.Context, id int64, sentAt time.Time) error
	Reschedule(ctx context.Context, id int64, retries int, when time.Time, lastError string) error
	MarkAsFailed(ctx context.Context, id int64, lastError string) error
	DeadLetter(ctx context.Context, original *models.Message, deadLetterQueueID int64, lastError string) (*models.Message, error)
	CountMessagesByStatus(ctx context.Context) (map[string]int64, error)

	CreateCron(ctx context.Context, c *models.Cron) error
	GetCron(ctx context.Context, id int64) (*models.Cron, error)
	ListCrons(ctx context.Context) ([]*models.Cron, error)
	FireCron(ctx context.Context, c *models.Cron, firings []time.Time) error

	Migrate(ctx context.Context) error
	Close() error
}
