package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"webhook_queue/internal/models"

	sq "github.com/Masterminds/squirrel"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type CronRepository struct {
	db       *pgxpool.Pool
	sb       sq.StatementBuilderType
	messages *MessageRepository
}

func NewCronRepository(db *pgxpool.Pool) *CronRepository {
	return &CronRepository{
		db:       db,
		sb:       sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		messages: NewMessageRepository(db),
	}
}

// CreateCron inserts c. A zero watermark starts at the creation second so
// the first firing is the next schedule boundary.
func (r *CronRepository) CreateCron(ctx context.Context, c *models.Cron) error {
	if c == nil {
		return fmt.Errorf("cron is nil")
	}

	headers, err := encodeHeaders(c.Headers)
	if err != nil {
		return fmt.Errorf("encode cron headers: %w", err)
	}

	now := utcNow()
	if c.Watermark.IsZero() {
		c.Watermark = now.Truncate(time.Second)
	}

	query := r.sb.
		Insert("crons").
		Columns("queue_id", "headers", "body", "schedule", "watermark", "created_at").
		Values(c.QueueID, headers, c.Body, c.Schedule, c.Watermark.UTC(), now).
		Suffix("RETURNING id")

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build create cron sql: %w", err)
	}

	if err := r.db.QueryRow(ctx, sqlStr, args...).Scan(&c.ID); err != nil {
		return fmt.Errorf("create cron: %w", err)
	}
	c.Watermark = c.Watermark.UTC()
	c.CreatedAt = now
	return nil
}

func (r *CronRepository) GetCron(ctx context.Context, id int64) (*models.Cron, error) {
	sqlStr, args, err := r.sb.
		Select(cronColumns...).
		From("crons").
		Where(sq.Eq{"id": id}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get cron sql: %w", err)
	}

	c, err := scanCron(r.db.QueryRow(ctx, sqlStr, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get cron: %w", err)
	}
	return c, nil
}

func (r *CronRepository) ListCrons(ctx context.Context) ([]*models.Cron, error) {
	sqlStr, args, err := r.sb.
		Select(cronColumns...).
		From("crons").
		OrderBy("id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list crons sql: %w", err)
	}

	rows, err := r.db.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query crons: %w", err)
	}
	defer rows.Close()

	res := make([]*models.Cron, 0)
	for rows.Next() {
		c, err := scanCron(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cron row: %w", err)
		}
		res = append(res, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cron rows: %w", err)
	}
	return res, nil
}

// FireCron materializes one message per firing and moves the watermark to
// the last firing. The watermark update is conditional on c.Watermark still
// being current; otherwise nothing is written and ErrWatermarkMoved is returned.
func (r *CronRepository) FireCron(ctx context.Context, c *models.Cron, firings []time.Time) error {
	if len(firings) == 0 {
		return nil
	}
	next := firings[len(firings)-1].UTC()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	sqlStr, args, err := r.sb.
		Update("crons").
		Set("watermark", next).
		Where(sq.Eq{"id": c.ID, "watermark": c.Watermark.UTC()}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build advance watermark sql: %w", err)
	}

	tag, err := tx.Exec(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("advance watermark: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrWatermarkMoved
	}

	for _, at := range firings {
		m := &models.Message{
			QueueID: c.QueueID,
			Headers: c.Headers,
			Body:    c.Body,
			When:    at.UTC(),
		}
		if err := r.messages.insertMessage(ctx, tx, m); err != nil {
			return fmt.Errorf("insert cron message: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	c.Watermark = next
	return nil
}
