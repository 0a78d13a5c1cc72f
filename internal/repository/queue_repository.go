package repository

import (
	"context"
	"errors"
	"fmt"

	"webhook_queue/internal/models"

	sq "github.com/Masterminds/squirrel"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type QueueRepository struct {
	db *pgxpool.Pool
	sb sq.StatementBuilderType
}

func NewQueueRepository(db *pgxpool.Pool) *QueueRepository {
	return &QueueRepository{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// CreateQueue inserts q and fills in its id and created_at.
func (r *QueueRepository) CreateQueue(ctx context.Context, q *models.Queue) error {
	if q == nil {
		return fmt.Errorf("queue is nil")
	}

	headers, err := encodeHeaders(q.Headers)
	if err != nil {
		return fmt.Errorf("encode queue headers: %w", err)
	}

	query := r.sb.
		Insert("queues").
		Columns("name", "callback_url", "method", "headers", "max_retries", "dead_letter_queue_id").
		Values(q.Name, q.CallbackURL, q.Method, headers, q.MaxRetries, q.DeadLetterQueueID).
		Suffix("RETURNING id, created_at")

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build create queue sql: %w", err)
	}

	if err := r.db.QueryRow(ctx, sqlStr, args...).Scan(&q.ID, &q.CreatedAt); err != nil {
		return fmt.Errorf("create queue: %w", err)
	}
	q.CreatedAt = q.CreatedAt.UTC()
	return nil
}

func (r *QueueRepository) GetQueue(ctx context.Context, id int64) (*models.Queue, error) {
	query := r.sb.
		Select(queueColumns...).
		From("queues").
		Where(sq.Eq{"id": id}).
		Limit(1)

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get queue sql: %w", err)
	}

	q, err := scanQueue(r.db.QueryRow(ctx, sqlStr, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get queue: %w", err)
	}
	return q, nil
}

func (r *QueueRepository) ListQueues(ctx context.Context, limit, offset int) ([]*models.Queue, error) {
	query := r.sb.
		Select(queueColumns...).
		From("queues").
		OrderBy("id ASC").
		Limit(uint64(normalizeLimit(limit)))
	if offset > 0 {
		query = query.Offset(uint64(offset))
	}

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list queues sql: %w", err)
	}

	rows, err := r.db.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query queues: %w", err)
	}
	defer rows.Close()

	res := make([]*models.Queue, 0)
	for rows.Next() {
		q, err := scanQueue(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queue row: %w", err)
		}
		res = append(res, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue rows: %w", err)
	}
	return res, nil
}
