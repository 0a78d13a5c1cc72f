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

type MessageRepository struct {
	db *pgxpool.Pool
	sb sq.StatementBuilderType
}

func NewMessageRepository(db *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// querier lets inserts run on the pool or inside a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *MessageRepository) insertMessage(ctx context.Context, q querier, msg *models.Message) error {
	if msg == nil {
		return fmt.Errorf("message is nil")
	}
	if msg.QueueID <= 0 {
		return fmt.Errorf("queue_id is empty")
	}

	headers, err := encodeHeaders(msg.Headers)
	if err != nil {
		return fmt.Errorf("encode message headers: %w", err)
	}
	if msg.When.IsZero() {
		msg.When = utcNow()
	}

	query := r.sb.
		Insert("messages").
		Columns("queue_id", "headers", "body", "deliver_at", "retries", "status").
		Values(msg.QueueID, headers, msg.Body, msg.When.UTC(), 0, models.MessageStatusPending).
		Suffix("RETURNING id, created_at")

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build message insert: %w", err)
	}

	if err := q.QueryRow(ctx, sqlStr, args...).Scan(&msg.ID, &msg.CreatedAt); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	msg.When = msg.When.UTC()
	msg.CreatedAt = msg.CreatedAt.UTC()
	msg.Status = models.MessageStatusPending
	msg.Retries = 0
	msg.SentAt = nil
	msg.LastError = nil
	return nil
}

func (r *MessageRepository) CreateMessage(ctx context.Context, msg *models.Message) error {
	return r.insertMessage(ctx, r.db, msg)
}

// CreateMessages inserts all messages or none.
func (r *MessageRepository) CreateMessages(ctx context.Context, msgs []*models.Message) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, m := range msgs {
		if err := r.insertMessage(ctx, tx, m); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *MessageRepository) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	query := r.sb.
		Select(messageColumns...).
		From("messages").
		Where(sq.Eq{"id": id}).
		Limit(1)

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get message sql: %w", err)
	}

	m, err := scanMessage(r.db.QueryRow(ctx, sqlStr, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

func (r *MessageRepository) ListMessages(ctx context.Context, queueID int64, status string, limit, offset int) ([]*models.Message, error) {
	filters := sq.And{sq.Eq{"queue_id": queueID}}
	if status != "" {
		filters = append(filters, sq.Eq{"status": status})
	}

	query := r.sb.
		Select(messageColumns...).
		From("messages").
		Where(filters).
		OrderBy("id ASC").
		Limit(uint64(normalizeLimit(limit)))
	if offset > 0 {
		query = query.Offset(uint64(offset))
	}

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list messages sql: %w", err)
	}
	return r.queryMessages(ctx, sqlStr, args)
}

// GetDueMessages returns up to limit pending messages with deliver_at <= now,
// oldest first.
func (r *MessageRepository) GetDueMessages(ctx context.Context, now time.Time, limit int) ([]*models.Message, error) {
	query := r.sb.
		Select(messageColumns...).
		From("messages").
		Where(sq.Eq{"status": models.MessageStatusPending}).
		Where(sq.Eq{"sent_at": nil}).
		Where(sq.LtOrEq{"deliver_at": now.UTC()}).
		OrderBy("deliver_at ASC", "id ASC").
		Limit(uint64(normalizeLimit(limit)))

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select due messages: %w", err)
	}
	return r.queryMessages(ctx, sqlStr, args)
}

func (r *MessageRepository) queryMessages(ctx context.Context, sqlStr string, args []any) ([]*models.Message, error) {
	rows, err := r.db.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	res := make([]*models.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		res = append(res, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return res, nil
}

// MarkAsSent is terminal: status sent, sent_at set.
func (r *MessageRepository) MarkAsSent(ctx context.Context, id int64, sentAt time.Time) error {
	query := r.sb.
		Update("messages").
		Set("status", models.MessageStatusSent).
		Set("sent_at", sentAt.UTC()).
		Set("last_error", nil).
		Where(sq.Eq{"id": id, "status": models.MessageStatusPending})

	return r.exec(ctx, query, "mark message sent")
}

// Reschedule keeps the message pending and pushes deliver_at forward.
func (r *MessageRepository) Reschedule(ctx context.Context, id int64, retries int, when time.Time, lastError string) error {
	query := r.sb.
		Update("messages").
		Set("retries", retries).
		Set("deliver_at", when.UTC()).
		Set("last_error", lastError).
		Where(sq.Eq{"id": id, "status": models.MessageStatusPending})

	return r.exec(ctx, query, "reschedule message")
}

// MarkAsFailed is terminal: the message will not be picked up again.
func (r *MessageRepository) MarkAsFailed(ctx context.Context, id int64, lastError string) error {
	if lastError == "" {
		lastError = "unknown error"
	}
	query := r.sb.
		Update("messages").
		Set("status", models.MessageStatusFailed).
		Set("last_error", lastError).
		Where(sq.Eq{"id": id, "status": models.MessageStatusPending})

	return r.exec(ctx, query, "mark message failed")
}

// DeadLetter copies original into the dead-letter queue and fails the original
// in a single transaction.
func (r *MessageRepository) DeadLetter(ctx context.Context, original *models.Message, deadLetterQueueID int64, lastError string) (*models.Message, error) {
	if original == nil {
		return nil, fmt.Errorf("message is nil")
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	copied := &models.Message{
		QueueID: deadLetterQueueID,
		Headers: original.Headers,
		Body:    original.Body,
		When:    utcNow(),
	}
	if err := r.insertMessage(ctx, tx, copied); err != nil {
		return nil, fmt.Errorf("insert dead letter: %w", err)
	}

	sqlStr, args, err := r.sb.
		Update("messages").
		Set("status", models.MessageStatusFailed).
		Set("last_error", lastError).
		Where(sq.Eq{"id": original.ID, "status": models.MessageStatusPending}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build fail original sql: %w", err)
	}

	tag, err := tx.Exec(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("fail original message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return copied, nil
}

func (r *MessageRepository) CountMessagesByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM messages GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}
	defer rows.Close()

	res := make(map[string]int64)
	for rows.Next() {
		var (
			status string
			cnt    int64
		)
		if err := rows.Scan(&status, &cnt); err != nil {
			return nil, fmt.Errorf("scan message count: %w", err)
		}
		res[status] = cnt
	}
	return res, rows.Err()
}

func (r *MessageRepository) exec(ctx context.Context, query sq.UpdateBuilder, op string) error {
	sqlStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build %s: %w", op, err)
	}

	tag, err := r.db.Exec(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
