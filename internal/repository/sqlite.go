package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"webhook_queue/internal/models"

	sq "github.com/Masterminds/squirrel"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is the Store backed by a single SQLite file. Times are
// written in UTC so the driver's text encoding sorts chronologically.
type SQLiteStore struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

var _ Store = (*SQLiteStore)(nil)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("empty sqlite path")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite %q: %w", pragma, err)
		}
	}

	return &SQLiteStore{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Question),
	}, nil
}

func (s *SQLiteStore) DB() *sql.DB { return s.db }

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	for i, stmt := range sqliteSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i+1, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateQueue(ctx context.Context, q *models.Queue) error {
	if q == nil {
		return fmt.Errorf("queue is nil")
	}

	headers, err := encodeHeaders(q.Headers)
	if err != nil {
		return fmt.Errorf("encode queue headers: %w", err)
	}
	now := utcNow()

	sqlStr, args, err := s.sb.
		Insert("queues").
		Columns("name", "callback_url", "method", "headers", "max_retries", "dead_letter_queue_id", "created_at").
		Values(q.Name, q.CallbackURL, q.Method, string(headers), q.MaxRetries, q.DeadLetterQueueID, now).
		ToSql()
	if err != nil {
		return fmt.Errorf("build create queue sql: %w", err)
	}

	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("create queue: %w", err)
	}
	if q.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("queue id: %w", err)
	}
	q.CreatedAt = now
	return nil
}

func (s *SQLiteStore) GetQueue(ctx context.Context, id int64) (*models.Queue, error) {
	sqlStr, args, err := s.sb.
		Select(queueColumns...).
		From("queues").
		Where(sq.Eq{"id": id}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get queue sql: %w", err)
	}

	q, err := scanQueue(s.db.QueryRowContext(ctx, sqlStr, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get queue: %w", err)
	}
	return q, nil
}

func (s *SQLiteStore) ListQueues(ctx context.Context, limit, offset int) ([]*models.Queue, error) {
	query := s.sb.
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

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
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
	return res, rows.Err()
}

func (s *SQLiteStore) insertMessage(ctx context.Context, ex execer, msg *models.Message) error {
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
	now := utcNow()
	if msg.When.IsZero() {
		msg.When = now
	}
	msg.When = msg.When.UTC()

	sqlStr, args, err := s.sb.
		Insert("messages").
		Columns("queue_id", "headers", "body", "deliver_at", "retries", "status", "created_at").
		Values(msg.QueueID, string(headers), msg.Body, msg.When, 0, models.MessageStatusPending, now).
		ToSql()
	if err != nil {
		return fmt.Errorf("build message insert: %w", err)
	}

	res, err := ex.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if msg.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("message id: %w", err)
	}

	msg.CreatedAt = now
	msg.Status = models.MessageStatusPending
	msg.Retries = 0
	msg.SentAt = nil
	msg.LastError = nil
	return nil
}

func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	return s.insertMessage(ctx, s.db, msg)
}

func (s *SQLiteStore) CreateMessages(ctx context.Context, msgs []*models.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, m := range msgs {
		if err := s.insertMessage(ctx, tx, m); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	sqlStr, args, err := s.sb.
		Select(messageColumns...).
		From("messages").
		Where(sq.Eq{"id": id}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get message sql: %w", err)
	}

	m, err := scanMessage(s.db.QueryRowContext(ctx, sqlStr, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, queueID int64, status string, limit, offset int) ([]*models.Message, error) {
	filters := sq.And{sq.Eq{"queue_id": queueID}}
	if status != "" {
		filters = append(filters, sq.Eq{"status": status})
	}

	query := s.sb.
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
	return s.queryMessages(ctx, sqlStr, args)
}

func (s *SQLiteStore) GetDueMessages(ctx context.Context, now time.Time, limit int) ([]*models.Message, error) {
	sqlStr, args, err := s.sb.
		Select(messageColumns...).
		From("messages").
		Where(sq.Eq{"status": models.MessageStatusPending}).
		Where(sq.Eq{"sent_at": nil}).
		Where(sq.LtOrEq{"deliver_at": now.UTC()}).
		OrderBy("deliver_at ASC", "id ASC").
		Limit(uint64(normalizeLimit(limit))).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select due messages: %w", err)
	}
	return s.queryMessages(ctx, sqlStr, args)
}

func (s *SQLiteStore) queryMessages(ctx context.Context, sqlStr string, args []any) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
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

func (s *SQLiteStore) MarkAsSent(ctx context.Context, id int64, sentAt time.Time) error {
	return s.update(ctx, s.db, s.sb.
		Update("messages").
		Set("status", models.MessageStatusSent).
		Set("sent_at", sentAt.UTC()).
		Set("last_error", nil).
		Where(sq.Eq{"id": id, "status": models.MessageStatusPending}), "mark message sent")
}

func (s *SQLiteStore) Reschedule(ctx context.Context, id int64, retries int, when time.Time, lastError string) error {
	return s.update(ctx, s.db, s.sb.
		Update("messages").
		Set("retries", retries).
		Set("deliver_at", when.UTC()).
		Set("last_error", lastError).
		Where(sq.Eq{"id": id, "status": models.MessageStatusPending}), "reschedule message")
}

func (s *SQLiteStore) MarkAsFailed(ctx context.Context, id int64, lastError string) error {
	if lastError == "" {
		lastError = "unknown error"
	}
	return s.update(ctx, s.db, s.failQuery(id, lastError), "mark message failed")
}

func (s *SQLiteStore) failQuery(id int64, lastError string) sq.UpdateBuilder {
	return s.sb.
		Update("messages").
		Set("status", models.MessageStatusFailed).
		Set("last_error", lastError).
		Where(sq.Eq{"id": id, "status": models.MessageStatusPending})
}

func (s *SQLiteStore) DeadLetter(ctx context.Context, original *models.Message, deadLetterQueueID int64, lastError string) (*models.Message, error) {
	if original == nil {
		return nil, fmt.Errorf("message is nil")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	copied := &models.Message{
		QueueID: deadLetterQueueID,
		Headers: original.Headers,
		Body:    original.Body,
		When:    utcNow(),
	}
	if err := s.insertMessage(ctx, tx, copied); err != nil {
		return nil, fmt.Errorf("insert dead letter: %w", err)
	}
	if err := s.update(ctx, tx, s.failQuery(original.ID, lastError), "fail original message"); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return copied, nil
}

func (s *SQLiteStore) CountMessagesByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM messages GROUP BY status`)
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

func (s *SQLiteStore) CreateCron(ctx context.Context, c *models.Cron) error {
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
	c.Watermark = c.Watermark.UTC()

	sqlStr, args, err := s.sb.
		Insert("crons").
		Columns("queue_id", "headers", "body", "schedule", "watermark", "created_at").
		Values(c.QueueID, string(headers), c.Body, c.Schedule, c.Watermark, now).
		ToSql()
	if err != nil {
		return fmt.Errorf("build create cron sql: %w", err)
	}

	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("create cron: %w", err)
	}
	if c.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("cron id: %w", err)
	}
	c.CreatedAt = now
	return nil
}

func (s *SQLiteStore) GetCron(ctx context.Context, id int64) (*models.Cron, error) {
	sqlStr, args, err := s.sb.
		Select(cronColumns...).
		From("crons").
		Where(sq.Eq{"id": id}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get cron sql: %w", err)
	}

	c, err := scanCron(s.db.QueryRowContext(ctx, sqlStr, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get cron: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) ListCrons(ctx context.Context) ([]*models.Cron, error) {
	sqlStr, args, err := s.sb.
		Select(cronColumns...).
		From("crons").
		OrderBy("id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list crons sql: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
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
	return res, rows.Err()
}

func (s *SQLiteStore) FireCron(ctx context.Context, c *models.Cron, firings []time.Time) error {
	if len(firings) == 0 {
		return nil
	}
	next := firings[len(firings)-1].UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	err = s.update(ctx, tx, s.sb.
		Update("crons").
		Set("watermark", next).
		Where(sq.Eq{"id": c.ID, "watermark": c.Watermark.UTC()}), "advance watermark")
	if errors.Is(err, ErrNotFound) {
		return ErrWatermarkMoved
	}
	if err != nil {
		return err
	}

	for _, at := range firings {
		m := &models.Message{
			QueueID: c.QueueID,
			Headers: c.Headers,
			Body:    c.Body,
			When:    at,
		}
		if err := s.insertMessage(ctx, tx, m); err != nil {
			return fmt.Errorf("insert cron message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	c.Watermark = next
	return nil
}

func (s *SQLiteStore) update(ctx context.Context, ex execer, query sq.UpdateBuilder, op string) error {
	sqlStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build %s: %w", op, err)
	}

	res, err := ex.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows: %w", op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
