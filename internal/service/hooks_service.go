package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"webhook_queue/internal/models"
	"webhook_queue/internal/repository"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrInvalidCron     = errors.New("Invalid cron expression")
	ErrQueueNotFound   = errors.New("queue not found")
	ErrDeadLetterCycle = errors.New("dead letter queue cycle")
)

var allowedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// maxDeadLetterDepth bounds the walk along dead_letter_queue_id links.
const maxDeadLetterDepth = 64

// HooksService validates admin writes before they reach the store.
type HooksService struct {
	store  repository.Store
	logger *slog.Logger
	now    func() time.Time
}

func NewHooksService(store repository.Store, logger *slog.Logger) *HooksService {
	if logger == nil {
		logger = slog.Default()
	}
	return &HooksService{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *HooksService) CreateQueue(ctx context.Context, req *models.CreateQueueRequest) (*models.Queue, error) {
	if err := validateQueueRequest(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	q := &models.Queue{
		Name:              strings.TrimSpace(req.Name),
		CallbackURL:       strings.TrimSpace(req.CallbackURL),
		Method:            strings.ToUpper(strings.TrimSpace(req.Method)),
		Headers:           req.Headers,
		MaxRetries:        models.DefaultMaxRetries,
		DeadLetterQueueID: req.DeadLetterQueueID,
	}
	if q.Method == "" {
		q.Method = http.MethodPost
	}
	if req.MaxRetries != nil {
		q.MaxRetries = *req.MaxRetries
	}

	if q.DeadLetterQueueID != nil {
		if err := s.checkDeadLetterChain(ctx, *q.DeadLetterQueueID); err != nil {
			return nil, err
		}
	}

	if err := s.store.CreateQueue(ctx, q); err != nil {
		return nil, fmt.Errorf("create queue: %w", err)
	}
	s.logger.Info("queue created", "queue_id", q.ID, "name", q.Name)
	return q, nil
}

// checkDeadLetterChain follows dead-letter links from id and rejects missing
// targets and loops.
func (s *HooksService) checkDeadLetterChain(ctx context.Context, id int64) error {
	seen := make(map[int64]bool)
	next := &id
	for depth := 0; next != nil; depth++ {
		if seen[*next] || depth > maxDeadLetterDepth {
			return fmt.Errorf("%w: queue %d", ErrDeadLetterCycle, *next)
		}
		seen[*next] = true

		q, err := s.store.GetQueue(ctx, *next)
		if errors.Is(err, repository.ErrNotFound) {
			if *next == id {
				return fmt.Errorf("%w: dead letter queue %d", ErrQueueNotFound, id)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("get dead letter queue: %w", err)
		}
		next = q.DeadLetterQueueID
	}
	return nil
}

func (s *HooksService) GetQueue(ctx context.Context, id int64) (*models.Queue, error) {
	q, err := s.store.GetQueue(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrQueueNotFound
	}
	return q, err
}

func (s *HooksService) ListQueues(ctx context.Context, limit, offset int) ([]*models.Queue, error) {
	if offset < 0 {
		return nil, fmt.Errorf("%w: offset must be >= 0", ErrInvalidInput)
	}
	return s.store.ListQueues(ctx, limit, offset)
}

// Enqueue stores one message for queueID.
func (s *HooksService) Enqueue(ctx context.Context, queueID int64, req *models.EnqueueRequest) (*models.Message, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: request is nil", ErrInvalidInput)
	}
	msgs, err := s.EnqueueBatch(ctx, queueID, []models.EnqueueRequest{*req})
	if err != nil {
		return nil, err
	}
	return msgs[0], nil
}

// EnqueueBatch stores all messages or none.
func (s *HooksService) EnqueueBatch(ctx context.Context, queueID int64, reqs []models.EnqueueRequest) ([]*models.Message, error) {
	if len(reqs) == 0 {
		return nil, fmt.Errorf("%w: no messages", ErrInvalidInput)
	}

	queue, err := s.GetQueue(ctx, queueID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	msgs := make([]*models.Message, 0, len(reqs))
	for i, r := range reqs {
		body, err := models.BodyText(r.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: message %d: body: %v", ErrInvalidInput, i, err)
		}
		if err := checkPayload(queue, r.Headers, body); err != nil {
			return nil, fmt.Errorf("%w: message %d: %v", ErrInvalidInput, i, err)
		}

		m := &models.Message{
			QueueID: queueID,
			Headers: r.Headers,
			Body:    body,
			When:    now,
		}
		if r.When != nil && !r.When.IsZero() {
			m.When = r.When.UTC()
		}
		msgs = append(msgs, m)
	}

	if err := s.store.CreateMessages(ctx, msgs); err != nil {
		return nil, fmt.Errorf("create messages: %w", err)
	}
	s.logger.Debug("messages enqueued", "queue_id", queueID, "count", len(msgs))
	return msgs, nil
}

func (s *HooksService) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	return s.store.GetMessage(ctx, id)
}

func (s *HooksService) ListMessages(ctx context.Context, queueID int64, status string, limit, offset int) ([]*models.Message, error) {
	switch status {
	case "", models.MessageStatusPending, models.MessageStatusSent, models.MessageStatusFailed:
	default:
		return nil, fmt.Errorf("%w: status must be pending|sent|failed", ErrInvalidInput)
	}
	if offset < 0 {
		return nil, fmt.Errorf("%w: offset must be >= 0", ErrInvalidInput)
	}
	if _, err := s.GetQueue(ctx, queueID); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, queueID, status, limit, offset)
}

// CreateCron validates the schedule before anything is written.
func (s *HooksService) CreateCron(ctx context.Context, req *models.CreateCronRequest) (*models.Cron, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: request is nil", ErrInvalidInput)
	}
	schedule := strings.TrimSpace(req.Schedule)
	if _, err := ParseSchedule(schedule); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCron, err)
	}

	queue, err := s.GetQueue(ctx, req.QueueID)
	if err != nil {
		return nil, err
	}

	body, err := models.BodyText(req.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: body: %v", ErrInvalidInput, err)
	}
	if err := checkPayload(queue, req.Headers, body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	c := &models.Cron{
		QueueID:  req.QueueID,
		Headers:  req.Headers,
		Body:     body,
		Schedule: schedule,
	}
	if err := s.store.CreateCron(ctx, c); err != nil {
		return nil, fmt.Errorf("create cron: %w", err)
	}
	s.logger.Info("cron created", "cron_id", c.ID, "queue_id", c.QueueID, "schedule", c.Schedule)
	return c, nil
}

func (s *HooksService) GetCron(ctx context.Context, id int64) (*models.Cron, error) {
	return s.store.GetCron(ctx, id)
}

func (s *HooksService) ListCrons(ctx context.Context) ([]*models.Cron, error) {
	return s.store.ListCrons(ctx)
}

// checkPayload rejects bodies the delivery engine could never send.
func checkPayload(queue *models.Queue, headers map[string]string, body string) error {
	_, err := models.ResolvePayload(models.MergeHeaders(queue.Headers, headers), body)
	return err
}

func validateQueueRequest(req *models.CreateQueueRequest) error {
	if req == nil {
		return errors.New("request is nil")
	}
	if strings.TrimSpace(req.Name) == "" {
		return errors.New("name is required")
	}
	u, err := url.Parse(strings.TrimSpace(req.CallbackURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("callback_url must be an absolute http(s) url")
	}
	if m := strings.ToUpper(strings.TrimSpace(req.Method)); m != "" && !allowedMethods[m] {
		return fmt.Errorf("method %q is not supported", req.Method)
	}
	if req.MaxRetries != nil && *req.MaxRetries < 0 {
		return errors.New("max_retries must be >= 0")
	}
	return nil
}
