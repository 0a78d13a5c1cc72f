package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"webhook_queue/internal/backoff"
	"webhook_queue/internal/kafka"
	"webhook_queue/internal/metrics"
	"webhook_queue/internal/models"
	"webhook_queue/internal/repository"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const tracerName = "webhook_queue/delivery"

// Leadership is the view of the election the background loops need.
type Leadership interface {
	IsLeader() bool
}

type QueueLookup interface {
	GetQueue(ctx context.Context, id int64) (*models.Queue, error)
}

// MessageStore is the part of the store the delivery engine writes to.
type MessageStore interface {
	GetDueMessages(ctx context.Context, now time.Time, limit int) ([]*models.Message, error)
	MarkAsSent(ctx context.Context, id int64, sentAt time.Time) error
	Reschedule(ctx context.Context, id int64, retries int, when time.Time, lastError string) error
	MarkAsFailed(ctx context.Context, id int64, lastError string) error
	DeadLetter(ctx context.Context, original *models.Message, deadLetterQueueID int64, lastError string) (*models.Message, error)
}

type DeliveryConfig struct {
	PollInterval time.Duration
	Timeout      time.Duration
	BatchSize    int
	// Workers > 1 delivers different queues in parallel; messages of one
	// queue are still delivered in order.
	Workers int
	// RatePerSecond caps outbound calls across all queues. 0 means no cap.
	RatePerSecond float64
}

type DeliveryOption func(*DeliveryEngine)

func WithHTTPClient(c *http.Client) DeliveryOption {
	return func(e *DeliveryEngine) { e.client = c }
}

func WithEventPublisher(p EventPublisher) DeliveryOption {
	return func(e *DeliveryEngine) { e.events = p }
}

func WithTracer(t trace.Tracer) DeliveryOption {
	return func(e *DeliveryEngine) { e.tracer = t }
}

// DeliveryEngine polls due messages and calls their queue's webhook. It is
// idle unless leader reports this process as the leader.
type DeliveryEngine struct {
	store   MessageStore
	queues  QueueLookup
	leader  Leadership
	cfg     DeliveryConfig
	client  *http.Client
	limiter *rate.Limiter
	events  EventPublisher
	tracer  trace.Tracer
	logger  *slog.Logger
	now     func() time.Time
}

func NewDeliveryEngine(
	store MessageStore,
	queues QueueLookup,
	leader Leadership,
	cfg DeliveryConfig,
	logger *slog.Logger,
	opts ...DeliveryOption,
) *DeliveryEngine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	e := &DeliveryEngine{
		store:  store,
		queues: queues,
		leader: leader,
		cfg:    cfg,
		logger: logger.With("component", "delivery"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.client == nil {
		e.client = &http.Client{Timeout: cfg.Timeout}
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}
	if cfg.RatePerSecond > 0 {
		burst := int(cfg.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return e
}

// Run polls until ctx is cancelled.
func (e *DeliveryEngine) Run(ctx context.Context) error {
	e.logger.Info("delivery engine started", "poll", e.cfg.PollInterval, "workers", e.cfg.Workers)
	defer e.logger.Info("delivery engine stopped")

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !e.leader.IsLeader() {
				continue
			}
			if _, err := e.FlushOnce(ctx); err != nil && ctx.Err() == nil {
				e.logger.Error("delivery tick failed", "error", err)
			}
		}
	}
}

// FlushOnce processes one batch of due messages, oldest first, and returns
// how many were attempted. A store error aborts the tick.
func (e *DeliveryEngine) FlushOnce(ctx context.Context) (int, error) {
	msgs, err := e.store.GetDueMessages(ctx, e.now(), e.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("get due messages: %w", err)
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	if e.cfg.Workers <= 1 {
		return e.deliverSequence(ctx, msgs), nil
	}

	// partition by queue, keeping the due order inside each queue
	var (
		order   []int64
		byQueue = make(map[int64][]*models.Message)
	)
	for _, m := range msgs {
		if _, ok := byQueue[m.QueueID]; !ok {
			order = append(order, m.QueueID)
		}
		byQueue[m.QueueID] = append(byQueue[m.QueueID], m)
	}

	counts := make([]int, len(order))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for i, qid := range order {
		batch := byQueue[qid]
		g.Go(func() error {
			counts[i] = e.deliverSequence(gctx, batch)
			return nil
		})
	}
	_ = g.Wait()

	total := 0
	for _, n := range counts {
		total += n
	}
	return total, nil
}

func (e *DeliveryEngine) deliverSequence(ctx context.Context, msgs []*models.Message) int {
	n := 0
	for _, m := range msgs {
		// stop mid-batch on shutdown or when another process took over
		if ctx.Err() != nil || !e.leader.IsLeader() {
			break
		}
		if !m.Due(e.now()) {
			e.logger.Debug("skipping message that is not due", "message_id", m.ID, "status", m.Status)
			continue
		}
		e.deliver(ctx, m)
		n++
	}
	return n
}

type attemptError struct {
	status int
	err    error
}

func (a *attemptError) Error() string {
	if a.status != 0 {
		return fmt.Sprintf("unexpected status %d", a.status)
	}
	return a.err.Error()
}

func (a *attemptError) Unwrap() error { return a.err }

func (e *DeliveryEngine) deliver(ctx context.Context, m *models.Message) {
	log := e.logger.With("message_id", m.ID, "queue_id", m.QueueID)

	queue, err := e.queues.GetQueue(ctx, m.QueueID)
	if errors.Is(err, repository.ErrNotFound) {
		log.Warn("queue not found, failing message")
		e.markFailed(ctx, log, m, &attemptError{err: err}, "queue not found")
		return
	}
	if err != nil {
		log.Error("load queue", "error", err)
		return
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return
		}
	}

	ctx, span := e.tracer.Start(ctx, "hooks.deliver",
		trace.WithAttributes(
			attribute.Int64("hooks.message.id", m.ID),
			attribute.Int64("hooks.queue.id", queue.ID),
			attribute.String("hooks.queue.name", queue.Name),
			attribute.Int("hooks.retries", m.Retries),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	metrics.ObserveDeliveryLag(e.now().Sub(m.When))

	attemptErr := e.call(ctx, queue, m)
	if attemptErr != nil && ctx.Err() != nil {
		// shutting down: leave the message pending for the next leader
		span.SetStatus(codes.Error, "cancelled")
		return
	}

	if attemptErr == nil {
		span.SetStatus(codes.Ok, "")
		if err := e.store.MarkAsSent(ctx, m.ID, e.now()); err != nil {
			log.Error("mark message sent", "error", err)
			return
		}
		log.Debug("message delivered")
		metrics.IncDelivery(kafka.OutcomeSent)
		e.emit(m, kafka.OutcomeSent, 0, "", nil, 0)
		return
	}

	span.RecordError(attemptErr)
	span.SetStatus(codes.Error, attemptErr.Error())
	e.fail(ctx, log, queue, m, attemptErr)
}

// call performs the outbound request. Any non-2xx answer is an error.
func (e *DeliveryEngine) call(ctx context.Context, queue *models.Queue, m *models.Message) *attemptError {
	headers := models.MergeHeaders(queue.Headers, m.Headers)
	payload, err := models.ResolvePayload(headers, m.Body)
	if err != nil {
		return &attemptError{err: err}
	}

	method := strings.ToUpper(queue.Method)
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	if b := payload.Bytes(); len(b) > 0 {
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, queue.CallbackURL, body)
	if err != nil {
		return &attemptError{err: fmt.Errorf("build request: %w", err)}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", payload.ContentType)

	start := time.Now()
	resp, err := e.client.Do(req)
	metrics.ObserveDeliveryDuration(time.Since(start))
	if err != nil {
		return &attemptError{err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &attemptError{status: resp.StatusCode, err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	return nil
}

// fail applies the backoff policy: reschedule, dead-letter, or give up.
func (e *DeliveryEngine) fail(ctx context.Context, log *slog.Logger, queue *models.Queue, m *models.Message, attemptErr *attemptError) {
	reason := attemptErr.Error()

	step, ok, err := backoff.Compute(m.Retries, queue.MaxRetries)
	if err != nil {
		log.Error("invalid retry policy, failing message", "max_retries", queue.MaxRetries, "error", err)
		e.markFailed(ctx, log, m, attemptErr, reason)
		return
	}

	if ok {
		next := e.now().Add(step.WaitFor)
		if err := e.store.Reschedule(ctx, m.ID, step.Retries, next, reason); err != nil {
			log.Error("reschedule message", "error", err)
			return
		}
		log.Info("delivery failed, retrying", "retries", step.Retries, "wait", step.WaitFor, "error", reason)
		metrics.IncDelivery(kafka.OutcomeRetry)
		e.emit(m, kafka.OutcomeRetry, attemptErr.status, reason, &next, 0)
		return
	}

	if queue.DeadLetterQueueID == nil {
		log.Warn("retries exhausted", "retries", m.Retries, "error", reason)
		e.markFailed(ctx, log, m, attemptErr, reason)
		return
	}

	dlqID := *queue.DeadLetterQueueID
	if _, err := e.queues.GetQueue(ctx, dlqID); err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			log.Error("load dead letter queue", "dead_letter_queue_id", dlqID, "error", err)
			return
		}
		log.Warn("dead letter queue missing", "dead_letter_queue_id", dlqID)
		e.markFailed(ctx, log, m, attemptErr, reason)
		return
	}

	copied, err := e.store.DeadLetter(ctx, m, dlqID, reason)
	if err != nil {
		log.Error("dead letter message", "dead_letter_queue_id", dlqID, "error", err)
		return
	}
	log.Warn("retries exhausted, moved to dead letter queue",
		"dead_letter_queue_id", dlqID,
		"dead_letter_message_id", copied.ID,
		"error", reason,
	)
	metrics.IncDelivery(kafka.OutcomeDeadLetter)
	e.emit(m, kafka.OutcomeDeadLetter, attemptErr.status, reason, nil, copied.ID)
}

func (e *DeliveryEngine) markFailed(ctx context.Context, log *slog.Logger, m *models.Message, attemptErr *attemptError, reason string) {
	if err := e.store.MarkAsFailed(ctx, m.ID, reason); err != nil {
		log.Error("mark message failed", "error", err)
		return
	}
	metrics.IncDelivery(kafka.OutcomeFailed)
	e.emit(m, kafka.OutcomeFailed, attemptErr.status, reason, nil, 0)
}

func (e *DeliveryEngine) emit(m *models.Message, outcome string, status int, reason string, next *time.Time, dlqMessageID int64) {
	if e.events == nil {
		return
	}
	e.events.Publish(kafka.DeliveryEvent{
		MessageID:           m.ID,
		QueueID:             m.QueueID,
		Outcome:             outcome,
		Attempt:             m.Retries + 1,
		StatusCode:          status,
		Error:               reason,
		NextTry:             next,
		OccurredAt:          e.now(),
		DeadLetterMessageID: dlqMessageID,
	})
}
