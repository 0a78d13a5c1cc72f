package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"webhook_queue/internal/metrics"
	"webhook_queue/internal/models"
	"webhook_queue/internal/repository"

	cronlib "github.com/robfig/cron/v3"
)

// DefaultMaxFirings bounds how many messages one cron may produce per tick,
// e.g. after a long outage with a per-second schedule.
const DefaultMaxFirings = 1000

// cronParser accepts 5 or 6 fields (leading seconds) and descriptors like "@hourly".
var cronParser = cronlib.NewParser(
	cronlib.SecondOptional | cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

type CronStore interface {
	ListCrons(ctx context.Context) ([]*models.Cron, error)
	FireCron(ctx context.Context, c *models.Cron, firings []time.Time) error
}

// CronScheduler turns cron firings into messages while this process leads.
// Each cron's watermark records the last firing already materialized.
type CronScheduler struct {
	store      CronStore
	leader     Leadership
	poll       time.Duration
	maxFirings int
	logger     *slog.Logger
	now        func() time.Time

	parsedMu sync.RWMutex
	parsed   map[string]cronlib.Schedule
}

func NewCronScheduler(store CronStore, leader Leadership, poll time.Duration, logger *slog.Logger) *CronScheduler {
	if poll <= 0 {
		poll = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CronScheduler{
		store:      store,
		leader:     leader,
		poll:       poll,
		maxFirings: DefaultMaxFirings,
		logger:     logger.With("component", "cron"),
		now:        func() time.Time { return time.Now().UTC() },
		parsed:     make(map[string]cronlib.Schedule),
	}
}

func (s *CronScheduler) Run(ctx context.Context) error {
	s.logger.Info("cron scheduler started", "poll", s.poll)
	defer s.logger.Info("cron scheduler stopped")

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !s.leader.IsLeader() {
				continue
			}
			if _, err := s.TickOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("cron tick failed", "error", err)
			}
		}
	}
}

// TickOnce fires every cron that is due and returns the number of messages
// created.
func (s *CronScheduler) TickOnce(ctx context.Context) (int, error) {
	crons, err := s.store.ListCrons(ctx)
	if err != nil {
		return 0, fmt.Errorf("list crons: %w", err)
	}

	now := s.now()
	total := 0
	for _, c := range crons {
		if ctx.Err() != nil || !s.leader.IsLeader() {
			break
		}
		total += s.fire(ctx, c, now)
	}
	return total, nil
}

func (s *CronScheduler) fire(ctx context.Context, c *models.Cron, now time.Time) int {
	log := s.logger.With("cron_id", c.ID, "queue_id", c.QueueID)

	sched, err := s.schedule(c.Schedule)
	if err != nil {
		// rows are validated on create; this only happens with hand-edited data
		log.Error("parse cron schedule", "schedule", c.Schedule, "error", err)
		return 0
	}

	firings := Firings(sched, c.Watermark, now, s.maxFirings)
	if len(firings) == 0 {
		return 0
	}

	if err := s.store.FireCron(ctx, c, firings); err != nil {
		if errors.Is(err, repository.ErrWatermarkMoved) {
			log.Debug("cron already fired elsewhere")
			return 0
		}
		log.Error("fire cron", "error", err)
		return 0
	}

	metrics.AddCronFirings(len(firings))
	log.Debug("cron fired", "messages", len(firings), "watermark", c.Watermark)
	return len(firings)
}

// Firings lists schedule times strictly after watermark and not after now,
// at most limit of them.
func Firings(sched cronlib.Schedule, watermark, now time.Time, limit int) []time.Time {
	var out []time.Time
	for t := sched.Next(watermark); !t.IsZero() && !t.After(now); t = sched.Next(t) {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, t.UTC())
	}
	return out
}

func (s *CronScheduler) schedule(expr string) (cronlib.Schedule, error) {
	s.parsedMu.RLock()
	sched, ok := s.parsed[expr]
	s.parsedMu.RUnlock()
	if ok {
		return sched, nil
	}

	sched, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}

	s.parsedMu.Lock()
	s.parsed[expr] = sched
	s.parsedMu.Unlock()
	return sched, nil
}
