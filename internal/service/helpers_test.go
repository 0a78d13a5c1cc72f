package service

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"webhook_queue/internal/kafka"
	"webhook_queue/internal/models"
	"webhook_queue/internal/repository"
)

type fakeLeader struct{ leader atomic.Bool }

func newLeader(v bool) *fakeLeader {
	l := &fakeLeader{}
	l.leader.Store(v)
	return l
}

func (l *fakeLeader) IsLeader() bool { return l.leader.Load() }

// fakeClock is shared by the engine and the scheduler under test.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock { return &fakeClock{t: time.Now().UTC()} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type receivedRequest struct {
	Method      string
	Path        string
	ContentType string
	Header      http.Header
	Body        string
}

// target is an httptest webhook receiver that answers with the status
// returned by respond.
type target struct {
	*httptest.Server

	mu       sync.Mutex
	requests []receivedRequest
	respond  func(n int) int
}

func newTarget(t *testing.T, respond func(n int) int) *target {
	t.Helper()
	tg := &target{respond: respond}
	tg.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)

		tg.mu.Lock()
		tg.requests = append(tg.requests, receivedRequest{
			Method:      r.Method,
			Path:        r.URL.Path,
			ContentType: r.Header.Get("Content-Type"),
			Header:      r.Header.Clone(),
			Body:        string(b),
		})
		n := len(tg.requests)
		tg.mu.Unlock()

		status := http.StatusOK
		if tg.respond != nil {
			status = tg.respond(n)
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(tg.Close)
	return tg
}

func (tg *target) Requests() []receivedRequest {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	return append([]receivedRequest(nil), tg.requests...)
}

func alwaysOK(int) int   { return http.StatusOK }
func alwaysFail(int) int { return http.StatusInternalServerError }

func failFirst(n int) int {
	if n == 1 {
		return http.StatusBadGateway
	}
	return http.StatusOK
}

func newStore(t *testing.T) *repository.SQLiteStore {
	t.Helper()
	ctx := context.Background()
	s, err := repository.NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "hooks.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return s
}

func mustQueue(t *testing.T, s repository.Store, q *models.Queue) *models.Queue {
	t.Helper()
	if q.Method == "" {
		q.Method = http.MethodPost
	}
	if err := s.CreateQueue(context.Background(), q); err != nil {
		t.Fatalf("CreateQueue: %v", err)
	}
	return q
}

func mustMessage(t *testing.T, s repository.Store, m *models.Message) *models.Message {
	t.Helper()
	if err := s.CreateMessage(context.Background(), m); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	return m
}

func mustGet(t *testing.T, s repository.Store, id int64) *models.Message {
	t.Helper()
	m, err := s.GetMessage(context.Background(), id)
	if err != nil {
		t.Fatalf("GetMessage(%d): %v", id, err)
	}
	return m
}

func newTestEngine(s repository.Store, clock *fakeClock, cfg DeliveryConfig, opts ...DeliveryOption) *DeliveryEngine {
	e := NewDeliveryEngine(s, s, newLeader(true), cfg, nil, opts...)
	e.now = clock.Now
	return e
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []kafka.DeliveryEvent
}

func (p *recordingPublisher) Publish(ev kafka.DeliveryEvent) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
}

func (p *recordingPublisher) Outcomes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Outcome)
	}
	return out
}
