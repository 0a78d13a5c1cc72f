package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"webhook_queue/internal/kafka"
	"webhook_queue/internal/models"
	"webhook_queue/internal/repository"
)

func TestDeliveryEngine_DeliversOnce(t *testing.T) {
	ctx := context.Background()
	tg := newTarget(t, alwaysOK)
	s := newStore(t)
	clock := newClock()

	q := mustQueue(t, s, &models.Queue{
		Name:        "orders",
		CallbackURL: tg.URL + "/hook",
		Headers:     map[string]string{"X-Token": "secret"},
		MaxRetries:  5,
	})
	m := mustMessage(t, s, &models.Message{QueueID: q.ID, Body: `{"hello": "world"}`, When: clock.Now()})

	e := newTestEngine(s, clock, DeliveryConfig{})

	n, err := e.FlushOnce(ctx)
	if err != nil {
		t.Fatalf("FlushOnce: %v", err)
	}
	if n != 1 {
		t.Fatalf("attempted %d messages, want 1", n)
	}

	clock.Advance(time.Second)
	if n, err := e.FlushOnce(ctx); err != nil || n != 0 {
		t.Fatalf("second FlushOnce = %d, %v", n, err)
	}

	reqs := tg.Requests()
	if len(reqs) != 1 {
		t.Fatalf("callback hit %d times, want 1", len(reqs))
	}
	r := reqs[0]
	if r.Method != http.MethodPost || r.Path != "/hook" {
		t.Errorf("unexpected request %s %s", r.Method, r.Path)
	}
	if r.Body != `{"hello":"world"}` {
		t.Errorf("body = %q", r.Body)
	}
	if r.ContentType != "application/json" {
		t.Errorf("content-type = %q", r.ContentType)
	}
	if r.Header.Get("X-Token") != "secret" {
		t.Errorf("queue header not forwarded: %v", r.Header)
	}

	got := mustGet(t, s, m.ID)
	if got.Status != models.MessageStatusSent || got.SentAt == nil {
		t.Fatalf("message not sent: %+v", got)
	}
	if got.SentAt.Before(got.When) {
		t.Errorf("sent_at %v before when %v", got.SentAt, got.When)
	}
}

func TestDeliveryEngine_RetryThenSuccess(t *testing.T) {
	ctx := context.Background()
	tg := newTarget(t, failFirst)
	s := newStore(t)
	clock := newClock()

	q := mustQueue(t, s, &models.Queue{Name: "q", CallbackURL: tg.URL, MaxRetries: 5})
	m := mustMessage(t, s, &models.Message{QueueID: q.ID, Body: `{}`, When: clock.Now()})

	pub := &recordingPublisher{}
	e := newTestEngine(s, clock, DeliveryConfig{}, WithEventPublisher(pub))

	if _, err := e.FlushOnce(ctx); err != nil {
		t.Fatalf("FlushOnce: %v", err)
	}

	got := mustGet(t, s, m.ID)
	if got.Status != models.MessageStatusPending || got.Retries != 1 {
		t.Fatalf("expected pending with 1 retry, got %+v", got)
	}
	if want := clock.Now().Add(100 * time.Millisecond); !got.When.Equal(want) {
		t.Errorf("when = %v, want %v", got.When, want)
	}
	if got.LastError == nil || !strings.Contains(*got.LastError, "502") {
		t.Errorf("last_error = %v", got.LastError)
	}

	// not due yet
	if n, _ := e.FlushOnce(ctx); n != 0 {
		t.Fatalf("delivered before backoff elapsed")
	}

	clock.Advance(100 * time.Millisecond)
	if n, err := e.FlushOnce(ctx); err != nil || n != 1 {
		t.Fatalf("FlushOnce after backoff = %d, %v", n, err)
	}

	got = mustGet(t, s, m.ID)
	if got.Status != models.MessageStatusSent || got.SentAt.Before(got.When) {
		t.Errorf("unexpected final state %+v", got)
	}
	if len(tg.Requests()) != 2 {
		t.Errorf("callback hit %d times, want 2", len(tg.Requests()))
	}

	outcomes := pub.Outcomes()
	if len(outcomes) != 2 || outcomes[0] != kafka.OutcomeRetry || outcomes[1] != kafka.OutcomeSent {
		t.Errorf("events = %v", outcomes)
	}
}

func TestDeliveryEngine_BackoffSequenceThenFailed(t *testing.T) {
	ctx := context.Background()
	tg := newTarget(t, alwaysFail)
	s := newStore(t)
	clock := newClock()

	q := mustQueue(t, s, &models.Queue{Name: "q", CallbackURL: tg.URL, MaxRetries: 5})
	m := mustMessage(t, s, &models.Message{QueueID: q.ID, When: clock.Now()})
	e := newTestEngine(s, clock, DeliveryConfig{})

	want := []time.Duration{100, 200, 400, 800, 1600}
	for i, w := range want {
		if _, err := e.FlushOnce(ctx); err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
		got := mustGet(t, s, m.ID)
		if got.Retries != i+1 {
			t.Fatalf("attempt %d: retries = %d", i, got.Retries)
		}
		if wait := got.When.Sub(clock.Now()); wait != w*time.Millisecond {
			t.Errorf("attempt %d: wait = %v, want %v", i, wait, w*time.Millisecond)
		}
		clock.Advance(w * time.Millisecond)
	}

	if _, err := e.FlushOnce(ctx); err != nil {
		t.Fatalf("final attempt: %v", err)
	}
	got := mustGet(t, s, m.ID)
	if got.Status != models.MessageStatusFailed || got.SentAt != nil {
		t.Fatalf("expected failed, got %+v", got)
	}

	clock.Advance(time.Hour)
	if n, _ := e.FlushOnce(ctx); n != 0 {
		t.Errorf("terminal message picked up again")
	}
	if len(tg.Requests()) != 6 {
		t.Errorf("callback hit %d times, want 6", len(tg.Requests()))
	}
}

func TestDeliveryEngine_DeadLetter(t *testing.T) {
	ctx := context.Background()
	failing := newTarget(t, alwaysFail)
	dlqTarget := newTarget(t, alwaysOK)
	s := newStore(t)
	clock := newClock()

	dlq := mustQueue(t, s, &models.Queue{Name: "dlq", CallbackURL: dlqTarget.URL, MaxRetries: 5})
	q := mustQueue(t, s, &models.Queue{Name: "q", CallbackURL: failing.URL, MaxRetries: 1, DeadLetterQueueID: &dlq.ID})
	m := mustMessage(t, s, &models.Message{
		QueueID: q.ID,
		Headers: map[string]string{"X-Trace": "abc"},
		Body:    `{"order":1}`,
		When:    clock.Now(),
	})

	pub := &recordingPublisher{}
	e := newTestEngine(s, clock, DeliveryConfig{}, WithEventPublisher(pub))

	// first failure is retried once
	if _, err := e.FlushOnce(ctx); err != nil {
		t.Fatalf("FlushOnce: %v", err)
	}
	clock.Advance(100 * time.Millisecond)

	// second failure exhausts max_retries=1
	if _, err := e.FlushOnce(ctx); err != nil {
		t.Fatalf("FlushOnce: %v", err)
	}

	original := mustGet(t, s, m.ID)
	if original.Status != models.MessageStatusFailed {
		t.Fatalf("original status = %s, want failed", original.Status)
	}

	copies, err := s.ListMessages(ctx, dlq.ID, "", 10, 0)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(copies) != 1 {
		t.Fatalf("expected exactly one dead letter, got %d", len(copies))
	}
	if copies[0].Body != m.Body || copies[0].Headers["X-Trace"] != "abc" {
		t.Errorf("dead letter differs from original: %+v", copies[0])
	}

	// the copy goes through the dead-letter queue's own callback
	clock.Advance(time.Second)
	if _, err := e.FlushOnce(ctx); err != nil {
		t.Fatalf("FlushOnce: %v", err)
	}
	reqs := dlqTarget.Requests()
	if len(reqs) != 1 || reqs[0].Body != `{"order":1}` || reqs[0].Header.Get("X-Trace") != "abc" {
		t.Errorf("dead letter delivery = %+v", reqs)
	}
	if len(failing.Requests()) != 2 {
		t.Errorf("failing callback hit %d times, want 2", len(failing.Requests()))
	}

	outcomes := pub.Outcomes()
	want := []string{kafka.OutcomeRetry, kafka.OutcomeDeadLetter, kafka.OutcomeSent}
	if strings.Join(outcomes, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v, want %v", outcomes, want)
	}
}

func TestDeliveryEngine_FutureMessage(t *testing.T) {
	ctx := context.Background()
	tg := newTarget(t, alwaysOK)
	s := newStore(t)
	clock := newClock()

	q := mustQueue(t, s, &models.Queue{Name: "q", CallbackURL: tg.URL, MaxRetries: 5})
	when := clock.Now().Add(1000 * time.Millisecond)
	m := mustMessage(t, s, &models.Message{QueueID: q.ID, When: when})
	e := newTestEngine(s, clock, DeliveryConfig{})

	for _, step := range []time.Duration{0, 500 * time.Millisecond, 499 * time.Millisecond} {
		clock.Advance(step)
		if n, err := e.FlushOnce(ctx); err != nil || n != 0 {
			t.Fatalf("delivered at %v, before %v", clock.Now(), when)
		}
	}

	clock.Advance(time.Millisecond)
	if n, err := e.FlushOnce(ctx); err != nil || n != 1 {
		t.Fatalf("FlushOnce at when = %d, %v", n, err)
	}
	got := mustGet(t, s, m.ID)
	if got.SentAt == nil || got.SentAt.Sub(when) < 0 {
		t.Errorf("sent_at %v before when %v", got.SentAt, when)
	}
}

func TestDeliveryEngine_PayloadEncoding(t *testing.T) {
	ctx := context.Background()
	tg := newTarget(t, alwaysOK)
	s := newStore(t)
	clock := newClock()

	jsonQueue := mustQueue(t, s, &models.Queue{Name: "json", CallbackURL: tg.URL + "/json", MaxRetries: 5})
	textQueue := mustQueue(t, s, &models.Queue{
		Name:        "text",
		CallbackURL: tg.URL + "/text",
		Headers:     map[string]string{"content-type": "text/plain"},
		MaxRetries:  5,
	})

	tests := []struct {
		name     string
		msg      *models.Message
		wantCT   string
		wantBody string
	}{
		{
			name:     "undeclared defaults to json",
			msg:      &models.Message{QueueID: jsonQueue.ID, Body: `{ "a" : [1, 2] }`},
			wantCT:   "application/json",
			wantBody: `{"a":[1,2]}`,
		},
		{
			name:     "declared json",
			msg:      &models.Message{QueueID: jsonQueue.ID, Headers: map[string]string{"Content-Type": "application/json; charset=utf-8"}, Body: `"quoted"`},
			wantCT:   "application/json; charset=utf-8",
			wantBody: `"quoted"`,
		},
		{
			name:     "text plain on the message",
			msg:      &models.Message{QueueID: jsonQueue.ID, Headers: map[string]string{"Content-Type": "text/plain"}, Body: "hello world"},
			wantCT:   "text/plain",
			wantBody: "hello world",
		},
		{
			name:     "text plain on the queue",
			msg:      &models.Message{QueueID: textQueue.ID, Body: "not { json"},
			wantCT:   "text/plain",
			wantBody: "not { json",
		},
		{
			name:     "unknown type is sent as json",
			msg:      &models.Message{QueueID: jsonQueue.ID, Headers: map[string]string{"Content-Type": "application/xml"}, Body: `[1]`},
			wantCT:   "application/json",
			wantBody: `[1]`,
		},
		{
			name:     "empty body",
			msg:      &models.Message{QueueID: jsonQueue.ID},
			wantCT:   "application/json",
			wantBody: "",
		},
	}

	e := newTestEngine(s, clock, DeliveryConfig{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.msg.When = clock.Now()
			mustMessage(t, s, tt.msg)
			before := len(tg.Requests())

			if _, err := e.FlushOnce(ctx); err != nil {
				t.Fatalf("FlushOnce: %v", err)
			}

			reqs := tg.Requests()
			if len(reqs) != before+1 {
				t.Fatalf("expected one new request, got %d", len(reqs)-before)
			}
			r := reqs[len(reqs)-1]
			if r.ContentType != tt.wantCT {
				t.Errorf("content-type = %q, want %q", r.ContentType, tt.wantCT)
			}
			if r.Body != tt.wantBody {
				t.Errorf("body = %q, want %q", r.Body, tt.wantBody)
			}
		})
	}
}

func TestDeliveryEngine_InvalidJSONBodyIsAFailure(t *testing.T) {
	ctx := context.Background()
	tg := newTarget(t, alwaysOK)
	s := newStore(t)
	clock := newClock()

	q := mustQueue(t, s, &models.Queue{Name: "q", CallbackURL: tg.URL, MaxRetries: 5})
	m := mustMessage(t, s, &models.Message{QueueID: q.ID, Body: "not json", When: clock.Now()})

	e := newTestEngine(s, clock, DeliveryConfig{})
	if _, err := e.FlushOnce(ctx); err != nil {
		t.Fatalf("FlushOnce: %v", err)
	}

	got := mustGet(t, s, m.ID)
	if got.Retries != 1 || got.Status != models.MessageStatusPending {
		t.Errorf("expected a retry, got %+v", got)
	}
	if got.LastError == nil || *got.LastError != models.ErrInvalidJSONBody.Error() {
		t.Errorf("last_error = %v", got.LastError)
	}
	if len(tg.Requests()) != 0 {
		t.Errorf("invalid body was sent")
	}
}

func TestDeliveryEngine_MissingQueue(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	clock := newClock()

	m := mustMessage(t, s, &models.Message{QueueID: 999, When: clock.Now()})
	e := newTestEngine(s, clock, DeliveryConfig{})

	if _, err := e.FlushOnce(ctx); err != nil {
		t.Fatalf("FlushOnce: %v", err)
	}
	got := mustGet(t, s, m.ID)
	if got.Status != models.MessageStatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	if got.LastError == nil || *got.LastError != "queue not found" {
		t.Errorf("last_error = %v", got.LastError)
	}
}

func TestDeliveryEngine_ShutdownLeavesMessagePending(t *testing.T) {
	s := newStore(t)
	clock := newClock()

	hang := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer hang.Close()

	q := mustQueue(t, s, &models.Queue{Name: "q", CallbackURL: hang.URL, MaxRetries: 5})
	m := mustMessage(t, s, &models.Message{QueueID: q.ID, When: clock.Now()})
	e := newTestEngine(s, clock, DeliveryConfig{Timeout: time.Minute})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := e.FlushOnce(ctx); err != nil {
		t.Fatalf("FlushOnce: %v", err)
	}

	got := mustGet(t, s, m.ID)
	if got.Status != models.MessageStatusPending || got.Retries != 0 {
		t.Errorf("cancelled attempt changed the message: %+v", got)
	}
}

func TestDeliveryEngine_FollowerIsIdle(t *testing.T) {
	tg := newTarget(t, alwaysOK)
	s := newStore(t)

	q := mustQueue(t, s, &models.Queue{Name: "q", CallbackURL: tg.URL, MaxRetries: 5})
	m := mustMessage(t, s, &models.Message{QueueID: q.ID})

	leader := newLeader(false)
	e := NewDeliveryEngine(s, s, leader, DeliveryConfig{PollInterval: 10 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { _ = e.Run(ctx); close(done) }()
	defer func() { cancel(); <-done }()

	time.Sleep(100 * time.Millisecond)
	if len(tg.Requests()) != 0 {
		t.Fatal("follower delivered a message")
	}

	leader.leader.Store(true)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := mustGet(t, s, m.ID); got.SentAt != nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := mustGet(t, s, m.ID); got.SentAt == nil {
		t.Fatal("leader did not deliver the message")
	}
	if len(tg.Requests()) != 1 {
		t.Errorf("callback hit %d times, want 1", len(tg.Requests()))
	}
}

func TestDeliveryEngine_WorkersKeepQueueOrder(t *testing.T) {
	ctx := context.Background()
	tg := newTarget(t, alwaysOK)
	s := newStore(t)
	clock := newClock()

	qa := mustQueue(t, s, &models.Queue{Name: "a", CallbackURL: tg.URL + "/a", MaxRetries: 5})
	qb := mustQueue(t, s, &models.Queue{Name: "b", CallbackURL: tg.URL + "/b", MaxRetries: 5})

	base := clock.Now().Add(-time.Minute)
	for i := 0; i < 5; i++ {
		at := base.Add(time.Duration(i) * time.Second)
		mustMessage(t, s, &models.Message{QueueID: qa.ID, Body: `"a` + string(rune('0'+i)) + `"`, When: at})
		mustMessage(t, s, &models.Message{QueueID: qb.ID, Body: `"b` + string(rune('0'+i)) + `"`, When: at})
	}

	e := newTestEngine(s, clock, DeliveryConfig{Workers: 4})
	n, err := e.FlushOnce(ctx)
	if err != nil {
		t.Fatalf("FlushOnce: %v", err)
	}
	if n != 10 {
		t.Fatalf("attempted %d, want 10", n)
	}

	perPath := map[string][]string{}
	for _, r := range tg.Requests() {
		perPath[r.Path] = append(perPath[r.Path], r.Body)
	}
	for path, prefix := range map[string]string{"/a": "a", "/b": "b"} {
		got := perPath[path]
		if len(got) != 5 {
			t.Fatalf("%s: %d requests", path, len(got))
		}
		for i, body := range got {
			if want := `"` + prefix + string(rune('0'+i)) + `"`; body != want {
				t.Errorf("%s[%d] = %s, want %s", path, i, body, want)
			}
		}
	}
}

// unfilteredStore hands the engine every message of a queue, due or not.
type unfilteredStore struct {
	*repository.SQLiteStore
	queueID int64
}

func (u unfilteredStore) GetDueMessages(ctx context.Context, _ time.Time, limit int) ([]*models.Message, error) {
	return u.ListMessages(ctx, u.queueID, "", limit, 0)
}

func TestDeliveryEngine_SkipsMessagesThatAreNotDue(t *testing.T) {
	ctx := context.Background()
	tg := newTarget(t, alwaysOK)
	s := newStore(t)
	clock := newClock()

	q := mustQueue(t, s, &models.Queue{Name: "q", CallbackURL: tg.URL, MaxRetries: 1})
	due := mustMessage(t, s, &models.Message{QueueID: q.ID, Body: `{"n":1}`, When: clock.Now()})
	future := mustMessage(t, s, &models.Message{QueueID: q.ID, Body: `{"n":2}`, When: clock.Now().Add(time.Hour)})
	done := mustMessage(t, s, &models.Message{QueueID: q.ID, Body: `{"n":3}`, When: clock.Now()})
	if err := s.MarkAsSent(ctx, done.ID, clock.Now()); err != nil {
		t.Fatalf("MarkAsSent: %v", err)
	}

	e := NewDeliveryEngine(unfilteredStore{SQLiteStore: s, queueID: q.ID}, s, newLeader(true), DeliveryConfig{}, nil)
	e.now = clock.Now

	n, err := e.FlushOnce(ctx)
	if err != nil {
		t.Fatalf("FlushOnce: %v", err)
	}
	if n != 1 {
		t.Errorf("attempted %d messages, want 1", n)
	}
	if reqs := tg.Requests(); len(reqs) != 1 || reqs[0].Body != `{"n":1}` {
		t.Fatalf("unexpected requests %+v", reqs)
	}

	if got := mustGet(t, s, due.ID); got.Status != models.MessageStatusSent {
		t.Errorf("due message status = %s", got.Status)
	}
	if got := mustGet(t, s, future.ID); got.Status != models.MessageStatusPending || got.SentAt != nil {
		t.Errorf("future message touched: %+v", got)
	}
}
