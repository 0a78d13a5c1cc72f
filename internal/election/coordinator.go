package election

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"webhook_queue/internal/metrics"
)

type State int32

const (
	Follower State = iota
	Leader
)

func (s State) String() string {
	if s == Leader {
		return "leader"
	}
	return "follower"
}

// Coordinator polls a Locker and tracks whether this process is the leader.
// Delivery and cron expansion consult it before doing any work.
type Coordinator struct {
	locker Locker
	poll   time.Duration
	logger *slog.Logger

	state atomic.Int32

	mu        sync.Mutex
	listeners []func(State)
}

func NewCoordinator(locker Locker, poll time.Duration, logger *slog.Logger) *Coordinator {
	if poll <= 0 {
		poll = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		locker: locker,
		poll:   poll,
		logger: logger.With("component", "election"),
	}
}

func (c *Coordinator) State() State { return State(c.state.Load()) }

func (c *Coordinator) IsLeader() bool { return c.State() == Leader }

// OnChange registers fn to be called after every state transition.
// Register before Run.
func (c *Coordinator) OnChange(fn func(State)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// Run polls until ctx is cancelled, then releases the lock.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	c.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return nil
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

func (c *Coordinator) tick(ctx context.Context) {
	if c.IsLeader() {
		held, err := c.locker.Held(ctx)
		if err != nil && ctx.Err() == nil {
			c.logger.Warn("leader lock check failed", "error", err)
		}
		if !held && ctx.Err() == nil {
			c.logger.Warn("leader lock lost")
			c.setState(Follower)
		}
		return
	}

	ok, err := c.locker.TryAcquire(ctx)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Warn("leader lock acquire failed", "error", err)
		}
		return
	}
	if ok {
		c.logger.Info("acquired leadership")
		c.setState(Leader)
	}
}

func (c *Coordinator) shutdown() {
	if !c.IsLeader() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c.setState(Follower)
	if err := c.locker.Release(ctx); err != nil {
		c.logger.Error("release leader lock", "error", err)
		return
	}
	c.logger.Info("released leadership")
}

func (c *Coordinator) setState(s State) {
	if State(c.state.Swap(int32(s))) == s {
		return
	}
	metrics.SetLeader(s == Leader, s.String())

	c.mu.Lock()
	listeners := append([]func(State){}, c.listeners...)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn(s)
	}
}
