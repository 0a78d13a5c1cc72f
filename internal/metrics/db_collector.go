package metrics

import (
	"context"
	"log/slog"
	"time"
)

// StatusCounter is the slice of the store the collector needs.
type StatusCounter interface {
	CountMessagesByStatus(ctx context.Context) (map[string]int64, error)
}

var knownStatuses = []string{"pending", "sent", "failed"}

func StartDBCollectors(ctx context.Context, db StatusCounter, interval time.Duration, logger *slog.Logger) {
	if db == nil {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		updateDBGauges(ctx, db, logger)
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				updateDBGauges(ctx, db, logger)
			}
		}
	}()
}

func updateDBGauges(ctx context.Context, db StatusCounter, logger *slog.Logger) {
	counts, err := db.CountMessagesByStatus(ctx)
	if err != nil {
		if ctx.Err() == nil {
			logger.Warn("metrics count messages", "error", err)
		}
		return
	}

	// statuses with no rows report zero instead of a stale value
	for _, s := range knownStatuses {
		SetMessageStatusCount(s, counts[s])
	}
	for s, n := range counts {
		SetMessageStatusCount(s, n)
	}
}
