package cache

import (
	"bufio"
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"webhook_queue/internal/metrics"

	"github.com/redis/go-redis/v9"
)

func StartRedisSizeCollector(ctx context.Context, client *redis.Client, interval time.Duration, logger *slog.Logger) {
	if client == nil {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		update := func() {
			start := time.Now()
			info, err := client.Info(ctx, "memory").Result()
			metrics.ObserveRedisRequest("info", time.Since(start), err)
			if err != nil {
				logger.Debug("redis info", "error", err)
				return
			}
			if n, ok := usedMemory(info); ok {
				metrics.SetRedisUsedMemory(n)
			}
		}

		update()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				update()
			}
		}
	}()
}

// usedMemory extracts used_memory from an INFO memory reply.
func usedMemory(info string) (int64, bool) {
	sc := bufio.NewScanner(strings.NewReader(info))
	for sc.Scan() {
		v, ok := strings.CutPrefix(strings.TrimSpace(sc.Text()), "used_memory:")
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n, err == nil
	}
	return 0, false
}
