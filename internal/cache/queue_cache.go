package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"webhook_queue/internal/metrics"
	"webhook_queue/internal/models"
)

const DefaultQueueTTL = 5 * time.Minute

// QueueKey is hooks:queue:{id}.
func QueueKey(id int64) string {
	return fmt.Sprintf("hooks:queue:%d", id)
}

type QueueGetter interface {
	GetQueue(ctx context.Context, id int64) (*models.Queue, error)
}

// QueueCache is a read-through cache in front of the queue table. Queues
// never change after creation, so entries are only expired, not invalidated.
type QueueCache struct {
	store  QueueGetter
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger
}

// NewQueueCache wraps store. A nil c disables caching.
func NewQueueCache(store QueueGetter, c Cache, ttl time.Duration, logger *slog.Logger) *QueueCache {
	if ttl <= 0 {
		ttl = DefaultQueueTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueCache{store: store, cache: c, ttl: ttl, logger: logger}
}

// GetQueue serves from cache when possible. Cache failures fall back to the
// store; store errors (including not found) are returned unchanged.
func (q *QueueCache) GetQueue(ctx context.Context, id int64) (*models.Queue, error) {
	if q.cache == nil {
		return q.store.GetQueue(ctx, id)
	}

	key := QueueKey(id)
	b, ok, err := q.cache.Get(ctx, key)
	if err != nil {
		q.logger.Warn("queue cache get", "queue_id", id, "error", err)
	}
	if ok {
		var queue models.Queue
		decodeErr := json.Unmarshal(b, &queue)
		if decodeErr == nil {
			metrics.IncQueueCacheHit()
			return &queue, nil
		}
		q.logger.Warn("queue cache decode", "queue_id", id, "error", decodeErr)
	}
	metrics.IncQueueCacheMiss()

	queue, err := q.store.GetQueue(ctx, id)
	if err != nil {
		return nil, err
	}

	if b, err := json.Marshal(queue); err == nil {
		if err := q.cache.Set(ctx, key, b, q.ttl); err != nil {
			q.logger.Warn("queue cache set", "queue_id", id, "error", err)
		}
	}
	return queue, nil
}
