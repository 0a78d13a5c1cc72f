package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	redisRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hooks_redis_requests_total",
			Help: "Total number of Redis requests made by the queue cache.",
		},
		[]string{"operation"},
	)
	redisRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hooks_redis_request_duration_seconds",
			Help:    "Redis request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
	redisErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hooks_redis_errors_total",
			Help: "Total number of Redis errors.",
		},
		[]string{"operation"},
	)

	queueCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hooks_queue_cache_hits_total",
			Help: "Queue lookups served from cache.",
		},
	)
	queueCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hooks_queue_cache_misses_total",
			Help: "Queue lookups that fell through to the store.",
		},
	)

	redisUsedMemory = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hooks_redis_used_memory_bytes",
			Help: "used_memory reported by Redis INFO.",
		},
	)
)

var redisRegisterOnce sync.Once

func registerRedisMetrics() {
	redisRegisterOnce.Do(func() {
		prometheus.MustRegister(
			redisRequestsTotal,
			redisRequestDuration,
			redisErrorsTotal,
			queueCacheHits,
			queueCacheMisses,
			redisUsedMemory,
		)
	})
}

func ObserveRedisRequest(op string, d time.Duration, err error) {
	redisRequestsTotal.WithLabelValues(op).Inc()
	redisRequestDuration.WithLabelValues(op).Observe(d.Seconds())
	if err != nil {
		redisErrorsTotal.WithLabelValues(op).Inc()
	}
}

func IncQueueCacheHit()  { queueCacheHits.Inc() }
func IncQueueCacheMiss() { queueCacheMisses.Inc() }

func SetRedisUsedMemory(n int64) {
	if n < 0 {
		n = 0
	}
	redisUsedMemory.Set(float64(n))
}
