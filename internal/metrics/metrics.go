package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "code"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "code"},
	)

	// Kafka delivery events
	kafkaEventsSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hooks_kafka_events_sent_total",
			Help: "Total number of delivery events published to Kafka.",
		},
	)
	kafkaErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hooks_kafka_errors_total",
			Help: "Total number of Kafka-related errors.",
		},
		[]string{"operation"},
	)

	// Delivery
	deliveryAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hooks_delivery_attempts_total",
			Help: "Webhook delivery attempts by outcome (sent, retry, failed, dead_letter).",
		},
		[]string{"outcome"},
	)
	deliveryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hooks_delivery_duration_seconds",
			Help:    "Time spent on a single outbound webhook call (seconds).",
			Buckets: prometheus.DefBuckets,
		},
	)
	deliveryLagSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hooks_delivery_lag_seconds",
			Help:    "Lag between a message becoming due and its delivery attempt (seconds).",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
	)
	messagesByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hooks_messages_count",
			Help: "Current count of messages by status.",
		},
		[]string{"status"},
	)

	// Cron
	cronFirings = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hooks_cron_firings_total",
			Help: "Total number of cron firings materialized into messages.",
		},
	)

	// Leadership
	leaderStatus = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hooks_leader",
			Help: "1 while this process holds the leader lock.",
		},
	)
	leaderTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hooks_leader_transitions_total",
			Help: "Leadership state changes by new state.",
		},
		[]string{"state"},
	)
)

var registerOnce sync.Once

func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,

			kafkaEventsSent,
			kafkaErrors,

			deliveryAttempts,
			deliveryDuration,
			deliveryLagSeconds,
			messagesByStatus,

			cronFirings,

			leaderStatus,
			leaderTransitions,
		)
		registerRedisMetrics()
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// --- HTTP ---
func ObserveHTTPRequest(method, route string, code int, d time.Duration) {
	c := strconv.Itoa(code)
	httpRequests.WithLabelValues(method, route, c).Inc()
	httpDuration.WithLabelValues(method, route, c).Observe(d.Seconds())
}

// --- Kafka ---
func IncKafkaSent()                  { kafkaEventsSent.Inc() }
func IncKafkaError(operation string) { kafkaErrors.WithLabelValues(operation).Inc() }

// --- Delivery ---
func IncDelivery(outcome string)              { deliveryAttempts.WithLabelValues(outcome).Inc() }
func ObserveDeliveryDuration(d time.Duration) { deliveryDuration.Observe(d.Seconds()) }
func ObserveDeliveryLag(d time.Duration) {
	if d < 0 {
		d = 0
	}
	deliveryLagSeconds.Observe(d.Seconds())
}

// --- Cron ---
func AddCronFirings(n int) {
	if n > 0 {
		cronFirings.Add(float64(n))
	}
}

// --- Leadership ---
func SetLeader(leader bool, state string) {
	if leader {
		leaderStatus.Set(1)
	} else {
		leaderStatus.Set(0)
	}
	leaderTransitions.WithLabelValues(state).Inc()
}

// --- Gauges (DB collectors) ---
func SetMessageStatusCount(status string, count int64) {
	if count < 0 {
		count = 0
	}
	messagesByStatus.WithLabelValues(status).Set(float64(count))
}
