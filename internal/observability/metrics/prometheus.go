// Package metrics provides Prometheus metrics for the adherence engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	SchedulesCreated      prometheus.Counter
	SchedulesUpdated      prometheus.Counter
	SchedulesDeleted      prometheus.Counter
	DosesTaken            prometheus.Counter
	DosesMissed           prometheus.Counter
	OutOfStockRejections  prometheus.Counter
	RequestDuration       prometheus.Histogram
	KafkaMessagesProduced prometheus.Counter
	KafkaMessagesConsumed prometheus.Counter
	OutboxPending         prometheus.Gauge
	CircuitBreakerState   *prometheus.GaugeVec
}

// New creates and registers all metrics
func New() *Metrics {
	m := &Metrics{
		SchedulesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "schedules_created_total",
			Help: "Total schedules created",
		}),
		SchedulesUpdated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "schedules_updated_total",
			Help: "Total schedules updated",
		}),
		SchedulesDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "schedules_deleted_total",
			Help: "Total schedules deleted",
		}),
		DosesTaken: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "doses_taken_total",
			Help: "Total doses marked taken",
		}),
		DosesMissed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "doses_missed_total",
			Help: "Total doses marked missed",
		}),
		OutOfStockRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dose_out_of_stock_rejections_total",
			Help: "Dose transitions refused because no stock remained",
		}),
		RequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "schedule_request_duration_seconds",
			Help:    "Schedule API request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		KafkaMessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_produced_total",
			Help: "Total Kafka messages produced",
		}),
		KafkaMessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_consumed_total",
			Help: "Total Kafka messages consumed",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	prometheus.MustRegister(
		m.SchedulesCreated,
		m.SchedulesUpdated,
		m.SchedulesDeleted,
		m.DosesTaken,
		m.DosesMissed,
		m.OutOfStockRejections,
		m.RequestDuration,
		m.KafkaMessagesProduced,
		m.KafkaMessagesConsumed,
		m.OutboxPending,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
