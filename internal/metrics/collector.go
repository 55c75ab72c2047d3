package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds Prometheus metrics for the load engine
type Collector struct {
	RequestDuration *prometheus.HistogramVec
	RequestsTotal   *prometheus.CounterVec
	RequestsFailed  *prometheus.CounterVec
	QueueDepth      prometheus.Gauge
	QueueRejected   prometheus.Counter
	ActiveWorkers   prometheus.Gauge
}

// NewCollector creates a new metrics collector with Prometheus metrics
func NewCollector() *Collector {
	return &Collector{
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "load_engine_request_duration_seconds",
				Help:    "Request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"protocol", "status"},
		),
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "load_engine_requests_total",
				Help: "Total number of dispatched requests",
			},
			[]string{"protocol", "status"},
		),
		RequestsFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "load_engine_requests_failed_total",
				Help: "Total number of failed requests",
			},
			[]string{"protocol"},
		),
		QueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "load_engine_queue_depth",
				Help: "Requests currently waiting in the dispatch queue",
			},
		),
		QueueRejected: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "load_engine_queue_rejected_total",
				Help: "Async submissions rejected because the queue was full",
			},
		),
		ActiveWorkers: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "load_engine_active_workers",
				Help: "Number of running dispatcher workers",
			},
		),
	}
}

// RecordRequest records a request metric
func (c *Collector) RecordRequest(protocol, status string, durationSec float64, failed bool) {
	c.RequestDuration.WithLabelValues(protocol, status).Observe(durationSec)
	c.RequestsTotal.WithLabelValues(protocol, status).Inc()

	if failed {
		c.RequestsFailed.WithLabelValues(protocol).Inc()
	}
}

// SetQueueDepth sets the current dispatch queue depth
func (c *Collector) SetQueueDepth(depth int) {
	c.QueueDepth.Set(float64(depth))
}

// SetActiveWorkers sets the number of active workers
func (c *Collector) SetActiveWorkers(count int) {
	c.ActiveWorkers.Set(float64(count))
}
