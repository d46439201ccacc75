// Package metrics holds the Prometheus collectors of the server and worker
// processes. Each Collector owns its registry so tests can build as many as
// they like.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kgraph"

type Collector struct {
	registry *prometheus.Registry

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	JobsFinished  *prometheus.CounterVec
	JobsCoalesced prometheus.Counter
	StepDuration  *prometheus.HistogramVec
	QueueDepth    prometheus.Gauge
	ActiveWorkers prometheus.Gauge

	AnalyticsDuration *prometheus.HistogramVec
}

func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		JobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "processing_jobs_finished_total",
			Help:      "Processing jobs that reached a terminal state",
		}, []string{"status"}),
		JobsCoalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "processing_jobs_coalesced_total",
			Help:      "Enqueue requests answered with an already in-flight job",
		}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "processing_step_duration_seconds",
			Help:      "Duration of a single pipeline step",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"step", "result"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "processing_queue_depth",
			Help:      "Jobs waiting for a worker",
		}),
		ActiveWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "processing_active_workers",
			Help:      "Workers currently running a job",
		}),
		AnalyticsDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analytics_duration_seconds",
			Help:      "Duration of clustering, gap, path and suggestion runs",
			Buckets:   prometheus.DefBuckets,
		}, []string{"engine"}),
	}
	c.registry.MustRegister(
		c.HTTPRequests,
		c.HTTPDuration,
		c.JobsFinished,
		c.JobsCoalesced,
		c.StepDuration,
		c.QueueDepth,
		c.ActiveWorkers,
		c.AnalyticsDuration,
		prometheus.NewGoCollector(),
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) ObserveStep(step string, ok bool, d time.Duration) {
	result := "ok"
	if !ok {
		result = "error"
	}
	c.StepDuration.WithLabelValues(step, result).Observe(d.Seconds())
}

func (c *Collector) ObserveAnalytics(engine string, d time.Duration) {
	c.AnalyticsDuration.WithLabelValues(engine).Observe(d.Seconds())
}
