package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	InFlightGauge   prometheus.Gauge

	UploadsTotal    *prometheus.CounterVec
	ReportsByStatus *prometheus.GaugeVec

	IngestJobsTotal *prometheus.CounterVec
	IngestDuration  *prometheus.HistogramVec
	QueueDepth      prometheus.Gauge

	LLMRequestsTotal *prometheus.CounterVec
	LLMDuration      *prometheus.HistogramVec
}

// NewCollector registers every metric on the default registry.
func NewCollector(serviceName string) *Collector {
	return NewCollectorWith(serviceName, prometheus.DefaultRegisterer)
}

func NewCollectorWith(serviceName string, reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, route, and status code.",
		}, []string{"method", "route", "status"}),

		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10},
		}, []string{"method", "route"}),

		InFlightGauge: f.NewGauge(prometheus.GaugeOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),

		UploadsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "storage",
			Name:      "uploads_total",
			Help:      "Uploaded files by kind (document, image) and outcome.",
		}, []string{"kind", "outcome"}),

		ReportsByStatus: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: serviceName,
			Subsystem: "reports",
			Name:      "by_status",
			Help:      "Number of reports per processing status, refreshed periodically.",
		}, []string{"status"}),

		IngestJobsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "ingest",
			Name:      "jobs_total",
			Help:      "Extraction jobs by terminal status.",
		}, []string{"status"}),

		IngestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: serviceName,
			Subsystem: "ingest",
			Name:      "stage_duration_seconds",
			Help:      "Latency of each extraction stage.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"stage"}),

		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: serviceName,
			Subsystem: "ingest",
			Name:      "queue_depth",
			Help:      "Report ids waiting in the extraction queue.",
		}),

		LLMRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "Structured extraction calls by provider and outcome.",
		}, []string{"provider", "outcome"}),

		LLMDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: serviceName,
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "Structured extraction latency by provider.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 90},
		}, []string{"provider"}),
	}
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// The helpers below tolerate a nil Collector so components can run without metrics.

func (c *Collector) ObserveLLM(provider, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.LLMRequestsTotal.WithLabelValues(provider, outcome).Inc()
	c.LLMDuration.WithLabelValues(provider).Observe(d.Seconds())
}

func (c *Collector) ObserveStage(stage string, d time.Duration) {
	if c == nil {
		return
	}
	c.IngestDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (c *Collector) IncIngest(status string) {
	if c == nil {
		return
	}
	c.IngestJobsTotal.WithLabelValues(status).Inc()
}

func (c *Collector) SetQueueDepth(n int) {
	if c == nil {
		return
	}
	c.QueueDepth.Set(float64(n))
}

func (c *Collector) IncUpload(kind, outcome string) {
	if c == nil {
		return
	}
	c.UploadsTotal.WithLabelValues(kind, outcome).Inc()
}

func (c *Collector) SetStatusCount(status string, n int) {
	if c == nil {
		return
	}
	c.ReportsByStatus.WithLabelValues(status).Set(float64(n))
}
