package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Collector exposes a Tracker in the Prometheus exposition format
type Collector struct {
	tracker  *Tracker
	uptime   *prometheus.Desc
	requests *prometheus.Desc
	errors   *prometheus.Desc
	duration *prometheus.Desc
}

// NewCollector creates a collector reading from tracker
func NewCollector(tracker *Tracker) *Collector {
	labels := []string{"method", "endpoint"}
	return &Collector{
		tracker:  tracker,
		uptime:   prometheus.NewDesc("service_uptime_seconds", "Service uptime in seconds", nil, nil),
		requests: prometheus.NewDesc("http_requests_total", "Total number of HTTP requests", labels, nil),
		errors:   prometheus.NewDesc("http_errors_total", "Total number of HTTP errors", labels, nil),
		duration: prometheus.NewDesc("http_request_duration_seconds", "Average request duration", labels, nil),
	}
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.uptime
	ch <- c.requests
	ch <- c.errors
	ch <- c.duration
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.uptime, prometheus.CounterValue, c.tracker.Uptime().Seconds())

	for _, s := range c.tracker.samples() {
		ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue, float64(s.count), s.method, s.endpoint)
		ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue, float64(s.errors), s.method, s.endpoint)
		ch <- prometheus.MustNewConstMetric(c.duration, prometheus.GaugeValue, s.avgSeconds, s.method, s.endpoint)
	}
}

// NewRegistry builds a registry holding the tracker collector plus the Go
// runtime and process collectors.
func NewRegistry(tracker *Tracker) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		NewCollector(tracker),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}
