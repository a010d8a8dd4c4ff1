// Package metrics tracks per-endpoint request counts, error counts and recent
// latencies for the API, and exposes them as JSON snapshots and as a
// Prometheus collector.
package metrics

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Aidin1998/analytics/pkg/numfmt"
)

// DefaultWindow is the number of recent latencies kept per endpoint
const DefaultWindow = 100

// degradedErrorRate is the overall error rate from which the service reports degraded
const degradedErrorRate = 0.05

type endpointStats struct {
	count      int64
	errors     int64
	totalTime  time.Duration
	lastAccess time.Time

	// ring buffer of the most recent latencies
	recent []time.Duration
	next   int
}

func (s *endpointStats) observe(d time.Duration, window int) {
	if len(s.recent) < window {
		s.recent = append(s.recent, d)
		return
	}
	s.recent[s.next] = d
	s.next = (s.next + 1) % window
}

func (s *endpointStats) p95() time.Duration {
	if len(s.recent) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(s.recent))
	copy(sorted, s.recent)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted[int(float64(len(sorted))*0.95)]
}

// Tracker records request metrics keyed by "METHOD:endpoint"
type Tracker struct {
	mu     sync.Mutex
	stats  map[string]*endpointStats
	window int
	start  time.Time
	now    func() time.Time
}

// NewTracker creates a tracker keeping DefaultWindow latencies per endpoint
func NewTracker() *Tracker {
	return NewTrackerWithWindow(DefaultWindow)
}

// NewTrackerWithWindow creates a tracker with a custom latency window
func NewTrackerWithWindow(window int) *Tracker {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Tracker{
		stats:  make(map[string]*endpointStats),
		window: window,
		start:  time.Now(),
		now:    time.Now,
	}
}

// Key builds the tracker key for a method and endpoint
func Key(method, endpoint string) string {
	return method + ":" + endpoint
}

// Track records a finished request
func (t *Tracker) Track(endpoint, method string, status int, latency time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := Key(method, endpoint)
	s, ok := t.stats[key]
	if !ok {
		s = &endpointStats{recent: make([]time.Duration, 0, t.window)}
		t.stats[key] = s
	}

	s.count++
	s.totalTime += latency
	s.lastAccess = t.now()
	s.observe(latency, t.window)

	if status >= 400 {
		s.errors++
	}
}

// EndpointSnapshot is the JSON view of one endpoint's metrics
type EndpointSnapshot struct {
	TotalRequests     int64      `json:"total_requests"`
	TotalErrors       int64      `json:"total_errors"`
	ErrorRate         float64    `json:"error_rate"`
	AvgResponseTimeMs float64    `json:"avg_response_time_ms"`
	P95ResponseTimeMs float64    `json:"p95_response_time_ms"`
	LastAccess        *time.Time `json:"last_access"`
}

func (s *endpointStats) snapshot() EndpointSnapshot {
	var avg time.Duration
	if s.count > 0 {
		avg = s.totalTime / time.Duration(s.count)
	}

	snap := EndpointSnapshot{
		TotalRequests:     s.count,
		TotalErrors:       s.errors,
		ErrorRate:         numfmt.Ratio(float64(s.errors), float64(s.count)),
		AvgResponseTimeMs: numfmt.Round(float64(avg)/float64(time.Millisecond), 2),
		P95ResponseTimeMs: numfmt.Round(float64(s.p95())/float64(time.Millisecond), 2),
	}
	if !s.lastAccess.IsZero() {
		last := s.lastAccess
		snap.LastAccess = &last
	}
	return snap
}

// Endpoints returns snapshots of all endpoints, or only the one whose key
// equals filter when filter is not empty.
func (t *Tracker) Endpoints(filter string) map[string]EndpointSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	result := make(map[string]EndpointSnapshot)
	if filter != "" {
		if s, ok := t.stats[filter]; ok {
			result[filter] = s.snapshot()
		}
		return result
	}

	for key, s := range t.stats {
		result[key] = s.snapshot()
	}
	return result
}

// HealthSnapshot summarises the service as a whole
type HealthSnapshot struct {
	UptimeSeconds    int64   `json:"uptime_seconds"`
	UptimeHuman      string  `json:"uptime_human"`
	TotalRequests    int64   `json:"total_requests"`
	TotalErrors      int64   `json:"total_errors"`
	OverallErrorRate float64 `json:"overall_error_rate"`
	EndpointsCount   int     `json:"endpoints_count"`
	ServiceStatus    string  `json:"service_status"`
}

// Health returns overall service health derived from the tracked requests
func (t *Tracker) Health() HealthSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	var requests, errors int64
	for _, s := range t.stats {
		requests += s.count
		errors += s.errors
	}

	uptime := t.now().Sub(t.start)
	rate := numfmt.Ratio(float64(errors), float64(requests))

	status := "unknown"
	if requests > 0 {
		status = "healthy"
		if rate >= degradedErrorRate {
			status = "degraded"
		}
	}

	return HealthSnapshot{
		UptimeSeconds:    int64(uptime.Seconds()),
		UptimeHuman:      uptime.Truncate(time.Second).String(),
		TotalRequests:    requests,
		TotalErrors:      errors,
		OverallErrorRate: rate,
		EndpointsCount:   len(t.stats),
		ServiceStatus:    status,
	}
}

// Uptime returns the time elapsed since the tracker was created
func (t *Tracker) Uptime() time.Duration {
	return t.now().Sub(t.start)
}

// sample is a raw, unrounded copy of one endpoint's counters
type sample struct {
	method     string
	endpoint   string
	count      int64
	errors     int64
	avgSeconds float64
}

func (t *Tracker) samples() []sample {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]sample, 0, len(t.stats))
	for key, s := range t.stats {
		method, endpoint, _ := strings.Cut(key, ":")
		var avg float64
		if s.count > 0 {
			avg = s.totalTime.Seconds() / float64(s.count)
		}
		out = append(out, sample{
			method:     method,
			endpoint:   endpoint,
			count:      s.count,
			errors:     s.errors,
			avgSeconds: avg,
		})
	}
	return out
}
