package apiutil

import (
	"time"

	"github.com/Aidin1998/analytics/pkg/metrics"
	"github.com/gin-gonic/gin"
)

// UnmatchedEndpoint is recorded for requests that hit no route
const UnmatchedEndpoint = "unknown"

// MetricsMiddleware records request counts, errors and latencies on the tracker.
// Paths listed in skip (such as the scrape endpoint) are not recorded.
func MetricsMiddleware(tracker *metrics.Tracker, skip ...string) gin.HandlerFunc {
	skipped := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		skipped[p] = struct{}{}
	}
	return func(c *gin.Context) {
		if _, ok := skipped[c.Request.URL.Path]; ok {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		// Use full route path (e.g., /api/v1/data/:id)
		path := c.FullPath()
		if path == "" {
			path = UnmatchedEndpoint
		}
		tracker.Track(path, c.Request.Method, c.Writer.Status(), time.Since(start))
	}
}
