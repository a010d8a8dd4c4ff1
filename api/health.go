package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// featureModules are reported by the detailed health check
var featureModules = []string{
	"data_processor",
	"statistical_analyzer",
	"visualization_service",
	"ml_predictor",
	"data_validator",
	"report_generator",
}

// healthCheck is the liveness probe. ?detailed=true adds per-module status.
func (s *Server) healthCheck(c *gin.Context) {
	body := gin.H{
		"status":      "healthy",
		"timestamp":   time.Now().Format(time.RFC3339),
		"service":     serviceName,
		"version":     s.cfg.AppVersion,
		"environment": s.cfg.Environment,
	}
	if c.Query("detailed") == "true" {
		services := gin.H{}
		for _, name := range featureModules {
			services[name] = "healthy"
		}
		if err := s.svc.Store.Ping(c.Request.Context()); err != nil {
			s.logger.Warn("database ping failed", zap.Error(err))
			services["database"] = "unhealthy"
		} else {
			services["database"] = "healthy"
		}
		services["cache"] = s.svc.Cache.Stats()
		body["services"] = services
	}
	c.JSON(http.StatusOK, body)
}

// readiness fails while the catalog database is unreachable
func (s *Server) readiness(c *gin.Context) {
	if err := s.svc.Store.Ping(c.Request.Context()); err != nil {
		s.logger.Warn("readiness check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":    "not_ready",
			"timestamp": time.Now().Format(time.RFC3339),
			"error":     "database unavailable",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "ready",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// endpointMetrics returns per-endpoint counters, optionally for a single
// "METHOD:/path" key.
func (s *Server) endpointMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.tracker.Endpoints(c.Query("endpoint")))
}

func (s *Server) metricsHealth(c *gin.Context) {
	c.JSON(http.StatusOK, s.tracker.Health())
}
