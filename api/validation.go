package api

import (
	"github.com/Aidin1998/analytics/internal/validation"
	"github.com/gin-gonic/gin"
)

func (s *Server) dataQuality(c *gin.Context) {
	var req validation.QualityRequest
	if !bind(c, &req) {
		return
	}
	respondWith(c, func() (interface{}, error) {
		return s.svc.Validation.Quality(c.Request.Context(), req)
	})
}

func (s *Server) validateSchema(c *gin.Context) {
	var req validation.SchemaRequest
	if !bind(c, &req) {
		return
	}
	respondWith(c, func() (interface{}, error) {
		return s.svc.Validation.Schema(c.Request.Context(), req)
	})
}

func (s *Server) detectAnomalies(c *gin.Context) {
	var req validation.AnomalyRequest
	if !bind(c, &req) {
		return
	}
	respondWith(c, func() (interface{}, error) {
		return s.svc.Validation.Anomalies(c.Request.Context(), req)
	})
}

func (s *Server) businessRules(c *gin.Context) {
	var req validation.BusinessRulesRequest
	if !bind(c, &req) {
		return
	}
	respondWith(c, func() (interface{}, error) {
		return s.svc.Validation.BusinessRules(c.Request.Context(), req)
	})
}
