package api

import (
	"github.com/Aidin1998/analytics/internal/analysis"
	"github.com/gin-gonic/gin"
)

func (s *Server) descriptiveStats(c *gin.Context) {
	var req analysis.DescriptiveRequest
	if !bind(c, &req) {
		return
	}
	respondWith(c, func() (interface{}, error) {
		return s.svc.Analysis.Descriptive(c.Request.Context(), req)
	})
}

func (s *Server) correlation(c *gin.Context) {
	var req analysis.CorrelationRequest
	if !bind(c, &req) {
		return
	}
	respondWith(c, func() (interface{}, error) {
		return s.svc.Analysis.Correlation(c.Request.Context(), req)
	})
}

func (s *Server) hypothesisTest(c *gin.Context) {
	var req analysis.HypothesisRequest
	if !bind(c, &req) {
		return
	}
	respondWith(c, func() (interface{}, error) {
		return s.svc.Analysis.Hypothesis(c.Request.Context(), req)
	})
}

func (s *Server) outliers(c *gin.Context) {
	var req analysis.OutlierRequest
	if !bind(c, &req) {
		return
	}
	respondWith(c, func() (interface{}, error) {
		return s.svc.Analysis.Outliers(c.Request.Context(), req)
	})
}
