package api

import (
	"context"

	"github.com/Aidin1998/analytics/common/apiutil"
	"github.com/Aidin1998/analytics/internal/reports"
	"github.com/gin-gonic/gin"
)

// generateReport holds a worker slot while sections are computed
func (s *Server) generateReport(c *gin.Context) {
	var req reports.GenerateRequest
	if !bind(c, &req) {
		return
	}
	s.withSlot(c, func(ctx context.Context) (interface{}, error) {
		return s.svc.Reports.Generate(ctx, req)
	})
}

func (s *Server) exportReport(c *gin.Context) {
	var req reports.ExportRequest
	if !bind(c, &req) {
		return
	}
	respondWith(c, func() (interface{}, error) {
		return s.svc.Reports.Export(c.Request.Context(), req)
	})
}

func (s *Server) scheduleReport(c *gin.Context) {
	var req reports.ScheduleRequest
	if !bind(c, &req) {
		return
	}
	respondWith(c, func() (interface{}, error) {
		return s.svc.Reports.Schedule(c.Request.Context(), req)
	})
}

func (s *Server) reportTemplates(c *gin.Context) {
	respond(c, s.svc.Reports.Templates())
}

func (s *Server) downloadReport(c *gin.Context) {
	path, err := s.svc.Reports.Path(c.Param("file"))
	if err != nil {
		apiutil.WriteError(c, err)
		return
	}
	c.FileAttachment(path, c.Param("file"))
}
