package api

import (
	"github.com/Aidin1998/analytics/common/apiutil"
	"github.com/Aidin1998/analytics/internal/visualization"
	"github.com/gin-gonic/gin"
)

func (s *Server) createChart(c *gin.Context) {
	var req visualization.ChartRequest
	if !bind(c, &req) {
		return
	}
	respondWith(c, func() (interface{}, error) {
		return s.svc.Visualization.Chart(c.Request.Context(), req)
	})
}

func (s *Server) createDashboard(c *gin.Context) {
	var req visualization.DashboardRequest
	if !bind(c, &req) {
		return
	}
	respondWith(c, func() (interface{}, error) {
		return s.svc.Visualization.Dashboard(c.Request.Context(), req)
	})
}

func (s *Server) exportChart(c *gin.Context) {
	var req visualization.ExportRequest
	if !bind(c, &req) {
		return
	}
	respondWith(c, func() (interface{}, error) {
		return s.svc.Visualization.Export(c.Request.Context(), req)
	})
}

func (s *Server) palettes(c *gin.Context) {
	respond(c, s.svc.Visualization.Palettes())
}

func (s *Server) downloadChart(c *gin.Context) {
	path, err := s.svc.Visualization.Path(c.Param("file"))
	if err != nil {
		apiutil.WriteError(c, err)
		return
	}
	c.FileAttachment(path, c.Param("file"))
}
