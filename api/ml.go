package api

import (
	"context"

	"github.com/Aidin1998/analytics/internal/ml"
	"github.com/gin-gonic/gin"
)

// trainModel holds a worker slot for the duration of training
func (s *Server) trainModel(c *gin.Context) {
	var req ml.TrainRequest
	if !bind(c, &req) {
		return
	}
	s.withSlot(c, func(ctx context.Context) (interface{}, error) {
		return s.svc.ML.Train(ctx, req)
	})
}

func (s *Server) predict(c *gin.Context) {
	var req ml.PredictRequest
	if !bind(c, &req) {
		return
	}
	respondWith(c, func() (interface{}, error) {
		return s.svc.ML.Predict(c.Request.Context(), req)
	})
}

func (s *Server) evaluateModel(c *gin.Context) {
	var req ml.EvaluateRequest
	if !bind(c, &req) {
		return
	}
	respondWith(c, func() (interface{}, error) {
		return s.svc.ML.Evaluate(c.Request.Context(), req)
	})
}

func (s *Server) listModels(c *gin.Context) {
	respondWith(c, func() (interface{}, error) {
		return s.svc.ML.List(c.Request.Context())
	})
}
