package analysis

import (
	"context"
	"time"

	"github.com/Aidin1998/analytics/internal/cache"
	"github.com/Aidin1998/analytics/internal/dataset"
	"go.uber.org/zap"
)

// Resolver loads the frame a request refers to
type Resolver interface {
	Resolve(ctx context.Context, ref dataset.Ref) (*dataset.Frame, error)
}

type DescriptiveRequest struct {
	dataset.Ref
}

type CorrelationRequest struct {
	dataset.Ref
	Method                string  `json:"method" binding:"omitempty,oneof=pearson spearman kendall"`
	SignificanceThreshold float64 `json:"significance_threshold" binding:"omitempty,gt=0,lte=1"`
}

type HypothesisRequest struct {
	dataset.Ref
	HypothesisParams
}

type OutlierRequest struct {
	dataset.Ref
	Method    string  `json:"method" binding:"omitempty,oneof=iqr zscore"`
	Threshold float64 `json:"threshold" binding:"omitempty,gt=0"`
}

// Service runs analyses against stored or inline data. Descriptive and
// correlation results for stored datasets are cached.
type Service struct {
	data   Resolver
	cache  cache.Cache
	ttl    time.Duration
	logger *zap.Logger
}

func NewService(data Resolver, c cache.Cache, ttl time.Duration, logger *zap.Logger) *Service {
	return &Service{data: data, cache: c, ttl: ttl, logger: logger}
}

// cached serves a result from cache for stored datasets, computing it on miss
func cached[T any](ctx context.Context, s *Service, namespace string, ref dataset.Ref, params interface{}, compute func() (T, error)) (T, error) {
	var zero T
	if s.cache == nil || ref.DataID == "" {
		return compute()
	}
	key, err := cache.Fingerprint(namespace+":"+ref.DataID, ref.Columns, params)
	if err != nil {
		return compute()
	}
	var hit T
	if ok, err := cache.GetJSON(ctx, s.cache, key, &hit); err == nil && ok {
		return hit, nil
	} else if err != nil {
		s.logger.Warn("cache read failed", zap.String("namespace", namespace), zap.Error(err))
	}
	res, err := compute()
	if err != nil {
		return zero, err
	}
	if err := cache.SetJSON(ctx, s.cache, key, res, s.ttl); err != nil {
		s.logger.Warn("cache write failed", zap.String("namespace", namespace), zap.Error(err))
	}
	return res, nil
}

// InvalidateDataset drops cached results of a dataset
func (s *Service) InvalidateDataset(ctx context.Context, dataID string) error {
	if s.cache == nil {
		return nil
	}
	for _, ns := range []string{"descriptive", "correlation"} {
		if err := s.cache.DeletePrefix(ctx, ns+":"+dataID+":"); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) Descriptive(ctx context.Context, req DescriptiveRequest) (DescriptiveResult, error) {
	return cached(ctx, s, "descriptive", req.Ref, nil, func() (DescriptiveResult, error) {
		f, err := s.data.Resolve(ctx, req.Ref)
		if err != nil {
			return DescriptiveResult{}, err
		}
		return Descriptive(f)
	})
}

func (s *Service) Correlation(ctx context.Context, req CorrelationRequest) (CorrelationResult, error) {
	params := []interface{}{req.Method, req.SignificanceThreshold}
	return cached(ctx, s, "correlation", req.Ref, params, func() (CorrelationResult, error) {
		f, err := s.data.Resolve(ctx, req.Ref)
		if err != nil {
			return CorrelationResult{}, err
		}
		return Correlation(f, req.Method, req.SignificanceThreshold)
	})
}

func (s *Service) Hypothesis(ctx context.Context, req HypothesisRequest) (HypothesisResult, error) {
	f, err := s.data.Resolve(ctx, req.Ref)
	if err != nil {
		return HypothesisResult{}, err
	}
	return Hypothesis(f, req.HypothesisParams)
}

func (s *Service) Outliers(ctx context.Context, req OutlierRequest) (OutlierResult, error) {
	f, err := s.data.Resolve(ctx, req.Ref)
	if err != nil {
		return OutlierResult{}, err
	}
	return Outliers(f, req.Method, req.Threshold)
}
