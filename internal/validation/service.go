package validation

import (
	"context"
	"time"

	apperrors "github.com/Aidin1998/analytics/common/errors"
	"github.com/Aidin1998/analytics/internal/config"
	"github.com/Aidin1998/analytics/internal/dataset"
	"go.uber.org/zap"
)

// Resolver loads the frame a request refers to
type Resolver interface {
	Resolve(ctx context.Context, ref dataset.Ref) (*dataset.Frame, error)
}

type QualityRequest struct {
	dataset.Ref
	ValidationLevel string `json:"validation_level" binding:"omitempty,oneof=basic standard comprehensive"`
}

type SchemaRequest struct {
	dataset.Ref
	ExpectedSchema map[string]ColumnSchema `json:"expected_schema" binding:"required,dive"`
	StrictMode     bool                    `json:"strict_mode"`
}

type AnomalyRequest struct {
	dataset.Ref
	Methods     []string `json:"detection_methods" binding:"omitempty,dive,oneof=statistical pattern_based"`
	Sensitivity string   `json:"sensitivity" binding:"omitempty,oneof=low medium high"`
}

type BusinessRulesRequest struct {
	dataset.Ref
	BusinessRules []BusinessRule `json:"business_rules" binding:"required,min=1,dive"`
}

// Service runs the validators against stored or inline data
type Service struct {
	data       Resolver
	thresholds Thresholds
	logger     *zap.Logger
	now        func() time.Time
}

// ThresholdsFrom overlays configured limits on the defaults
func ThresholdsFrom(cfg config.ValidationConfig) Thresholds {
	th := DefaultThresholds()
	if cfg.QualityThreshold > 0 {
		th.Quality = cfg.QualityThreshold
	}
	if cfg.MissingThreshold > 0 {
		th.Missing = th.Missing.withPass(cfg.MissingThreshold)
	}
	if cfg.OutlierThreshold > 0 {
		th.Outlier = th.Outlier.withPass(cfg.OutlierThreshold)
	}
	return th
}

func NewService(data Resolver, th Thresholds, logger *zap.Logger) *Service {
	return &Service{data: data, thresholds: th, logger: logger, now: time.Now}
}

func (s *Service) Quality(ctx context.Context, req QualityRequest) (QualityResult, error) {
	switch req.ValidationLevel {
	case "", LevelBasic, LevelStandard, LevelComprehensive:
	default:
		return QualityResult{}, apperrors.Invalidf("unknown validation level %q", req.ValidationLevel).
			WithField("validation_level", "must be one of basic, standard, comprehensive", "oneof")
	}
	f, err := s.data.Resolve(ctx, req.Ref)
	if err != nil {
		return QualityResult{}, err
	}
	res := Quality(f, req.ValidationLevel, s.thresholds, s.now())
	s.logger.Debug("quality assessed",
		zap.Int("columns", f.Width()),
		zap.Float64("score", res.OverallQualityScore))
	return res, nil
}

func (s *Service) Schema(ctx context.Context, req SchemaRequest) (SchemaResult, error) {
	f, err := s.data.Resolve(ctx, req.Ref)
	if err != nil {
		return SchemaResult{}, err
	}
	return Schema(f, req.ExpectedSchema, req.StrictMode, s.now())
}

func (s *Service) Anomalies(ctx context.Context, req AnomalyRequest) (AnomalyResult, error) {
	// Columns narrow the frame on resolve, so every remaining column is scanned.
	f, err := s.data.Resolve(ctx, req.Ref)
	if err != nil {
		return AnomalyResult{}, err
	}
	return Anomalies(f, nil, req.Methods, req.Sensitivity, s.now())
}

func (s *Service) BusinessRules(ctx context.Context, req BusinessRulesRequest) (RulesResult, error) {
	if len(req.BusinessRules) == 0 {
		return RulesResult{}, apperrors.Invalidf("business_rules is required").WithField("business_rules", "required", "required")
	}
	f, err := s.data.Resolve(ctx, req.Ref)
	if err != nil {
		return RulesResult{}, err
	}
	return BusinessRules(f, req.BusinessRules, s.now())
}
