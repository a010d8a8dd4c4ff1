package api

import (
	"github.com/Aidin1998/analytics/internal/analysis"
	"github.com/Aidin1998/analytics/internal/cache"
	"github.com/Aidin1998/analytics/internal/config"
	"github.com/Aidin1998/analytics/internal/dataset"
	"github.com/Aidin1998/analytics/internal/messaging"
	"github.com/Aidin1998/analytics/internal/ml"
	"github.com/Aidin1998/analytics/internal/reports"
	"github.com/Aidin1998/analytics/internal/storage"
	"github.com/Aidin1998/analytics/internal/validation"
	"github.com/Aidin1998/analytics/internal/visualization"
	"go.uber.org/zap"
)

// Services are the feature modules behind the HTTP routes
type Services struct {
	Store     *storage.Store
	Cache     cache.Cache
	Publisher messaging.Publisher
	Retention *reports.Retention

	Datasets      *dataset.Registry
	Analysis      *analysis.Service
	Visualization *visualization.Service
	ML            *ml.Service
	Validation    *validation.Service
	Reports       *reports.Service
}

// NewServices wires the feature modules to shared storage, cache and events
func NewServices(cfg *config.Config, store *storage.Store, c cache.Cache, pub messaging.Publisher, logger *zap.Logger) *Services {
	registry := dataset.NewRegistry(cfg.Storage.UploadDir, cfg.Storage.MaxFileSize, store, logger.Named("dataset"))
	retention := reports.NewRetention(store, cfg.Storage.ReportRetentionDays, logger.Named("retention"))
	thresholds := validation.ThresholdsFrom(cfg.Validation)
	models := ml.NewService(registry, store, pub, ml.Defaults{
		TestSize:    cfg.ML.DefaultTestSize,
		RandomState: cfg.ML.DefaultRandomState,
		CVFolds:     cfg.ML.DefaultCVFolds,
	}, logger.Named("ml"))

	return &Services{
		Store:     store,
		Cache:     c,
		Publisher: pub,
		Retention: retention,
		Datasets:  registry,
		Analysis:  analysis.NewService(registry, c, cfg.Storage.CacheTTL, logger.Named("analysis")),
		Visualization: visualization.NewService(registry, retention, cfg.Storage.ReportDir, visualization.Defaults{
			Width:  cfg.Chart.Width,
			Height: cfg.Chart.Height,
		}, logger.Named("visualization")),
		ML:         models,
		Validation: validation.NewService(registry, thresholds, logger.Named("validation")),
		Reports: reports.NewService(registry, models, store, retention, pub, cfg.Storage.ReportDir,
			thresholds, logger.Named("reports")),
	}
}
