package main

import (
	"context"
	"io"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/Aidin1998/analytics/api"
	"github.com/Aidin1998/analytics/internal/cache"
	"github.com/Aidin1998/analytics/internal/config"
	"github.com/Aidin1998/analytics/internal/messaging"
	"github.com/Aidin1998/analytics/internal/reports"
	"github.com/Aidin1998/analytics/internal/storage"
	"github.com/Aidin1998/analytics/internal/telemetry"
	"github.com/Aidin1998/analytics/pkg/logger"
	"github.com/Aidin1998/analytics/pkg/metrics"
	"go.uber.org/zap"
)

const (
	scheduleInterval  = time.Minute
	retentionInterval = time.Hour
)

func main() {
	// Load configuration (.env, config.yaml, environment)
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.EnsureDirs(); err != nil {
		log.Fatalf("Failed to create data directories: %v", err)
	}

	zapLogger, err := logger.NewLoggerWithFile(cfg.LogLevel, cfg.Storage.LogDir)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:    "analytics-service",
		ServiceVersion: cfg.AppVersion,
		Tracing:        cfg.TracingEnabled,
		Metrics:        cfg.OtelMetricsEnabled,
	})
	if err != nil {
		zapLogger.Fatal("Failed to set up telemetry", zap.Error(err))
	}

	db, err := storage.Open(cfg.Storage.DatabaseURL)
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}
	store, err := storage.NewStore(db)
	if err != nil {
		zapLogger.Fatal("Failed to prepare catalog", zap.Error(err))
	}

	resultCache, err := cache.New(ctx, cfg.Storage.RedisURL, cfg.Storage.CacheTTL)
	if err != nil {
		zapLogger.Fatal("Failed to connect to cache", zap.Error(err))
	}
	zapLogger.Info("Result cache ready", zap.String("backend", resultCache.Stats().Backend))

	var publisher messaging.Publisher = messaging.NewLogPublisher(zapLogger.Named("events"))
	if cfg.Streaming.Enabled {
		kp, err := messaging.NewKafkaPublisher(messaging.KafkaConfig{
			Brokers: cfg.Streaming.Brokers,
			Topic:   cfg.Streaming.Topic,
		}, zapLogger.Named("kafka"))
		if err != nil {
			zapLogger.Fatal("Failed to create Kafka publisher", zap.Error(err))
		}
		publisher = kp
	}

	services := api.NewServices(cfg, store, resultCache, publisher, zapLogger)
	server, err := api.NewServer(cfg, services, metrics.NewTracker(), zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to create API server", zap.Error(err))
	}

	scheduler, err := reports.NewScheduler(services.Reports, scheduleInterval, zapLogger.Named("scheduler"))
	if err != nil {
		zapLogger.Fatal("Failed to create report scheduler", zap.Error(err))
	}
	go scheduler.Run(ctx)
	go services.Retention.Run(ctx, retentionInterval)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	select {
	case <-ctx.Done():
		zapLogger.Info("Shutting down server...")
	case err := <-serverErr:
		if err != nil {
			zapLogger.Error("API server stopped", zap.Error(err))
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Failed to shut down API server", zap.Error(err))
	}
	if err := publisher.Close(); err != nil {
		zapLogger.Error("Failed to close event publisher", zap.Error(err))
	}
	if err := store.Close(); err != nil {
		zapLogger.Error("Failed to close database", zap.Error(err))
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		zapLogger.Error("Failed to flush telemetry", zap.Error(err))
	}
	if closer, ok := resultCache.(io.Closer); ok {
		_ = closer.Close()
	}
	zapLogger.Info("Server exited properly")
}
