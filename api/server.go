package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Aidin1998/analytics/common/apiutil"
	"github.com/Aidin1998/analytics/common/auth"
	apperrors "github.com/Aidin1998/analytics/common/errors"
	"github.com/Aidin1998/analytics/docs"
	"github.com/Aidin1998/analytics/internal/config"
	"github.com/Aidin1998/analytics/pkg/metrics"
	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	limiter "github.com/ulule/limiter/v3"
	ginlimiter "github.com/ulule/limiter/v3/drivers/middleware/gin"
	memory "github.com/ulule/limiter/v3/drivers/store/memory"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const (
	serviceName = "Data Analytics Microservice"
	scrapePath  = "/metrics"
)

// Server represents the API server
type Server struct {
	cfg     *config.Config
	svc     *Services
	tracker *metrics.Tracker
	logger  *zap.Logger
	router  *gin.Engine
	http    *http.Server

	// heavy bounds concurrent model training and report generation
	heavy *semaphore.Weighted
}

// NewServer creates the API server and registers every route
func NewServer(cfg *config.Config, svc *Services, tracker *metrics.Tracker, logger *zap.Logger) (*Server, error) {
	rate, err := limiter.NewRateFromFormatted(cfg.Server.RateLimit)
	if err != nil {
		return nil, err
	}
	apiutil.RegisterJSONTagNames()

	s := &Server{
		cfg:     cfg,
		svc:     svc,
		tracker: tracker,
		logger:  logger,
		heavy:   semaphore.NewWeighted(int64(cfg.Server.Workers)),
	}

	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))
	if cfg.TracingEnabled {
		router.Use(otelgin.Middleware("analytics-api"))
	}
	router.Use(cors.New(corsConfig(cfg.Server.CORSOrigins)))
	router.Use(apiutil.MetricsMiddleware(tracker, scrapePath))
	router.Use(bodyLimit(cfg.Server.MaxContentLength))
	router.NoRoute(apiutil.NotFoundHandler)
	router.NoMethod(apiutil.MethodNotAllowedHandler)

	s.router = router
	s.registerRoutes(ginlimiter.NewMiddleware(
		limiter.New(memory.NewStore(), rate),
		ginlimiter.WithLimitReachedHandler(func(c *gin.Context) {
			apiutil.WriteErrorResponse(c, http.StatusTooManyRequests, "Too many requests",
				"Rate limit exceeded, retry later", nil)
		}),
	))
	return s, nil
}

func corsConfig(origins []string) cors.Config {
	cc := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length", "Content-Disposition"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cc.AllowAllOrigins = true
		return cc
	}
	cc.AllowOrigins = origins
	cc.AllowCredentials = true
	return cc
}

// bodyLimit rejects requests whose body exceeds max bytes
func bodyLimit(max int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > max {
			apiutil.WriteErrorResponse(c, http.StatusRequestEntityTooLarge, "Request entity too large",
				"The uploaded file is too large", nil)
			return
		}
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, max)
		}
		c.Next()
	}
}

// Router returns the internal Gin engine for testing purposes
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start serves HTTP on the configured address until Shutdown is called
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:         s.cfg.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}
	s.logger.Info("Starting API server", zap.String("addr", s.http.Addr),
		zap.Int("workers", s.cfg.Server.Workers))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) registerRoutes(rateLimit gin.HandlerFunc) {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/ready", s.readiness)
	s.router.GET(scrapePath, gin.WrapH(promhttp.HandlerFor(
		metrics.NewRegistry(s.tracker), promhttp.HandlerOpts{})))
	docs.SwaggerInfo.Version = s.cfg.AppVersion
	s.router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	v1 := s.router.Group("/api/v1")
	v1.Use(rateLimit)
	if s.cfg.Auth.Enabled {
		v1.Use(auth.Middleware(s.logger, auth.AuthorizationConfig{
			Secret: s.cfg.Auth.JWTSecret,
			Issuer: s.cfg.Auth.Issuer,
		}))
	}

	data := v1.Group("/data")
	{
		data.POST("/upload", s.uploadData)
		data.POST("/clean", s.cleanData)
		data.POST("/transform", s.transformData)
		data.POST("/label", s.labelFile)
		data.GET("", s.listData)
		data.GET("/:id", s.getData)
		if s.cfg.Auth.Enabled {
			data.DELETE("/:id", auth.RequireRole("admin"), s.deleteData)
		} else {
			data.DELETE("/:id", s.deleteData)
		}
	}

	analysis := v1.Group("/analysis")
	{
		analysis.POST("/descriptive", s.descriptiveStats)
		analysis.POST("/correlation", s.correlation)
		if s.cfg.Features.AdvancedAnalytics {
			analysis.POST("/hypothesis", s.hypothesisTest)
			analysis.POST("/outliers", s.outliers)
		}
	}

	charts := v1.Group("/visualization")
	{
		charts.POST("/chart", s.createChart)
		charts.POST("/dashboard", s.createDashboard)
		charts.POST("/export", s.exportChart)
		charts.GET("/palettes", s.palettes)
		charts.GET("/download/:file", s.downloadChart)
	}

	if s.cfg.Features.MLFeatures {
		ml := v1.Group("/ml")
		{
			ml.POST("/train", s.trainModel)
			ml.POST("/predict", s.predict)
			ml.POST("/evaluate", s.evaluateModel)
			ml.GET("/models", s.listModels)
		}
	}

	checks := v1.Group("/validation")
	{
		checks.POST("/quality", s.dataQuality)
		checks.POST("/schema", s.validateSchema)
		if s.cfg.Features.AdvancedAnalytics {
			checks.POST("/anomalies", s.detectAnomalies)
		}
		checks.POST("/business-rules", s.businessRules)
	}

	reports := v1.Group("/reports")
	{
		reports.POST("/generate", s.generateReport)
		reports.POST("/export", s.exportReport)
		reports.POST("/schedule", s.scheduleReport)
		reports.GET("/templates", s.reportTemplates)
		reports.GET("/download/:file", s.downloadReport)
	}

	v1.GET("/metrics", s.endpointMetrics)
	v1.GET("/metrics/health", s.metricsHealth)
}

// withSlot runs fn while holding one of the WORKERS slots. A request that
// gives up waiting is answered as unavailable.
func (s *Server) withSlot(c *gin.Context, fn func(ctx context.Context) (interface{}, error)) {
	ctx := c.Request.Context()
	if err := s.heavy.Acquire(ctx, 1); err != nil {
		apiutil.WriteError(c, apperrors.Unavailable.Explain("all workers are busy").Wrap(err))
		return
	}
	defer s.heavy.Release(1)
	out, err := fn(ctx)
	if err != nil {
		apiutil.WriteError(c, err)
		return
	}
	respond(c, out)
}
