package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	limiter "github.com/ulule/limiter/v3"
)

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host             string
	Port             int
	Workers          int
	MaxContentLength int64
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	ShutdownTimeout  time.Duration
	CORSOrigins      []string
	RateLimit        string
}

// StorageConfig represents on-disk and database locations
type StorageConfig struct {
	UploadDir           string
	ReportDir           string
	LogDir              string
	MaxFileSize         int64
	DatabaseURL         string
	RedisURL            string
	CacheTTL            time.Duration
	ReportRetentionDays int
}

// MLConfig holds training defaults
type MLConfig struct {
	DefaultTestSize    float64
	DefaultRandomState int64
	DefaultCVFolds     int
}

// ValidationConfig holds data quality thresholds
type ValidationConfig struct {
	QualityThreshold float64
	MissingThreshold float64
	OutlierThreshold float64
}

// ChartConfig holds visualization defaults
type ChartConfig struct {
	Width  int
	Height int
}

// StreamingConfig controls event publishing
type StreamingConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

// AuthConfig controls bearer token authentication for /api/v1
type AuthConfig struct {
	Enabled   bool
	JWTSecret string
	Issuer    string
}

// FeatureFlags toggles optional route groups
type FeatureFlags struct {
	MLFeatures        bool
	AdvancedAnalytics bool
}

// Config represents the application configuration
type Config struct {
	AppVersion     string
	Environment    string
	LogLevel       string
	SecretKey      string
	TracingEnabled bool
	// OtelMetricsEnabled exports OpenTelemetry metrics alongside /metrics
	OtelMetricsEnabled bool

	Server     ServerConfig
	Storage    StorageConfig
	ML         MLConfig
	Validation ValidationConfig
	Chart      ChartConfig
	Streaming  StreamingConfig
	Auth       AuthConfig
	Features   FeatureFlags
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("PORT", 5000)
	v.SetDefault("WORKERS", 4)
	v.SetDefault("MAX_CONTENT_LENGTH", 16*1024*1024)
	v.SetDefault("READ_TIMEOUT", "30s")
	v.SetDefault("WRITE_TIMEOUT", "120s")
	v.SetDefault("SHUTDOWN_TIMEOUT", "30s")
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("RATE_LIMIT", "100-M")

	v.SetDefault("APP_VERSION", "1.0.0")
	v.SetDefault("APP_ENV", "production")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("SECRET_KEY", "dev-secret-change-in-production")
	v.SetDefault("TRACING_ENABLED", false)
	v.SetDefault("OTEL_METRICS_ENABLED", false)

	v.SetDefault("UPLOAD_DIR", "uploads")
	v.SetDefault("REPORT_DIR", "reports")
	v.SetDefault("LOG_DIR", "logs")
	v.SetDefault("MAX_FILE_SIZE", 50*1024*1024)
	v.SetDefault("DATABASE_URL", "sqlite://data_analytics.db")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("CACHE_DEFAULT_TIMEOUT", 300)
	v.SetDefault("REPORT_RETENTION_DAYS", 30)

	v.SetDefault("DEFAULT_TEST_SIZE", 0.2)
	v.SetDefault("DEFAULT_RANDOM_STATE", 42)
	v.SetDefault("DEFAULT_CV_FOLDS", 5)

	v.SetDefault("DEFAULT_QUALITY_THRESHOLD", 0.8)
	v.SetDefault("DEFAULT_MISSING_THRESHOLD", 0.05)
	v.SetDefault("DEFAULT_OUTLIER_THRESHOLD", 0.03)

	v.SetDefault("DEFAULT_CHART_WIDTH", 800)
	v.SetDefault("DEFAULT_CHART_HEIGHT", 600)

	v.SetDefault("ENABLE_DATA_STREAMING", false)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_TOPIC", "analytics-events")

	v.SetDefault("AUTH_ENABLED", false)
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_ISSUER", "")

	v.SetDefault("ENABLE_ML_FEATURES", true)
	v.SetDefault("ENABLE_ADVANCED_ANALYTICS", true)
}

// LoadConfig loads the application configuration from .env, an optional
// config file named by CONFIG_FILE and the environment.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	v.AutomaticEnv()
	// FLASK_ENV is still honoured by older deployment values files
	if err := v.BindEnv("APP_ENV", "APP_ENV", "FLASK_ENV"); err != nil {
		return nil, fmt.Errorf("failed to bind APP_ENV: %w", err)
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		AppVersion:         v.GetString("APP_VERSION"),
		Environment:        v.GetString("APP_ENV"),
		LogLevel:           strings.ToLower(v.GetString("LOG_LEVEL")),
		SecretKey:          v.GetString("SECRET_KEY"),
		TracingEnabled:     v.GetBool("TRACING_ENABLED"),
		OtelMetricsEnabled: v.GetBool("OTEL_METRICS_ENABLED"),
		Server: ServerConfig{
			Host:             v.GetString("HOST"),
			Port:             v.GetInt("PORT"),
			Workers:          v.GetInt("WORKERS"),
			MaxContentLength: v.GetInt64("MAX_CONTENT_LENGTH"),
			ReadTimeout:      v.GetDuration("READ_TIMEOUT"),
			WriteTimeout:     v.GetDuration("WRITE_TIMEOUT"),
			ShutdownTimeout:  v.GetDuration("SHUTDOWN_TIMEOUT"),
			CORSOrigins:      splitList(v.GetString("CORS_ORIGINS")),
			RateLimit:        v.GetString("RATE_LIMIT"),
		},
		Storage: StorageConfig{
			UploadDir:           v.GetString("UPLOAD_DIR"),
			ReportDir:           v.GetString("REPORT_DIR"),
			LogDir:              v.GetString("LOG_DIR"),
			MaxFileSize:         v.GetInt64("MAX_FILE_SIZE"),
			DatabaseURL:         v.GetString("DATABASE_URL"),
			RedisURL:            v.GetString("REDIS_URL"),
			CacheTTL:            time.Duration(v.GetInt("CACHE_DEFAULT_TIMEOUT")) * time.Second,
			ReportRetentionDays: v.GetInt("REPORT_RETENTION_DAYS"),
		},
		ML: MLConfig{
			DefaultTestSize:    v.GetFloat64("DEFAULT_TEST_SIZE"),
			DefaultRandomState: v.GetInt64("DEFAULT_RANDOM_STATE"),
			DefaultCVFolds:     v.GetInt("DEFAULT_CV_FOLDS"),
		},
		Validation: ValidationConfig{
			QualityThreshold: v.GetFloat64("DEFAULT_QUALITY_THRESHOLD"),
			MissingThreshold: v.GetFloat64("DEFAULT_MISSING_THRESHOLD"),
			OutlierThreshold: v.GetFloat64("DEFAULT_OUTLIER_THRESHOLD"),
		},
		Chart: ChartConfig{
			Width:  v.GetInt("DEFAULT_CHART_WIDTH"),
			Height: v.GetInt("DEFAULT_CHART_HEIGHT"),
		},
		Streaming: StreamingConfig{
			Enabled: v.GetBool("ENABLE_DATA_STREAMING"),
			Brokers: splitList(v.GetString("KAFKA_BROKERS")),
			Topic:   v.GetString("KAFKA_TOPIC"),
		},
		Auth: AuthConfig{
			Enabled:   v.GetBool("AUTH_ENABLED"),
			JWTSecret: v.GetString("JWT_SECRET"),
			Issuer:    v.GetString("JWT_ISSUER"),
		},
		Features: FeatureFlags{
			MLFeatures:        v.GetBool("ENABLE_ML_FEATURES"),
			AdvancedAnalytics: v.GetBool("ENABLE_ADVANCED_ANALYTICS"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Server.Port)
	}
	if c.Server.Workers < 1 {
		return fmt.Errorf("WORKERS must be at least 1, got %d", c.Server.Workers)
	}
	if c.Server.MaxContentLength <= 0 {
		return fmt.Errorf("MAX_CONTENT_LENGTH must be positive")
	}
	if c.Storage.MaxFileSize <= 0 {
		return fmt.Errorf("MAX_FILE_SIZE must be positive")
	}
	if _, err := limiter.NewRateFromFormatted(c.Server.RateLimit); err != nil {
		return fmt.Errorf("invalid RATE_LIMIT %q: %w", c.Server.RateLimit, err)
	}
	if c.ML.DefaultTestSize <= 0 || c.ML.DefaultTestSize >= 1 {
		return fmt.Errorf("DEFAULT_TEST_SIZE must be in (0,1), got %v", c.ML.DefaultTestSize)
	}
	if c.ML.DefaultCVFolds < 2 {
		return fmt.Errorf("DEFAULT_CV_FOLDS must be at least 2")
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("AUTH_ENABLED requires JWT_SECRET")
	}
	if c.Streaming.Enabled && len(c.Streaming.Brokers) == 0 {
		return fmt.Errorf("ENABLE_DATA_STREAMING requires KAFKA_BROKERS")
	}
	return nil
}

// Addr returns the listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// IsDevelopment reports whether the service runs in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// EnsureDirs creates the log, upload and report directories
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.Storage.LogDir, c.Storage.UploadDir, c.Storage.ReportDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
