// Package deploy builds the service image and rolls it out with Helm.
// External tools (docker, helm, kubectl) run through a Runner; Kubernetes
// objects the rollout depends on are managed through client-go.
package deploy

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is read from deploy.yaml (optional) and the environment
type Config struct {
	Registry    string
	ImageOwner  string
	ImageName   string
	GitHubToken string
	GitHubActor string

	Platforms   []string
	BuilderName string
	Dockerfile  string
	BuildDir    string

	ChartPath      string
	ValuesDir      string
	ReleaseName    string
	Deployment     string
	PullSecretName string
	HelmTimeout    time.Duration
	RolloutTimeout time.Duration
	PollInterval   time.Duration
	Kubeconfig     string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("registry", "ghcr.io")
	v.SetDefault("image_owner", "")
	v.SetDefault("image_name", "analytics-service")
	v.SetDefault("github_token", "")
	v.SetDefault("github_actor", "")
	v.SetDefault("platforms", "linux/amd64,linux/arm64")
	v.SetDefault("builder_name", "analytics-builder")
	v.SetDefault("dockerfile", "Dockerfile")
	v.SetDefault("build_dir", ".")
	v.SetDefault("chart_path", "deploy/helm/analytics-service")
	v.SetDefault("values_dir", "deploy/helm/values")
	v.SetDefault("release_name", "analytics-service")
	v.SetDefault("deployment", "")
	v.SetDefault("pull_secret_name", "ghcr-secret")
	v.SetDefault("helm_timeout", "10m")
	v.SetDefault("rollout_timeout", "5m")
	v.SetDefault("poll_interval", "5s")
	v.SetDefault("kubeconfig", "")
}

// LoadConfig reads path when given, otherwise ./deploy.yaml if it exists.
// Environment variables (REGISTRY, GITHUB_TOKEN, CHART_PATH, ...) override
// file values.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else {
		v.SetConfigName("deploy")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read deploy.yaml: %w", err)
			}
		}
	}

	cfg := &Config{
		Registry:       v.GetString("registry"),
		ImageOwner:     v.GetString("image_owner"),
		ImageName:      v.GetString("image_name"),
		GitHubToken:    v.GetString("github_token"),
		GitHubActor:    v.GetString("github_actor"),
		Platforms:      splitList(v.GetString("platforms")),
		BuilderName:    v.GetString("builder_name"),
		Dockerfile:     v.GetString("dockerfile"),
		BuildDir:       v.GetString("build_dir"),
		ChartPath:      v.GetString("chart_path"),
		ValuesDir:      v.GetString("values_dir"),
		ReleaseName:    v.GetString("release_name"),
		Deployment:     v.GetString("deployment"),
		PullSecretName: v.GetString("pull_secret_name"),
		HelmTimeout:    v.GetDuration("helm_timeout"),
		RolloutTimeout: v.GetDuration("rollout_timeout"),
		PollInterval:   v.GetDuration("poll_interval"),
		Kubeconfig:     v.GetString("kubeconfig"),
	}
	if cfg.ImageOwner == "" {
		cfg.ImageOwner = cfg.GitHubActor
	}
	if cfg.Deployment == "" {
		cfg.Deployment = cfg.ReleaseName
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings every command needs
func (c *Config) Validate() error {
	if c.Registry == "" || c.ImageName == "" {
		return fmt.Errorf("registry and image name must be set")
	}
	if c.ReleaseName == "" {
		return fmt.Errorf("release name must be set")
	}
	if len(c.Platforms) == 0 {
		return fmt.Errorf("at least one build platform is required")
	}
	if c.PollInterval <= 0 || c.RolloutTimeout <= 0 || c.HelmTimeout <= 0 {
		return fmt.Errorf("timeouts and poll interval must be positive")
	}
	return nil
}

// Image is the repository without a tag, e.g. ghcr.io/acme/analytics-service.
// Registries require lowercase repository names.
func (c *Config) Image() string {
	parts := []string{c.Registry}
	if c.ImageOwner != "" {
		parts = append(parts, c.ImageOwner)
	}
	parts = append(parts, c.ImageName)
	return strings.ToLower(strings.Join(parts, "/"))
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
