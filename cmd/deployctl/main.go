// Command deployctl builds the analytics service image and deploys it to
// Kubernetes with Helm.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Aidin1998/analytics/internal/deploy"
	"github.com/Aidin1998/analytics/pkg/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string
	noColor    bool
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "deployctl",
	Short: "Build, publish and deploy the analytics service",
	Long: `deployctl builds multi-platform images, pushes them to the container
registry and rolls the Helm release out to Kubernetes.

Settings come from deploy.yaml (or --config) and environment variables such as
GITHUB_TOKEN, GITHUB_ACTOR, REGISTRY and CHART_PATH.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to deploy.yaml")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log every command and retry")
}

// app bundles what every subcommand needs
type app struct {
	deployer *deploy.Deployer
	out      *deploy.Printer
	logger   *zap.Logger
}

func newApp() (*app, error) {
	level := "warn"
	if verbose {
		level = "debug"
	}
	log, err := logger.NewLogger(level)
	if err != nil {
		return nil, err
	}
	cfg, err := deploy.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	out := deploy.NewPrinter(os.Stdout, noColor)
	run := deploy.NewExecRunner(log)
	return &app{
		deployer: deploy.NewDeployer(cfg, run, out, log),
		out:      out,
		logger:   log,
	}, nil
}

// runWith builds the app and runs fn under a signal-aware context
func runWith(fn func(ctx context.Context, a *app) error) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return fn(ctx, a)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		deploy.NewPrinter(os.Stderr, noColor).Fail("%v", err)
		os.Exit(deploy.ExitCode(err))
	}
}

func argOr(args []string, i int, def string) string {
	if i < len(args) && args[i] != "" {
		return args[i]
	}
	return def
}
