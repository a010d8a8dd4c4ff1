package main

import (
	"context"
	"fmt"

	"github.com/Aidin1998/analytics/internal/deploy"
	"github.com/spf13/cobra"
)

var buildCmd = &cobra.Command{
	Use:   "build-and-push [version]",
	Short: "Build the multi-platform image and push it to the registry",
	Long: `Build the service image for every configured platform and push it.

The version defaults to "latest". Release versions (v1.2.3) are also tagged
"latest"; pre-releases are not.

Examples:
  deployctl build-and-push
  deployctl build-and-push v1.4.0`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWith(func(ctx context.Context, a *app) error {
			res, err := a.deployer.BuildAndPush(ctx, argOr(args, 0, ""))
			if err != nil {
				return err
			}
			for _, tag := range res.Tags {
				a.out.Line("%s", tag)
			}
			a.out.Line("digest %s", res.Digest)
			return nil
		})
	},
}

var productionDeployCmd = &cobra.Command{
	Use:   "production-deploy [environment] [namespace] [version]",
	Short: "Deploy an image version with Helm and wait for the rollout",
	Long: `Install or upgrade the Helm release using deploy/helm/values/<environment>.yaml.

Defaults: environment "production", namespace "analytics", version "latest".

Examples:
  deployctl production-deploy
  deployctl production-deploy production analytics v1.4.0`,
	Args: cobra.MaximumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWith(func(ctx context.Context, a *app) error {
			status, err := a.deployer.ProductionDeploy(ctx, deploy.DeployOptions{
				Environment: argOr(args, 0, ""),
				Namespace:   argOr(args, 1, ""),
				Version:     argOr(args, 2, ""),
			})
			if err != nil {
				return err
			}
			a.out.Line("images: %v", status.Images)
			return nil
		})
	},
}

var helmDeployCmd = &cobra.Command{
	Use:   "helm-deploy [environment]",
	Short: "Lint the chart and install it with an environment's values",
	Long: `Lint the chart and install it into the namespace named in the values file.

The environment defaults to "development".`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWith(func(ctx context.Context, a *app) error {
			ns, err := a.deployer.HelmDeploy(ctx, argOr(args, 0, ""))
			if err != nil {
				return err
			}
			a.out.Line("check progress with: kubectl get pods -n %s", ns)
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status [namespace]",
	Short: "Show the Helm release and deployment readiness",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWith(func(ctx context.Context, a *app) error {
			deployments, err := a.deployer.Status(ctx, argOr(args, 0, ""))
			if err != nil {
				return err
			}
			for _, d := range deployments {
				if !d.RolledOut() {
					return fmt.Errorf("deployment %s is not fully rolled out", d.Name)
				}
			}
			return nil
		})
	},
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback [revision]",
	Short: "Roll the release back to a previous revision",
	Long: `Roll the Helm release back and wait for the deployment.

Without a revision the release returns to the one before the current.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		namespace, _ := cmd.Flags().GetString("namespace")
		return runWith(func(ctx context.Context, a *app) error {
			_, err := a.deployer.Rollback(ctx, namespace, argOr(args, 0, ""))
			return err
		})
	},
}

func init() {
	rollbackCmd.Flags().StringP("namespace", "n", "", "namespace of the release (default \"analytics\")")
	rootCmd.AddCommand(buildCmd, productionDeployCmd, helmDeployCmd, statusCmd, rollbackCmd)
}
