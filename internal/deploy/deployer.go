package deploy

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

const (
	defaultProductionEnv = "production"
	defaultProductionNS  = "analytics"
	defaultHelmEnv       = "development"
)

// Deployer runs the build and rollout workflows. Every step fails fast:
// the first failing command aborts the workflow and is not retried.
type Deployer struct {
	cfg      *Config
	run      Runner
	out      *Printer
	logger   *zap.Logger
	verifier ImageVerifier
	cluster  func() (Cluster, error)
}

type Option func(*Deployer)

// WithVerifier replaces the registry lookup used after a push
func WithVerifier(v ImageVerifier) Option {
	return func(d *Deployer) { d.verifier = v }
}

// WithCluster replaces the Kubernetes connection
func WithCluster(connect func() (Cluster, error)) Option {
	return func(d *Deployer) { d.cluster = connect }
}

func NewDeployer(cfg *Config, run Runner, out *Printer, logger *zap.Logger, opts ...Option) *Deployer {
	d := &Deployer{
		cfg:      cfg,
		run:      run,
		out:      out,
		logger:   logger,
		verifier: RemoteVerifier{Username: cfg.GitHubActor, Token: cfg.GitHubToken},
	}
	d.cluster = func() (Cluster, error) {
		return NewKube(cfg.Kubeconfig, cfg.PollInterval, logger)
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Deployer) require(tools ...string) error {
	for _, tool := range tools {
		if err := d.run.LookPath(tool); err != nil {
			return err
		}
	}
	return nil
}

// exec prints the step, runs cmd and reports its outcome
func (d *Deployer) exec(ctx context.Context, step string, cmd Command) error {
	d.out.Step("%s", step)
	if err := d.run.Run(ctx, cmd); err != nil {
		return err
	}
	d.out.OK("%s", step)
	return nil
}

// BuildResult describes a pushed image
type BuildResult struct {
	Image  string
	Tags   []string
	Digest string
}

// BuildAndPush builds the multi-platform image with buildx, pushes it to the
// registry and checks that the manifest resolves.
func (d *Deployer) BuildAndPush(ctx context.Context, versionArg string) (*BuildResult, error) {
	version, err := ResolveVersion(versionArg)
	if err != nil {
		return nil, err
	}
	image := d.cfg.Image()
	d.out.Header("Building %s:%s", image, version.Tag)

	if err := d.require("docker"); err != nil {
		return nil, err
	}
	if d.cfg.GitHubToken == "" {
		return nil, fmt.Errorf("GITHUB_TOKEN is not set; export a token with the write:packages scope")
	}
	if d.cfg.GitHubActor == "" {
		return nil, fmt.Errorf("GITHUB_ACTOR is not set")
	}

	login := Command{
		Name:   "docker",
		Args:   []string{"login", d.cfg.Registry, "-u", d.cfg.GitHubActor, "--password-stdin"},
		Stdin:  strings.NewReader(d.cfg.GitHubToken),
		Secret: []string{d.cfg.GitHubToken},
	}
	if err := d.exec(ctx, "Logging in to "+d.cfg.Registry, login); err != nil {
		return nil, err
	}
	if err := d.ensureBuilder(ctx); err != nil {
		return nil, err
	}

	res := &BuildResult{Image: image, Tags: []string{image + ":" + version.Tag}}
	if version.Release {
		res.Tags = append(res.Tags, image+":"+latestTag)
	}
	args := []string{"buildx", "build",
		"--platform", strings.Join(d.cfg.Platforms, ","),
		"-f", d.cfg.Dockerfile,
		"--build-arg", "VERSION=" + version.Tag,
		"--label", "org.opencontainers.image.version=" + version.Tag,
	}
	for _, tag := range res.Tags {
		args = append(args, "-t", tag)
	}
	args = append(args, "--push", d.cfg.BuildDir)
	if err := d.exec(ctx, "Building and pushing "+strings.Join(res.Tags, ", "), Command{Name: "docker", Args: args}); err != nil {
		return nil, err
	}

	d.out.Step("Verifying %s in registry", res.Tags[0])
	digest, err := d.verifier.Verify(ctx, res.Tags[0])
	if err != nil {
		return nil, err
	}
	res.Digest = digest
	d.out.OK("Pushed %s (%s)", res.Tags[0], digest)
	return res, nil
}

// ensureBuilder selects the named buildx builder, creating it when missing
func (d *Deployer) ensureBuilder(ctx context.Context) error {
	name := d.cfg.BuilderName
	if _, err := d.run.Output(ctx, Command{Name: "docker", Args: []string{"buildx", "inspect", name}}); err == nil {
		return d.exec(ctx, "Using buildx builder "+name, Command{Name: "docker", Args: []string{"buildx", "use", name}})
	}
	return d.exec(ctx, "Creating buildx builder "+name, Command{
		Name: "docker",
		Args: []string{"buildx", "create", "--name", name, "--driver", "docker-container", "--use"},
	})
}

// DeployOptions are the positional arguments of production-deploy
type DeployOptions struct {
	Environment string
	Namespace   string
	Version     string
}

func (o *DeployOptions) defaults() {
	if o.Environment == "" {
		o.Environment = defaultProductionEnv
	}
	if o.Namespace == "" {
		o.Namespace = defaultProductionNS
	}
	if o.Version == "" {
		o.Version = latestTag
	}
}

func (d *Deployer) checkValues(environment string) (string, error) {
	path := ValuesPath(d.cfg.ValuesDir, environment)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("values file %s not found", path)
	}
	return path, nil
}

// ProductionDeploy installs or upgrades the release with the given image tag
// and waits until the deployment is ready.
func (d *Deployer) ProductionDeploy(ctx context.Context, opts DeployOptions) (*DeploymentStatus, error) {
	opts.defaults()
	version, err := ResolveVersion(opts.Version)
	if err != nil {
		return nil, err
	}
	d.out.Header("Deploying %s %s to %s (%s)", d.cfg.ReleaseName, version.Tag, opts.Namespace, opts.Environment)

	if err := d.require("kubectl", "helm"); err != nil {
		return nil, err
	}
	d.out.Step("Checking cluster connection")
	if _, err := d.run.Output(ctx, Command{Name: "kubectl", Args: []string{"cluster-info"}}); err != nil {
		return nil, fmt.Errorf("cannot reach the Kubernetes cluster: %w", err)
	}
	d.out.OK("Cluster reachable")

	values, err := d.checkValues(opts.Environment)
	if err != nil {
		return nil, err
	}

	cluster, err := d.cluster()
	if err != nil {
		return nil, err
	}
	created, err := cluster.EnsureNamespace(ctx, opts.Namespace)
	if err != nil {
		return nil, err
	}
	if created {
		d.out.OK("Created namespace %s", opts.Namespace)
	} else {
		d.out.OK("Namespace %s exists", opts.Namespace)
	}

	if d.cfg.GitHubToken != "" {
		err := cluster.ApplyPullSecret(ctx, opts.Namespace, d.cfg.PullSecretName, RegistryCredentials{
			Server:   d.cfg.Registry,
			Username: d.cfg.GitHubActor,
			Password: d.cfg.GitHubToken,
		})
		if err != nil {
			return nil, err
		}
		d.out.OK("Pull secret %s applied", d.cfg.PullSecretName)
	}

	upgrade := Command{Name: "helm", Args: []string{
		"upgrade", "--install", d.cfg.ReleaseName, d.cfg.ChartPath,
		"-n", opts.Namespace,
		"-f", values,
		"--set", "image.repository=" + d.cfg.Image(),
		"--set", "image.tag=" + version.Tag,
		"--wait", "--timeout", d.cfg.HelmTimeout.String(),
	}}
	if d.cfg.GitHubToken != "" {
		upgrade.Args = append(upgrade.Args, "--set", "imagePullSecrets[0].name="+d.cfg.PullSecretName)
	}
	if err := d.exec(ctx, "Running helm upgrade", upgrade); err != nil {
		return nil, err
	}

	d.out.Step("Waiting for deployment %s", d.cfg.Deployment)
	status, err := cluster.WaitForDeployment(ctx, opts.Namespace, d.cfg.Deployment, d.cfg.RolloutTimeout)
	if err != nil {
		return status, err
	}
	d.out.OK("Deployment ready: %d/%d replicas", status.Ready, status.Desired)

	if err := d.run.Run(ctx, Command{Name: "helm", Args: []string{"status", d.cfg.ReleaseName, "-n", opts.Namespace}}); err != nil {
		return status, err
	}
	return status, nil
}

// HelmDeploy lints the chart and installs it with the environment's values
// into the namespace named by that values file.
func (d *Deployer) HelmDeploy(ctx context.Context, environment string) (string, error) {
	if environment == "" {
		environment = defaultHelmEnv
	}
	if err := d.require("helm"); err != nil {
		return "", err
	}
	path, err := d.checkValues(environment)
	if err != nil {
		return "", err
	}
	values, err := ReadValues(path)
	if err != nil {
		return "", err
	}
	d.out.Header("Helm deploy %s (%s) to %s", d.cfg.ReleaseName, environment, values.Namespace)

	lint := Command{Name: "helm", Args: []string{"lint", d.cfg.ChartPath, "-f", path}}
	if err := d.exec(ctx, "Linting chart", lint); err != nil {
		return "", err
	}
	upgrade := Command{Name: "helm", Args: []string{
		"upgrade", "--install", d.cfg.ReleaseName, d.cfg.ChartPath,
		"-n", values.Namespace, "--create-namespace",
		"-f", path,
	}}
	if err := d.exec(ctx, "Installing release "+d.cfg.ReleaseName, upgrade); err != nil {
		return "", err
	}
	return values.Namespace, nil
}

// Status prints the Helm release and its deployments
func (d *Deployer) Status(ctx context.Context, namespace string) ([]DeploymentStatus, error) {
	if namespace == "" {
		namespace = defaultProductionNS
	}
	if err := d.require("helm"); err != nil {
		return nil, err
	}
	d.out.Header("Release %s in %s", d.cfg.ReleaseName, namespace)
	if err := d.run.Run(ctx, Command{Name: "helm", Args: []string{"status", d.cfg.ReleaseName, "-n", namespace}}); err != nil {
		return nil, err
	}
	cluster, err := d.cluster()
	if err != nil {
		return nil, err
	}
	deployments, err := cluster.Deployments(ctx, namespace)
	if err != nil {
		return nil, err
	}
	for _, s := range deployments {
		line := fmt.Sprintf("%s: %d/%d ready, %d updated (%s)", s.Name, s.Ready, s.Desired, s.Updated, strings.Join(s.Images, ", "))
		if s.RolledOut() {
			d.out.OK("%s", line)
		} else {
			d.out.Fail("%s", line)
		}
	}
	return deployments, nil
}

// Rollback returns the release to revision, or to the previous one when
// revision is empty, and waits for the deployment.
func (d *Deployer) Rollback(ctx context.Context, namespace, revision string) (*DeploymentStatus, error) {
	if namespace == "" {
		namespace = defaultProductionNS
	}
	args := []string{"rollback", d.cfg.ReleaseName}
	if revision != "" {
		if n, err := strconv.Atoi(revision); err != nil || n < 1 {
			return nil, fmt.Errorf("invalid revision %q: expected a positive number", revision)
		}
		args = append(args, revision)
	}
	args = append(args, "-n", namespace, "--wait", "--timeout", d.cfg.HelmTimeout.String())

	if err := d.require("helm"); err != nil {
		return nil, err
	}
	d.out.Header("Rolling back %s in %s", d.cfg.ReleaseName, namespace)
	if err := d.exec(ctx, "Running helm rollback", Command{Name: "helm", Args: args}); err != nil {
		return nil, err
	}
	cluster, err := d.cluster()
	if err != nil {
		return nil, err
	}
	status, err := cluster.WaitForDeployment(ctx, namespace, d.cfg.Deployment, d.cfg.RolloutTimeout)
	if err != nil {
		return status, err
	}
	d.out.OK("Deployment ready: %d/%d replicas", status.Ready, status.Desired)
	return status, nil
}
