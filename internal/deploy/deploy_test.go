package deploy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeRunner struct {
	missing map[string]bool
	fail    map[string]int
	cmds    []string
	stdin   []string
}

func (f *fakeRunner) LookPath(name string) error {
	if f.missing[name] {
		return fmt.Errorf("%s is not installed or not in PATH", name)
	}
	return nil
}

func (f *fakeRunner) record(cmd Command) error {
	s := cmd.String()
	f.cmds = append(f.cmds, s)
	if cmd.Stdin != nil {
		b, _ := io.ReadAll(cmd.Stdin)
		f.stdin = append(f.stdin, string(b))
	}
	for prefix, code := range f.fail {
		if strings.HasPrefix(s, prefix) {
			return &CommandError{Command: s, ExitCode: code}
		}
	}
	return nil
}

func (f *fakeRunner) Run(_ context.Context, cmd Command) error { return f.record(cmd) }

func (f *fakeRunner) Output(_ context.Context, cmd Command) ([]byte, error) {
	return nil, f.record(cmd)
}

type fakeVerifier struct {
	images []string
	err    error
}

func (v *fakeVerifier) Verify(_ context.Context, image string) (string, error) {
	v.images = append(v.images, image)
	if v.err != nil {
		return "", v.err
	}
	return "sha256:abc", nil
}

type fakeCluster struct {
	namespaces []string
	secrets    []string
	waited     []string
	waitErr    error
}

func (c *fakeCluster) EnsureNamespace(_ context.Context, ns string) (bool, error) {
	c.namespaces = append(c.namespaces, ns)
	return true, nil
}

func (c *fakeCluster) ApplyPullSecret(_ context.Context, ns, name string, creds RegistryCredentials) error {
	c.secrets = append(c.secrets, ns+"/"+name+"@"+creds.Server)
	return nil
}

func (c *fakeCluster) WaitForDeployment(_ context.Context, ns, name string, _ time.Duration) (*DeploymentStatus, error) {
	c.waited = append(c.waited, ns+"/"+name)
	if c.waitErr != nil {
		return &DeploymentStatus{}, c.waitErr
	}
	return &DeploymentStatus{Name: name, Namespace: ns, Desired: 2, Updated: 2, Ready: 2, Available: 2}, nil
}

func (c *fakeCluster) Deployments(_ context.Context, ns string) ([]DeploymentStatus, error) {
	return []DeploymentStatus{
		{Name: "analytics-service", Namespace: ns, Desired: 2, Updated: 2, Ready: 2, Available: 2, Images: []string{"img:1"}},
		{Name: "worker", Namespace: ns, Desired: 1, Updated: 0, Ready: 0, Available: 0},
	}, nil
}

func testDeployConfig(t *testing.T) *Config {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "production.yaml"), []byte("namespace: analytics\nreplicaCount: 3\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "development.yaml"), []byte("namespace: analytics-dev\nimage:\n  tag: dev\n"), 0o644))
	return &Config{
		Registry:       "ghcr.io",
		ImageOwner:     "Acme",
		ImageName:      "analytics-service",
		GitHubToken:    "ghp_secret",
		GitHubActor:    "octo",
		Platforms:      []string{"linux/amd64", "linux/arm64"},
		BuilderName:    "analytics-builder",
		Dockerfile:     "Dockerfile",
		BuildDir:       ".",
		ChartPath:      "chart",
		ValuesDir:      dir,
		ReleaseName:    "analytics-service",
		Deployment:     "analytics-service",
		PullSecretName: "ghcr-secret",
		HelmTimeout:    10 * time.Minute,
		RolloutTimeout: time.Minute,
		PollInterval:   time.Second,
	}
}

func newTestDeployer(t *testing.T, cfg *Config, run *fakeRunner, v *fakeVerifier, c *fakeCluster) (*Deployer, *bytes.Buffer) {
	var out bytes.Buffer
	d := NewDeployer(cfg, run, NewPrinter(&out, true), zaptest.NewLogger(t),
		WithVerifier(v),
		WithCluster(func() (Cluster, error) { return c, nil }))
	return d, &out
}

func TestResolveVersion(t *testing.T) {
	cases := []struct {
		arg     string
		tag     string
		release bool
		wantErr bool
	}{
		{"", "latest", false, false},
		{"latest", "latest", false, false},
		{"v1.2.3", "v1.2.3", true, false},
		{"1.2.3-rc.1", "1.2.3-rc.1", false, false},
		{"banana", "", false, true},
	}
	for _, tc := range cases {
		t.Run(tc.arg, func(t *testing.T) {
			v, err := ResolveVersion(tc.arg)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.tag, v.Tag)
			assert.Equal(t, tc.release, v.Release)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deploy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("image_owner: Acme\nrelease_name: analytics\nplatforms: linux/amd64\n"), 0o644))
	t.Setenv("GITHUB_TOKEN", "tok")
	t.Setenv("RELEASE_NAME", "analytics-prod")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "ghcr.io/acme/analytics-service", cfg.Image())
	assert.Equal(t, "analytics-prod", cfg.ReleaseName)
	assert.Equal(t, "analytics-prod", cfg.Deployment)
	assert.Equal(t, []string{"linux/amd64"}, cfg.Platforms)
	assert.Equal(t, "tok", cfg.GitHubToken)
	assert.Equal(t, 10*time.Minute, cfg.HelmTimeout)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestCommandStringMasksSecrets(t *testing.T) {
	cmd := Command{Name: "docker", Args: []string{"login", "-p", "hunter2"}, Secret: []string{"hunter2"}}
	assert.Equal(t, "docker login -p ****", cmd.String())
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(fmt.Errorf("plain")))
	assert.Equal(t, 3, ExitCode(fmt.Errorf("wrapped: %w", &CommandError{Command: "helm", ExitCode: 3})))
}

func TestBuildAndPush(t *testing.T) {
	cfg := testDeployConfig(t)
	run := &fakeRunner{fail: map[string]int{"docker buildx inspect": 1}}
	v := &fakeVerifier{}
	d, out := newTestDeployer(t, cfg, run, v, &fakeCluster{})

	res, err := d.BuildAndPush(context.Background(), "v1.2.0")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"docker login ghcr.io -u octo --password-stdin",
		"docker buildx inspect analytics-builder",
		"docker buildx create --name analytics-builder --driver docker-container --use",
		"docker buildx build --platform linux/amd64,linux/arm64 -f Dockerfile --build-arg VERSION=v1.2.0 " +
			"--label org.opencontainers.image.version=v1.2.0 -t ghcr.io/acme/analytics-service:v1.2.0 " +
			"-t ghcr.io/acme/analytics-service:latest --push .",
	}, run.cmds)
	assert.Equal(t, []string{"ghp_secret"}, run.stdin)
	assert.Equal(t, []string{"ghcr.io/acme/analytics-service:v1.2.0"}, v.images)
	assert.Equal(t, "sha256:abc", res.Digest)
	assert.Contains(t, out.String(), "✓ Pushed ghcr.io/acme/analytics-service:v1.2.0")
	assert.NotContains(t, out.String(), "ghp_secret")
}

func TestBuildAndPushReusesBuilderAndSkipsLatestForPrerelease(t *testing.T) {
	run := &fakeRunner{}
	d, _ := newTestDeployer(t, testDeployConfig(t), run, &fakeVerifier{}, &fakeCluster{})

	res, err := d.BuildAndPush(context.Background(), "v2.0.0-rc.1")
	require.NoError(t, err)
	assert.Equal(t, "docker buildx use analytics-builder", run.cmds[2])
	assert.Equal(t, []string{"ghcr.io/acme/analytics-service:v2.0.0-rc.1"}, res.Tags)
}

func TestBuildAndPushFailsFast(t *testing.T) {
	cfg := testDeployConfig(t)
	cfg.GitHubToken = ""
	run := &fakeRunner{}
	d, _ := newTestDeployer(t, cfg, run, &fakeVerifier{}, &fakeCluster{})
	_, err := d.BuildAndPush(context.Background(), "")
	assert.ErrorContains(t, err, "GITHUB_TOKEN")
	assert.Empty(t, run.cmds)

	run = &fakeRunner{missing: map[string]bool{"docker": true}}
	d, _ = newTestDeployer(t, testDeployConfig(t), run, &fakeVerifier{}, &fakeCluster{})
	_, err = d.BuildAndPush(context.Background(), "")
	assert.ErrorContains(t, err, "docker is not installed")
	assert.Empty(t, run.cmds)

	_, err = d.BuildAndPush(context.Background(), "not-a-version")
	assert.ErrorContains(t, err, "invalid version")

	run = &fakeRunner{fail: map[string]int{"docker buildx build": 2}}
	v := &fakeVerifier{}
	d, _ = newTestDeployer(t, testDeployConfig(t), run, v, &fakeCluster{})
	_, err = d.BuildAndPush(context.Background(), "latest")
	require.Error(t, err)
	assert.Equal(t, 2, ExitCode(err))
	assert.Empty(t, v.images)
	assert.Len(t, run.cmds, 4)
}

func TestProductionDeploy(t *testing.T) {
	cfg := testDeployConfig(t)
	run := &fakeRunner{}
	cluster := &fakeCluster{}
	d, out := newTestDeployer(t, cfg, run, &fakeVerifier{}, cluster)

	status, err := d.ProductionDeploy(context.Background(), DeployOptions{Version: "v1.0.0"})
	require.NoError(t, err)
	assert.True(t, status.RolledOut())

	values := filepath.Join(cfg.ValuesDir, "production.yaml")
	assert.Equal(t, []string{
		"kubectl cluster-info",
		"helm upgrade --install analytics-service chart -n analytics -f " + values +
			" --set image.repository=ghcr.io/acme/analytics-service --set image.tag=v1.0.0 --wait --timeout 10m0s" +
			" --set imagePullSecrets[0].name=ghcr-secret",
		"helm status analytics-service -n analytics",
	}, run.cmds)
	assert.Equal(t, []string{"analytics"}, cluster.namespaces)
	assert.Equal(t, []string{"analytics/ghcr-secret@ghcr.io"}, cluster.secrets)
	assert.Equal(t, []string{"analytics/analytics-service"}, cluster.waited)
	assert.Contains(t, out.String(), "✓ Deployment ready: 2/2 replicas")
}

func TestProductionDeployFailures(t *testing.T) {
	cfg := testDeployConfig(t)
	run := &fakeRunner{missing: map[string]bool{"helm": true}}
	d, _ := newTestDeployer(t, cfg, run, &fakeVerifier{}, &fakeCluster{})
	_, err := d.ProductionDeploy(context.Background(), DeployOptions{})
	assert.ErrorContains(t, err, "helm is not installed")

	run = &fakeRunner{fail: map[string]int{"kubectl cluster-info": 1}}
	d, _ = newTestDeployer(t, cfg, run, &fakeVerifier{}, &fakeCluster{})
	_, err = d.ProductionDeploy(context.Background(), DeployOptions{})
	assert.ErrorContains(t, err, "cannot reach the Kubernetes cluster")

	run = &fakeRunner{}
	cluster := &fakeCluster{}
	d, _ = newTestDeployer(t, cfg, run, &fakeVerifier{}, cluster)
	_, err = d.ProductionDeploy(context.Background(), DeployOptions{Environment: "staging"})
	assert.ErrorContains(t, err, "staging.yaml not found")
	assert.Empty(t, cluster.namespaces)

	run = &fakeRunner{fail: map[string]int{"helm upgrade": 1}}
	cluster = &fakeCluster{}
	d, _ = newTestDeployer(t, cfg, run, &fakeVerifier{}, cluster)
	_, err = d.ProductionDeploy(context.Background(), DeployOptions{})
	require.Error(t, err)
	assert.Empty(t, cluster.waited)
	assert.Len(t, run.cmds, 2)
}

func TestHelmDeployUsesValuesNamespace(t *testing.T) {
	cfg := testDeployConfig(t)
	run := &fakeRunner{}
	d, _ := newTestDeployer(t, cfg, run, &fakeVerifier{}, &fakeCluster{})

	ns, err := d.HelmDeploy(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "analytics-dev", ns)
	values := filepath.Join(cfg.ValuesDir, "development.yaml")
	assert.Equal(t, []string{
		"helm lint chart -f " + values,
		"helm upgrade --install analytics-service chart -n analytics-dev --create-namespace -f " + values,
	}, run.cmds)

	run = &fakeRunner{fail: map[string]int{"helm lint": 1}}
	d, _ = newTestDeployer(t, cfg, run, &fakeVerifier{}, &fakeCluster{})
	_, err = d.HelmDeploy(context.Background(), "development")
	require.Error(t, err)
	assert.Len(t, run.cmds, 1)
}

func TestReadValuesDefaultsNamespace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.yaml")
	require.NoError(t, os.WriteFile(path, []byte("replicaCount: 2\n"), 0o644))
	v, err := ReadValues(path)
	require.NoError(t, err)
	assert.Equal(t, "default", v.Namespace)
	assert.Equal(t, 2, v.ReplicaCount)

	require.NoError(t, os.WriteFile(path, []byte("namespace: [\n"), 0o644))
	_, err = ReadValues(path)
	assert.Error(t, err)
}

func TestStatusAndRollback(t *testing.T) {
	cfg := testDeployConfig(t)
	run := &fakeRunner{}
	cluster := &fakeCluster{}
	d, out := newTestDeployer(t, cfg, run, &fakeVerifier{}, cluster)

	deployments, err := d.Status(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, deployments, 2)
	assert.Contains(t, out.String(), "✓ analytics-service: 2/2 ready")
	assert.Contains(t, out.String(), "✗ worker: 0/1 ready")

	_, err = d.Rollback(context.Background(), "analytics", "zero")
	assert.ErrorContains(t, err, "invalid revision")

	run.cmds = nil
	_, err = d.Rollback(context.Background(), "analytics", "4")
	require.NoError(t, err)
	assert.Equal(t, []string{"helm rollback analytics-service 4 -n analytics --wait --timeout 10m0s"}, run.cmds)
	assert.Equal(t, []string{"analytics/analytics-service"}, cluster.waited)
}
