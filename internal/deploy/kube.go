package deploy

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"
)

// Cluster is what the rollout needs from Kubernetes
type Cluster interface {
	EnsureNamespace(ctx context.Context, namespace string) (created bool, err error)
	ApplyPullSecret(ctx context.Context, namespace, name string, creds RegistryCredentials) error
	WaitForDeployment(ctx context.Context, namespace, name string, timeout time.Duration) (*DeploymentStatus, error)
	Deployments(ctx context.Context, namespace string) ([]DeploymentStatus, error)
}

// RegistryCredentials authenticate image pulls
type RegistryCredentials struct {
	Server   string
	Username string
	Password string
}

// DeploymentStatus summarises a Deployment's rollout
type DeploymentStatus struct {
	Name      string
	Namespace string
	Desired   int32
	Updated   int32
	Ready     int32
	Available int32
	Images    []string
}

// Rolled out means every desired replica runs the current template
func (s DeploymentStatus) RolledOut() bool {
	return s.Updated == s.Desired && s.Ready == s.Desired && s.Available == s.Desired
}

var errNotReady = errors.New("deployment not ready")

// Kube implements Cluster with client-go
type Kube struct {
	client kubernetes.Interface
	poll   time.Duration
	logger *zap.Logger
}

// NewKube connects using kubeconfig, falling back to KUBECONFIG, the
// default loading rules and finally the in-cluster config.
func NewKube(kubeconfig string, poll time.Duration, logger *zap.Logger) (*Kube, error) {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if kubeconfig != "" {
		rules.ExplicitPath = kubeconfig
	}
	restCfg, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, &clientcmd.ConfigOverrides{}).ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load kubeconfig: %w", err)
	}
	cs, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kubernetes client: %w", err)
	}
	return NewKubeWithClient(cs, poll, logger), nil
}

func NewKubeWithClient(client kubernetes.Interface, poll time.Duration, logger *zap.Logger) *Kube {
	return &Kube{client: client, poll: poll, logger: logger}
}

func (k *Kube) EnsureNamespace(ctx context.Context, namespace string) (bool, error) {
	_, err := k.client.CoreV1().Namespaces().Get(ctx, namespace, metav1.GetOptions{})
	if err == nil {
		return false, nil
	}
	if !apierrors.IsNotFound(err) {
		return false, fmt.Errorf("failed to read namespace %s: %w", namespace, err)
	}
	ns := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{
		Name:   namespace,
		Labels: map[string]string{"app.kubernetes.io/managed-by": "deployctl"},
	}}
	if _, err := k.client.CoreV1().Namespaces().Create(ctx, ns, metav1.CreateOptions{}); err != nil {
		if apierrors.IsAlreadyExists(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to create namespace %s: %w", namespace, err)
	}
	return true, nil
}

func dockerConfigJSON(creds RegistryCredentials) ([]byte, error) {
	auth := base64.StdEncoding.EncodeToString([]byte(creds.Username + ":" + creds.Password))
	return json.Marshal(map[string]interface{}{
		"auths": map[string]interface{}{
			creds.Server: map[string]string{
				"username": creds.Username,
				"password": creds.Password,
				"auth":     auth,
			},
		},
	})
}

// ApplyPullSecret creates or replaces a dockerconfigjson secret
func (k *Kube) ApplyPullSecret(ctx context.Context, namespace, name string, creds RegistryCredentials) error {
	payload, err := dockerConfigJSON(creds)
	if err != nil {
		return err
	}
	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
		Type:       corev1.SecretTypeDockerConfigJson,
		Data:       map[string][]byte{corev1.DockerConfigJsonKey: payload},
	}
	secrets := k.client.CoreV1().Secrets(namespace)
	existing, err := secrets.Get(ctx, name, metav1.GetOptions{})
	switch {
	case apierrors.IsNotFound(err):
		_, err = secrets.Create(ctx, secret, metav1.CreateOptions{})
	case err == nil:
		secret.ResourceVersion = existing.ResourceVersion
		_, err = secrets.Update(ctx, secret, metav1.UpdateOptions{})
	}
	if err != nil {
		return fmt.Errorf("failed to apply pull secret %s/%s: %w", namespace, name, err)
	}
	return nil
}

func statusOf(d *appsv1.Deployment) DeploymentStatus {
	desired := int32(1)
	if d.Spec.Replicas != nil {
		desired = *d.Spec.Replicas
	}
	s := DeploymentStatus{
		Name:      d.Name,
		Namespace: d.Namespace,
		Desired:   desired,
		Updated:   d.Status.UpdatedReplicas,
		Ready:     d.Status.ReadyReplicas,
		Available: d.Status.AvailableReplicas,
	}
	for _, c := range d.Spec.Template.Spec.Containers {
		s.Images = append(s.Images, c.Image)
	}
	return s
}

// WaitForDeployment polls until the deployment is rolled out or timeout
// passes. Only the read-only status lookup repeats.
func (k *Kube) WaitForDeployment(ctx context.Context, namespace, name string, timeout time.Duration) (*DeploymentStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var last DeploymentStatus
	attempts := uint(timeout/k.poll) + 1
	err := retry.Do(func() error {
		d, err := k.client.AppsV1().Deployments(namespace).Get(ctx, name, metav1.GetOptions{})
		if apierrors.IsNotFound(err) {
			return fmt.Errorf("%w: deployment %s/%s does not exist yet", errNotReady, namespace, name)
		}
		if err != nil {
			return err
		}
		last = statusOf(d)
		if d.Status.ObservedGeneration < d.Generation || !last.RolledOut() {
			return fmt.Errorf("%w: %d/%d replicas ready", errNotReady, last.Ready, last.Desired)
		}
		return nil
	},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(k.poll),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return errors.Is(err, errNotReady) }),
		retry.OnRetry(func(n uint, err error) {
			k.logger.Debug("waiting for rollout", zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
	if err != nil {
		return &last, fmt.Errorf("deployment %s/%s did not become ready within %s: %w", namespace, name, timeout, err)
	}
	return &last, nil
}

func (k *Kube) Deployments(ctx context.Context, namespace string) ([]DeploymentStatus, error) {
	list, err := k.client.AppsV1().Deployments(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments in %s: %w", namespace, err)
	}
	out := make([]DeploymentStatus, 0, len(list.Items))
	for i := range list.Items {
		out = append(out, statusOf(&list.Items[i]))
	}
	return out, nil
}
