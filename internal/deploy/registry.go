package deploy

import (
	"context"
	"fmt"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"
)

// ImageVerifier confirms that a pushed image can be resolved in its registry
type ImageVerifier interface {
	Verify(ctx context.Context, image string) (digest string, err error)
}

// RemoteVerifier asks the registry for the image manifest
type RemoteVerifier struct {
	Username string
	Token    string
}

func (r RemoteVerifier) Verify(ctx context.Context, image string) (string, error) {
	ref, err := name.ParseReference(image)
	if err != nil {
		return "", fmt.Errorf("invalid image reference %q: %w", image, err)
	}
	opts := []remote.Option{remote.WithContext(ctx)}
	if r.Token != "" {
		opts = append(opts, remote.WithAuth(&authn.Basic{Username: r.Username, Password: r.Token}))
	} else {
		opts = append(opts, remote.WithAuthFromKeychain(authn.DefaultKeychain))
	}
	desc, err := remote.Head(ref, opts...)
	if err != nil {
		return "", fmt.Errorf("image %s not found in registry: %w", image, err)
	}
	return desc.Digest.String(), nil
}
