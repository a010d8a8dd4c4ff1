package deploy

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const defaultNamespace = "default"

// Values are the parts of a Helm values file the CLI reads
type Values struct {
	Namespace    string `yaml:"namespace"`
	ReplicaCount int    `yaml:"replicaCount"`
	Image        struct {
		Repository string `yaml:"repository"`
		Tag        string `yaml:"tag"`
	} `yaml:"image"`
}

// ValuesPath is <dir>/<environment>.yaml
func ValuesPath(dir, environment string) string {
	return filepath.Join(dir, environment+".yaml")
}

// ReadValues parses a values file. A missing file is an error.
func ReadValues(path string) (*Values, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("values file %s not found", path)
		}
		return nil, err
	}
	var v Values
	if err := yaml.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if v.Namespace == "" {
		v.Namespace = defaultNamespace
	}
	return &v, nil
}
