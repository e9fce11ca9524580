package infra

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// TargetEnvironment is the operator-supplied descriptor of where to deploy.
// Immutable once a run starts.
type TargetEnvironment struct {
	Provider      string `yaml:"provider"`       // gcp | aws
	Region        string `yaml:"region"`
	Machine       string `yaml:"machine"`        // small | medium | large
	NetworkPolicy string `yaml:"network_policy"` // source CIDR for ingress, default open
	ProjectID     string `yaml:"project_id"`     // gcp only
	SSHUser       string `yaml:"ssh_user"`
	SSHPublicKey  string `yaml:"-"` // injected by the coordinator, not from the file
}

// LoadTargetEnvironment reads a YAML descriptor and applies defaults.
// An empty path returns a defaulted descriptor.
func LoadTargetEnvironment(path string) (*TargetEnvironment, error) {
	env := &TargetEnvironment{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read environment descriptor: %w", err)
		}
		if err := yaml.Unmarshal(data, env); err != nil {
			return nil, fmt.Errorf("failed to parse environment descriptor: %w", err)
		}
	}
	env.ApplyDefaults()
	return env, nil
}

// ApplyDefaults fills unset fields: gcp, us-central1, a small instance, open
// ingress.
func (e *TargetEnvironment) ApplyDefaults() {
	if e.Provider == "" {
		e.Provider = "gcp"
	}
	e.Provider = strings.ToLower(e.Provider)
	if e.Region == "" {
		switch e.Provider {
		case "aws":
			e.Region = "us-east-1"
		default:
			e.Region = "us-central1"
		}
	}
	if e.Machine == "" {
		e.Machine = "small"
	}
	e.Machine = strings.ToLower(e.Machine)
	if e.NetworkPolicy == "" {
		e.NetworkPolicy = "0.0.0.0/0"
	}
	if e.SSHUser == "" {
		e.SSHUser = "shipit"
	}
}
