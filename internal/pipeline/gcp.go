package pipeline

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/spf13/viper"
)

// ResolveGCPProject finds the GCP project id for the deploy: config first,
// then the active gcloud configuration.
func ResolveGCPProject(ctx context.Context) (string, error) {
	if p := strings.TrimSpace(viper.GetString("gcp.project")); p != "" {
		return p, nil
	}

	cmd := exec.CommandContext(ctx, "gcloud", "config", "get-value", "project")
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("gcp project not configured and gcloud lookup failed: %w", err)
	}

	project := strings.TrimSpace(string(out))
	if project == "" || project == "(unset)" {
		return "", fmt.Errorf("no active gcloud project; set gcp.project in config or run gcloud config set project")
	}
	return project, nil
}
