// Package cli provides CLI tool dependency detection, installation, and
// interactive prompts.
package cli

import (
	"bytes"
	"context"
	"os/exec"
	"regexp"
	"runtime"
	"strings"
)

// DependencyChecker handles detection of the external tools a deploy needs.
type DependencyChecker struct {
	debug bool
}

// NewDependencyChecker creates a new dependency checker
func NewDependencyChecker(debug bool) *DependencyChecker {
	return &DependencyChecker{debug: debug}
}

// DependencyStatus represents the status of a CLI tool
type DependencyStatus struct {
	Name       string
	Installed  bool
	Version    string
	Required   bool
	MinVersion string
	Message    string
}

// CheckAll checks every tool the deploy pipeline shells out to.
func (d *DependencyChecker) CheckAll() []DependencyStatus {
	return []DependencyStatus{
		d.CheckGit(),
		d.CheckTerraform(),
		d.CheckGcloud(),
	}
}

// CheckMissing returns only the missing or invalid dependencies
func (d *DependencyChecker) CheckMissing() []DependencyStatus {
	all := d.CheckAll()
	var missing []DependencyStatus
	for _, dep := range all {
		if !dep.Installed || (dep.Message != "" && strings.Contains(dep.Message, "upgrade")) {
			missing = append(missing, dep)
		}
	}
	return missing
}

// CheckGit checks if git is installed
func (d *DependencyChecker) CheckGit() DependencyStatus {
	status := DependencyStatus{
		Name:     "git",
		Required: true,
	}

	path, err := exec.LookPath("git")
	if err != nil {
		status.Installed = false
		status.Message = "git is not installed"
		return status
	}

	status.Installed = true

	ctx := context.Background()
	cmd := exec.CommandContext(ctx, path, "--version")
	output, err := cmd.Output()
	if err == nil {
		status.Version = strings.TrimSpace(string(output))
		// "git version 2.43.0" -> "2.43.0"
		if re := regexp.MustCompile(`\d+\.\d+\.\d+`); re.Match(output) {
			status.Version = re.FindString(string(output))
		}
	}

	return status
}

// CheckTerraform checks if terraform 1.x is installed
func (d *DependencyChecker) CheckTerraform() DependencyStatus {
	status := DependencyStatus{
		Name:       "terraform",
		Required:   true,
		MinVersion: "1.0.0",
	}

	path, err := exec.LookPath("terraform")
	if err != nil {
		status.Installed = false
		status.Message = "terraform is not installed"
		return status
	}

	ctx := context.Background()
	cmd := exec.CommandContext(ctx, path, "version")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		status.Installed = false
		status.Message = "failed to get terraform version"
		return status
	}

	versionOutput := strings.TrimSpace(stdout.String())
	status.Version = versionOutput

	// Parse version: "Terraform v1.9.5 on linux_amd64"
	if re := regexp.MustCompile(`v(\d+)\.(\d+)\.(\d+)`); re.MatchString(versionOutput) {
		matches := re.FindStringSubmatch(versionOutput)
		if len(matches) >= 2 {
			majorVersion := matches[1]
			status.Version = strings.Join(matches[1:], ".")

			if majorVersion == "0" {
				status.Installed = true
				status.Message = "terraform 0.x detected; 1.x is required, please upgrade"
				return status
			}
		}
	}

	status.Installed = true
	return status
}

// CheckGcloud checks if the gcloud CLI is installed. It is only needed when
// deploying to GCP without an explicit project id in config.
func (d *DependencyChecker) CheckGcloud() DependencyStatus {
	status := DependencyStatus{
		Name:     "gcloud",
		Required: false,
	}

	path, err := exec.LookPath("gcloud")
	if err != nil {
		status.Installed = false
		status.Message = "gcloud is not installed (required for GCP project auto-detection)"
		return status
	}

	status.Installed = true

	ctx := context.Background()
	cmd := exec.CommandContext(ctx, path, "version", "--format=value(\"Google Cloud SDK\")")
	output, err := cmd.Output()
	if err == nil {
		status.Version = strings.TrimSpace(string(output))
	}

	return status
}

// GetPlatform returns the current platform (linux, darwin)
func GetPlatform() string {
	return runtime.GOOS
}

// GetArch returns the current architecture (amd64, arm64)
func GetArch() string {
	arch := runtime.GOARCH
	// Normalize architecture names
	switch arch {
	case "amd64", "x86_64":
		return "amd64"
	case "arm64", "aarch64":
		return "arm64"
	default:
		return arch
	}
}
