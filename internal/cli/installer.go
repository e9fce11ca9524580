package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// Installer handles installation of CLI tools
type Installer struct {
	platform string
	arch     string
	debug    bool
}

// NewInstaller creates a new installer for the current platform
func NewInstaller(debug bool) *Installer {
	return &Installer{
		platform: GetPlatform(),
		arch:     GetArch(),
		debug:    debug,
	}
}

// InstallOptions contains options for installation
type InstallOptions struct {
	Sudo        bool   // Use sudo for installation
	InstallPath string // Where to install binaries (default: /usr/local/bin)
}

// DefaultInstallOptions returns sensible defaults
func DefaultInstallOptions() InstallOptions {
	return InstallOptions{
		Sudo:        true,
		InstallPath: "/usr/local/bin",
	}
}

// terraformVersion is the pinned release installed when terraform is missing.
const terraformVersion = "1.9.5"

// Install installs a specific dependency by name. git and gcloud come from
// platform package managers and are not installed here.
func (i *Installer) Install(ctx context.Context, name string, opts InstallOptions) error {
	switch name {
	case "terraform":
		return i.InstallTerraform(ctx, opts)
	default:
		return fmt.Errorf("cannot install %s automatically, use your package manager", name)
	}
}

// InstallTerraform downloads the pinned terraform release and places the
// binary on the install path.
func (i *Installer) InstallTerraform(ctx context.Context, opts InstallOptions) error {
	if i.debug {
		fmt.Printf("[installer] Installing terraform %s...\n", terraformVersion)
	}

	switch i.platform {
	case "linux", "darwin":
	default:
		return fmt.Errorf("unsupported platform: %s", i.platform)
	}

	url := fmt.Sprintf("https://releases.hashicorp.com/terraform/%s/terraform_%s_%s_%s.zip",
		terraformVersion, terraformVersion, i.platform, i.arch)

	tmpDir, err := os.MkdirTemp("", "terraform-install")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	zipPath := filepath.Join(tmpDir, "terraform.zip")

	if err := i.downloadFile(ctx, url, zipPath); err != nil {
		return fmt.Errorf("failed to download terraform: %w", err)
	}

	if err := i.extractZip(ctx, zipPath, tmpDir); err != nil {
		return fmt.Errorf("failed to extract terraform: %w", err)
	}

	binPath := filepath.Join(tmpDir, "terraform")

	if err := os.Chmod(binPath, 0755); err != nil {
		return fmt.Errorf("failed to chmod terraform: %w", err)
	}

	destPath := filepath.Join(opts.InstallPath, "terraform")
	if err := i.moveFile(ctx, binPath, destPath, opts.Sudo); err != nil {
		return fmt.Errorf("failed to install terraform: %w", err)
	}

	if i.debug {
		fmt.Printf("[installer] terraform installed to %s\n", destPath)
	}

	return nil
}

// Helper functions

func (i *Installer) downloadFile(ctx context.Context, url, destPath string) error {
	if i.debug {
		fmt.Printf("[installer] Downloading %s\n", url)
	}

	client := &http.Client{Timeout: 5 * time.Minute}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed: status %d", resp.StatusCode)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, resp.Body)
	return err
}

func (i *Installer) extractZip(ctx context.Context, zipPath, destDir string) error {
	cmd := exec.CommandContext(ctx, "unzip", "-q", zipPath, "-d", destDir)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("unzip failed: %w, stderr: %s", err, stderr.String())
	}

	return nil
}

func (i *Installer) moveFile(ctx context.Context, src, dest string, useSudo bool) error {
	var cmd *exec.Cmd
	if useSudo {
		cmd = exec.CommandContext(ctx, "sudo", "mv", src, dest)
	} else {
		cmd = exec.CommandContext(ctx, "mv", src, dest)
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("move failed: %w, stderr: %s", err, stderr.String())
	}

	return nil
}
