package terraform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ProvisionError carries the failing terraform step and a bounded tail of its
// stderr. Apply failures are never auto-retried: partial infrastructure may
// exist and a blind retry risks duplicate resources.
type ProvisionError struct {
	Step       string
	ExitCode   int
	StderrTail string
	Err        error
}

func (e *ProvisionError) Error() string {
	if e.StderrTail != "" {
		return fmt.Sprintf("terraform %s failed (exit %d): %s", e.Step, e.ExitCode, e.StderrTail)
	}
	return fmt.Sprintf("terraform %s failed: %v", e.Step, e.Err)
}

func (e *ProvisionError) Unwrap() error { return e.Err }

const stderrTailLimit = 4096

// Client drives the terraform binary against a working directory containing
// rendered template files. The working directory doubles as the provider
// state reference: its local state maps created resources back to the
// template, so it must outlive the process.
type Client struct {
	binary string
	out    io.Writer
	debug  bool
}

// NewClient creates a terraform client streaming subprocess output to out.
func NewClient(out io.Writer, debug bool) *Client {
	if out == nil {
		out = io.Discard
	}
	return &Client{binary: "terraform", out: out, debug: debug}
}

// WriteTemplate materializes the rendered files into workdir. The bootstrap
// script is made executable.
func (c *Client) WriteTemplate(workdir string, files map[string]string) error {
	if err := os.MkdirAll(workdir, 0o755); err != nil {
		return fmt.Errorf("failed to create workdir: %w", err)
	}
	for name, content := range files {
		mode := os.FileMode(0o644)
		if strings.HasSuffix(name, ".sh") {
			mode = 0o755
		}
		if err := os.WriteFile(filepath.Join(workdir, name), []byte(content), mode); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}
	return nil
}

// Apply runs the init → plan → apply sequence. Each step's exit code is
// checked; the first non-zero exit surfaces as a ProvisionError. No retries.
func (c *Client) Apply(ctx context.Context, workdir string) error {
	steps := [][]string{
		{"init", "-input=false", "-no-color"},
		{"plan", "-input=false", "-no-color", "-out", "tfplan"},
		{"apply", "-input=false", "-no-color", "tfplan"},
	}
	for _, args := range steps {
		if err := c.runStep(ctx, workdir, args); err != nil {
			return err
		}
	}
	return nil
}

// Destroy tears down everything the state in stateRef knows about, including
// partial states left by a failed apply. Retried a small bounded number of
// times: destroy is near-idempotent and leaving resources running costs
// money. A missing workdir means there is nothing to destroy.
func (c *Client) Destroy(ctx context.Context, stateRef string) error {
	if _, err := os.Stat(stateRef); os.IsNotExist(err) {
		if c.debug {
			fmt.Fprintf(os.Stderr, "[terraform] state ref %s missing, nothing to destroy\n", stateRef)
		}
		return nil
	}

	op := func() error {
		if err := c.runStep(ctx, stateRef, []string{"init", "-input=false", "-no-color"}); err != nil {
			return err
		}
		return c.runStep(ctx, stateRef, []string{"destroy", "-input=false", "-no-color", "-auto-approve"})
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(newDestroyBackOff(), 2), ctx)
	return backoff.Retry(op, bo)
}

func newDestroyBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 5 * time.Second
	bo.MaxInterval = 30 * time.Second
	return bo
}

// HostAddress reads the host_address output from the applied state.
func (c *Client) HostAddress(ctx context.Context, workdir string) (string, error) {
	outputs, err := c.Outputs(ctx, workdir)
	if err != nil {
		return "", err
	}
	host, ok := outputs["host_address"].(string)
	if !ok || host == "" {
		return "", fmt.Errorf("terraform outputs contain no host_address")
	}
	return host, nil
}

// Outputs runs `terraform output -json` and extracts the values.
func (c *Client) Outputs(ctx context.Context, workdir string) (map[string]any, error) {
	cmd := exec.CommandContext(ctx, c.binary, "output", "-json", "-no-color")
	cmd.Dir = workdir

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("terraform output failed: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse terraform outputs: %w", err)
	}

	result := make(map[string]any, len(raw))
	for key, value := range raw {
		if valueMap, ok := value.(map[string]any); ok {
			if val, exists := valueMap["value"]; exists {
				result[key] = val
			}
		}
	}
	return result, nil
}

// StateResources lists the resource addresses in the state.
func (c *Client) StateResources(ctx context.Context, workdir string) ([]string, error) {
	cmd := exec.CommandContext(ctx, c.binary, "state", "list", "-no-color")
	cmd.Dir = workdir

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("terraform state list failed: %w", err)
	}

	var resources []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			resources = append(resources, line)
		}
	}
	return resources, nil
}

// runStep executes one terraform verb, streaming stdout to the client writer
// and keeping a bounded stderr tail for the error.
func (c *Client) runStep(ctx context.Context, dir string, args []string) error {
	if c.debug {
		fmt.Fprintf(os.Stderr, "[terraform] running: terraform %s (in %s)\n", strings.Join(args, " "), dir)
	}

	tail := newTailBuffer(stderrTailLimit)
	cmd := exec.CommandContext(ctx, c.binary, args...)
	cmd.Dir = dir
	cmd.Stdout = c.out
	cmd.Stderr = io.MultiWriter(c.out, tail)

	err := cmd.Run()
	if err == nil {
		return nil
	}

	exitCode := -1
	if ee, ok := err.(*exec.ExitError); ok {
		exitCode = ee.ExitCode()
	}
	return &ProvisionError{
		Step:       args[0],
		ExitCode:   exitCode,
		StderrTail: tail.String(),
		Err:        err,
	}
}

// tailBuffer keeps the last n bytes written to it.
type tailBuffer struct {
	limit int
	buf   []byte
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.limit {
		t.buf = t.buf[len(t.buf)-t.limit:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return strings.TrimSpace(string(t.buf))
}
