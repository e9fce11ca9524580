package terraform

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteTemplateModes(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "workdir")
	c := NewClient(nil, false)

	files := map[string]string{
		"main.tf":      `provider "google" {}`,
		"bootstrap.sh": "#!/bin/bash\necho hi\n",
	}
	if err := c.WriteTemplate(dir, files); err != nil {
		t.Fatalf("WriteTemplate failed: %v", err)
	}

	tfInfo, err := os.Stat(filepath.Join(dir, "main.tf"))
	if err != nil {
		t.Fatalf("main.tf not written: %v", err)
	}
	if tfInfo.Mode().Perm()&0o111 != 0 {
		t.Error("main.tf should not be executable")
	}

	shInfo, err := os.Stat(filepath.Join(dir, "bootstrap.sh"))
	if err != nil {
		t.Fatalf("bootstrap.sh not written: %v", err)
	}
	if shInfo.Mode().Perm()&0o100 == 0 {
		t.Error("bootstrap.sh should be executable")
	}
}

func TestProvisionErrorMessage(t *testing.T) {
	err := &ProvisionError{
		Step:       "apply",
		ExitCode:   1,
		StderrTail: "Error: googleapi: Error 403: quota exceeded",
		Err:        errors.New("exit status 1"),
	}
	msg := err.Error()
	if !strings.Contains(msg, "apply") || !strings.Contains(msg, "quota exceeded") {
		t.Errorf("error message should carry step and stderr tail: %s", msg)
	}
	if !strings.Contains(msg, "exit 1") {
		t.Errorf("error message should carry the exit code: %s", msg)
	}
}

func TestTailBufferKeepsTail(t *testing.T) {
	tail := newTailBuffer(8)
	for _, chunk := range []string{"aaaa", "bbbb", "cccc"} {
		if _, err := tail.Write([]byte(chunk)); err != nil {
			t.Fatal(err)
		}
	}
	if got := tail.String(); got != "bbbbcccc" {
		t.Errorf("expected last 8 bytes, got %q", got)
	}
}

func TestDestroyMissingStateRefIsNoop(t *testing.T) {
	c := NewClient(nil, false)
	err := c.Destroy(t.Context(), filepath.Join(t.TempDir(), "never-created"))
	if err != nil {
		t.Fatalf("Destroy on missing state ref should be a no-op, got %v", err)
	}
}
