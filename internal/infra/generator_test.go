package infra

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bkalan/shipit/internal/analyze"
)

func testPlan() *analyze.DeploymentPlan {
	return &analyze.DeploymentPlan{
		Language:     "python",
		BuildCommand: "pip3 install -r requirements.txt",
		StartCommand: "python3 -m gunicorn app:app -b 0.0.0.0:5000",
		ExposedPorts: []int{5000, 80},
		EnvVars:      map[string]string{"FLASK_ENV": "production", "API_KEY": "abc"},
	}
}

func testEnv() *TargetEnvironment {
	env := &TargetEnvironment{
		Provider:     "gcp",
		Region:       "us-central1",
		Machine:      "small",
		ProjectID:    "demo-project",
		SSHPublicKey: "ssh-rsa AAAA test",
	}
	env.ApplyDefaults()
	return env
}

func TestRenderIsDeterministic(t *testing.T) {
	plan := testPlan()
	env := testEnv()

	first, err := Render(plan, env)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	second, err := Render(plan, env)
	if err != nil {
		t.Fatalf("second Render failed: %v", err)
	}

	if first.Hash != second.Hash {
		t.Errorf("hash differs across identical renders: %s vs %s", first.Hash, second.Hash)
	}
	for name, content := range first.Files {
		if second.Files[name] != content {
			t.Errorf("file %s differs across identical renders", name)
		}
	}
}

func TestRenderGCPEncodesPortsAndEnv(t *testing.T) {
	tpl, err := Render(testPlan(), testEnv())
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	tf := tpl.Files["main.tf"]
	for _, want := range []string{
		`name    = "allow-app-port-5000"`,
		`name    = "allow-app-port-80"`,
		`project = "demo-project"`,
		`machine_type              = "e2-micro"`,
		`zone                      = "us-central1-a"`,
		`app-env-FLASK_ENV = "production"`,
		`app-env-API_KEY = "abc"`,
		`ssh-keys = "shipit:${var.ssh_public_key}"`,
		"nat_ip",
	} {
		if !strings.Contains(tf, want) {
			t.Errorf("main.tf missing %q", want)
		}
	}
}

func TestRenderAWSEncodesPorts(t *testing.T) {
	env := testEnv()
	env.Provider = "aws"
	env.Region = "us-east-1"

	tpl, err := Render(testPlan(), env)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	tf := tpl.Files["main.tf"]
	for _, want := range []string{
		`instance_type          = "t3.micro"`,
		"from_port   = 5000",
		"from_port   = 80",
		"public_ip",
	} {
		if !strings.Contains(tf, want) {
			t.Errorf("main.tf missing %q", want)
		}
	}
}

func TestRenderBootstrapScript(t *testing.T) {
	tpl, err := Render(testPlan(), testEnv())
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	script := tpl.Files["bootstrap.sh"]
	if !strings.HasPrefix(script, "#!/bin/bash\nset -euxo pipefail") {
		t.Error("bootstrap script must start with bash + strict mode")
	}
	for _, want := range []string{
		"tar -xzf /tmp/app.tar.gz -C /opt/app",
		"pip3 install -r requirements.txt",
		"ExecStart=/bin/bash -lc 'python3 -m gunicorn app:app -b 0.0.0.0:5000'",
		`Environment="FLASK_ENV=production"`,
		"systemctl enable shipit-app",
	} {
		if !strings.Contains(script, want) {
			t.Errorf("bootstrap.sh missing %q", want)
		}
	}
}

func TestRenderRejectsInvalidInputs(t *testing.T) {
	env := testEnv()

	tests := []struct {
		name string
		plan *analyze.DeploymentPlan
		env  *TargetEnvironment
	}{
		{"nil plan", nil, env},
		{"no start command", &analyze.DeploymentPlan{ExposedPorts: []int{80}}, env},
		{"no ports", &analyze.DeploymentPlan{StartCommand: "run"}, env},
		{"unknown provider", testPlan(), &TargetEnvironment{Provider: "azure", Machine: "small"}},
		{"unknown machine", testPlan(), &TargetEnvironment{Provider: "gcp", Machine: "xxl"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Render(tt.plan, tt.env)
			var terr *TemplateError
			if !errors.As(err, &terr) {
				t.Fatalf("expected TemplateError, got %v", err)
			}
		})
	}
}

func TestLoadTargetEnvironmentDefaults(t *testing.T) {
	env, err := LoadTargetEnvironment("")
	if err != nil {
		t.Fatalf("LoadTargetEnvironment failed: %v", err)
	}
	if env.Provider != "gcp" || env.Region != "us-central1" || env.Machine != "small" {
		t.Errorf("unexpected defaults: %+v", env)
	}
	if env.NetworkPolicy != "0.0.0.0/0" {
		t.Errorf("expected open ingress default, got %s", env.NetworkPolicy)
	}
}

func TestLoadTargetEnvironmentFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "env.yaml")
	content := "provider: aws\nregion: eu-west-1\nmachine: medium\nnetwork_policy: 10.0.0.0/8\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	env, err := LoadTargetEnvironment(path)
	if err != nil {
		t.Fatalf("LoadTargetEnvironment failed: %v", err)
	}
	if env.Provider != "aws" || env.Region != "eu-west-1" || env.Machine != "medium" {
		t.Errorf("unexpected environment: %+v", env)
	}
	if env.NetworkPolicy != "10.0.0.0/8" {
		t.Errorf("expected custom network policy, got %s", env.NetworkPolicy)
	}
}
