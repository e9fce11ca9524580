package infra

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/bkalan/shipit/internal/analyze"
)

// Template holds the generated infrastructure definition and bootstrap
// script, keyed by file name. Hash is a content hash over all files;
// rendering identical inputs yields byte-identical files and hash.
type Template struct {
	Files map[string]string
	Hash  string
}

// TemplateError means the plan/environment combination cannot be rendered.
// Raised before any cloud cost is incurred.
type TemplateError struct {
	Reason string
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("template generation failed: %s", e.Reason)
}

const (
	infraFileName  = "main.tf"
	scriptFileName = "bootstrap.sh"
	// remoteArchivePath is where the remote executor drops the app archive
	// and what the bootstrap script unpacks.
	remoteArchivePath = "/tmp/app.tar.gz"
)

// RemoteArchivePath returns the remote path the bootstrap script expects the
// application archive at.
func RemoteArchivePath() string { return remoteArchivePath }

// ScriptFileName returns the name of the bootstrap script inside the template.
func ScriptFileName() string { return scriptFileName }

var gcpMachineTypes = map[string]string{
	"small":  "e2-micro",
	"medium": "e2-medium",
	"large":  "e2-standard-4",
}

var awsInstanceTypes = map[string]string{
	"small":  "t3.micro",
	"medium": "t3.small",
	"large":  "t3.large",
}

// Render produces the infra definition and bootstrap script from the plan and
// target environment. Pure and deterministic: same inputs, byte-identical
// output, so a re-render after resume cannot drift against applied state.
func Render(plan *analyze.DeploymentPlan, env *TargetEnvironment) (*Template, error) {
	if plan == nil || env == nil {
		return nil, &TemplateError{Reason: "plan and environment are required"}
	}
	if strings.TrimSpace(plan.StartCommand) == "" {
		return nil, &TemplateError{Reason: "plan has no start command"}
	}
	if len(plan.ExposedPorts) == 0 {
		return nil, &TemplateError{Reason: "plan exposes no ports"}
	}

	var infraDef string
	var err error
	switch env.Provider {
	case "gcp":
		infraDef, err = renderGCP(plan, env)
	case "aws":
		infraDef, err = renderAWS(plan, env)
	default:
		return nil, &TemplateError{Reason: fmt.Sprintf("unsupported provider %q", env.Provider)}
	}
	if err != nil {
		return nil, err
	}

	script, err := renderBootstrap(plan, env)
	if err != nil {
		return nil, err
	}

	t := &Template{
		Files: map[string]string{
			infraFileName:  infraDef,
			scriptFileName: script,
		},
	}
	t.Hash = hashFiles(t.Files)
	return t, nil
}

func hashFiles(files map[string]string) string {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	for _, name := range names {
		fmt.Fprintf(h, "%s\x00%d\x00", name, len(files[name]))
		h.Write([]byte(files[name]))
	}
	return hex.EncodeToString(h.Sum(nil))
}

type templateData struct {
	Region        string
	Zone          string
	MachineType   string
	ProjectID     string
	SSHUser       string
	SSHPublicKey  string
	SourceRange   string
	Ports         []int
	Metadata      []kv // sorted env vars
	BuildCommand  string
	StartCommand  string
	WorkDirMarker string
}

type kv struct{ Key, Value string }

func sortedEnv(env map[string]string) []kv {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]kv, 0, len(keys))
	for _, k := range keys {
		out = append(out, kv{Key: k, Value: env[k]})
	}
	return out
}

func renderGCP(plan *analyze.DeploymentPlan, env *TargetEnvironment) (string, error) {
	machine, ok := gcpMachineTypes[env.Machine]
	if !ok {
		return "", &TemplateError{Reason: fmt.Sprintf("unknown machine profile %q", env.Machine)}
	}
	project := env.ProjectID
	if project == "" {
		project = "YOUR_GCP_PROJECT_ID"
	}
	data := templateData{
		Region:       env.Region,
		Zone:         env.Region + "-a",
		MachineType:  machine,
		ProjectID:    project,
		SSHUser:      env.SSHUser,
		SSHPublicKey: strings.TrimSpace(env.SSHPublicKey),
		SourceRange:  env.NetworkPolicy,
		Ports:        plan.ExposedPorts,
		Metadata:     sortedEnv(plan.EnvVars),
	}
	return execTemplate("gcp", gcpTemplate, data)
}

func renderAWS(plan *analyze.DeploymentPlan, env *TargetEnvironment) (string, error) {
	instance, ok := awsInstanceTypes[env.Machine]
	if !ok {
		return "", &TemplateError{Reason: fmt.Sprintf("unknown machine profile %q", env.Machine)}
	}
	data := templateData{
		Region:       env.Region,
		MachineType:  instance,
		SSHUser:      env.SSHUser,
		SSHPublicKey: strings.TrimSpace(env.SSHPublicKey),
		SourceRange:  env.NetworkPolicy,
		Ports:        plan.ExposedPorts,
		Metadata:     sortedEnv(plan.EnvVars),
	}
	return execTemplate("aws", awsTemplate, data)
}

func renderBootstrap(plan *analyze.DeploymentPlan, env *TargetEnvironment) (string, error) {
	data := templateData{
		SSHUser:      env.SSHUser,
		Metadata:     sortedEnv(plan.EnvVars),
		BuildCommand: strings.TrimSpace(plan.BuildCommand),
		StartCommand: strings.TrimSpace(plan.StartCommand),
	}
	return execTemplate("bootstrap", bootstrapTemplate, data)
}

func execTemplate(name, text string, data templateData) (string, error) {
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return "", &TemplateError{Reason: fmt.Sprintf("internal template %s: %v", name, err)}
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", &TemplateError{Reason: fmt.Sprintf("rendering %s: %v", name, err)}
	}
	return buf.String(), nil
}
