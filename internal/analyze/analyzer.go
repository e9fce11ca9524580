package analyze

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// AskFunc sends a raw prompt to the LLM collaborator.
type AskFunc func(ctx context.Context, prompt string) (string, error)

// CleanFunc extracts the first JSON value from an LLM response.
type CleanFunc func(response string) string

// Analyzer turns a working copy plus the operator's intent into a
// DeploymentPlan via a single bounded LLM call.
type Analyzer struct {
	ask     AskFunc
	clean   CleanFunc
	timeout time.Duration
	debug   bool
}

// NewAnalyzer wires the analyzer to an LLM ask function. timeout bounds the
// collaborator call; zero means 2 minutes.
func NewAnalyzer(ask AskFunc, clean CleanFunc, timeout time.Duration, debug bool) *Analyzer {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Analyzer{ask: ask, clean: clean, timeout: timeout, debug: debug}
}

// rawPlan is the exact JSON schema the collaborator must return.
type rawPlan struct {
	Language       string            `json:"language"`
	Framework      string            `json:"framework"`
	PackageManager string            `json:"package_manager"`
	BuildCommand   string            `json:"build_command"`
	StartCommand   string            `json:"start_command"`
	ExposedPorts   []int             `json:"exposed_ports"`
	EnvVars        map[string]string `json:"env_vars"`
}

// Analyze summarizes the working copy, asks the collaborator for a plan, and
// validates the response. EndpointRefs are detected locally, not by the LLM.
func (a *Analyzer) Analyze(ctx context.Context, workDir, intent string) (*DeploymentPlan, error) {
	summary, err := SummarizeRepo(workDir)
	if err != nil {
		return nil, &AnalysisError{Reason: "could not summarize repository", Err: err}
	}

	endpoints, err := ScanEndpoints(workDir)
	if err != nil {
		return nil, &AnalysisError{Reason: "could not scan for endpoint literals", Err: err}
	}

	prompt := buildAnalysisPrompt(intent, summary)

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	response, err := a.ask(ctx, prompt)
	if err != nil {
		return nil, &AnalysisError{Reason: "collaborator unreachable", Err: err}
	}

	var raw rawPlan
	if err := json.Unmarshal([]byte(a.clean(response)), &raw); err != nil {
		return nil, &AnalysisError{Reason: "collaborator returned unparsable plan", Err: err}
	}
	if strings.TrimSpace(raw.Language) == "" {
		return nil, &AnalysisError{Reason: "collaborator returned no language"}
	}
	if strings.TrimSpace(raw.StartCommand) == "" {
		return nil, &AnalysisError{Reason: "collaborator returned no start command"}
	}

	plan := &DeploymentPlan{
		Language:           raw.Language,
		Framework:          raw.Framework,
		PackageManagerHint: raw.PackageManager,
		BuildCommand:       raw.BuildCommand,
		StartCommand:       raw.StartCommand,
		ExposedPorts:       normalizePorts(raw.ExposedPorts),
		EnvVars:            raw.EnvVars,
		DetectedEndpoints:  endpoints,
	}
	if len(plan.ExposedPorts) == 0 {
		plan.ExposedPorts = []int{80}
	}
	if plan.EnvVars == nil {
		plan.EnvVars = map[string]string{}
	}
	return plan, nil
}

func buildAnalysisPrompt(intent, summary string) string {
	return fmt.Sprintf(`System: You are an expert software engineer. Analyze the provided repository summary and return a single JSON object, with no other text.
Your output MUST strictly follow this JSON schema:
{
  "language": "string",
  "framework": "string or empty",
  "package_manager": "string or empty",
  "build_command": "string or empty",
  "start_command": "string",
  "exposed_ports": [integer],
  "env_vars": {"NAME": "value"}
}
Analysis guidelines:
1. File paths are critical: build_command must use correct relative paths (e.g. "pip3 install -r app/requirements.txt").
2. Prefer README.md instructions when available.
3. start_command must be a production command (e.g. gunicorn, not the dev server).
4. The deployment intent below may constrain ports or environment variables.

Deployment intent: %q

Repository summary:
%s`, intent, summary)
}

func normalizePorts(ports []int) []int {
	seen := map[int]bool{}
	var out []int
	for _, p := range ports {
		if p <= 0 || p > 65535 || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}
