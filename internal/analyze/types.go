package analyze

import "fmt"

// EndpointRef locates a hard-coded local endpoint literal that needs to be
// rewritten to the provisioned host before upload.
type EndpointRef struct {
	FilePath   string `json:"filePath"`
	Line       int    `json:"line"`
	StartCol   int    `json:"startCol"` // byte offset within the line
	LiteralURL string `json:"literalUrl"`
}

// DeploymentPlan is the structured output of the analysis collaborator.
// Produced once per run and immutable afterwards.
type DeploymentPlan struct {
	Language           string            `json:"language"`
	Framework          string            `json:"framework"`
	PackageManagerHint string            `json:"packageManagerHint"`
	BuildCommand       string            `json:"buildCommand"`
	StartCommand       string            `json:"startCommand"`
	ExposedPorts       []int             `json:"exposedPorts"`
	EnvVars            map[string]string `json:"envVars"`
	DetectedEndpoints  []EndpointRef     `json:"detectedEndpoints"`
}

// AnalysisError means the collaborator could not produce a usable plan:
// unreachable, timed out, or returned something unparsable. Fatal to the run;
// the pipeline never guesses a plan.
type AnalysisError struct {
	Reason string
	Err    error
}

func (e *AnalysisError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("analysis failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("analysis failed: %s", e.Reason)
}

func (e *AnalysisError) Unwrap() error { return e.Err }
