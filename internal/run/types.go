package run

import "time"

// Stage is one discrete, ordered unit of the deployment pipeline.
type Stage string

const (
	StageFetched     Stage = "FETCHED"
	StageAnalyzed    Stage = "ANALYZED"
	StageRewritten   Stage = "REWRITTEN"
	StageTemplated   Stage = "TEMPLATED"
	StageProvisioned Stage = "PROVISIONED"
	StageDeployed    Stage = "DEPLOYED"
	StageVerified    Stage = "VERIFIED"
	StageDestroyed   Stage = "DESTROYED"
	StageFailed      Stage = "FAILED"
)

// Terminal reports whether a run in this stage needs no further action.
func (s Stage) Terminal() bool {
	return s == StageVerified || s == StageDestroyed || s == StageFailed
}

// stageOrder maps pipeline stages to their position so resume/guard logic can
// compare how far a run got. Terminal markers are not part of the ordering.
var stageOrder = map[Stage]int{
	StageFetched:     1,
	StageAnalyzed:    2,
	StageRewritten:   3,
	StageTemplated:   4,
	StageProvisioned: 5,
	StageDeployed:    6,
	StageVerified:    7,
}

// AtLeast reports whether s reached the given pipeline stage.
func (s Stage) AtLeast(other Stage) bool {
	a, ok := stageOrder[s]
	if !ok {
		return false
	}
	b, ok := stageOrder[other]
	if !ok {
		return false
	}
	return a >= b
}

// ProvisionResult holds everything needed to reach and later destroy the
// provisioned infrastructure. StateRef is the terraform working directory
// holding the state backend; losing it is an unrecoverable resource leak, so
// the ledger persists it durably before any later stage runs.
type ProvisionResult struct {
	ResourceIDs []string `json:"resource_ids"`
	HostAddress string   `json:"host_address"`
	SSHKeyPath  string   `json:"ssh_key_path"`
	SSHUser     string   `json:"ssh_user"`
	StateRef    string   `json:"state_ref"`
}

// Record is the durable ledger entry for one deployment run.
type Record struct {
	RunID        string
	RepoURL      string
	Revision     string
	Provider     string
	Region       string
	Machine      string
	Stage        Stage
	FailStage    string
	FailError    string
	TemplateHash string
	Provision    *ProvisionResult
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
