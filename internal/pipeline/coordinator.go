package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/bkalan/shipit/internal/analyze"
	"github.com/bkalan/shipit/internal/infra"
	"github.com/bkalan/shipit/internal/remote"
	"github.com/bkalan/shipit/internal/repo"
	"github.com/bkalan/shipit/internal/rewrite"
	"github.com/bkalan/shipit/internal/run"
)

// placeholderOrigin is substituted for detected localhost endpoints before
// provisioning, then swapped for the real host address once it is known.
// Keeps the rewrite stage (and its failure mode) ahead of any cloud cost.
const placeholderOrigin = "http://shipit-pending-host"

// Narrow views of the stage components, so the coordinator is testable with
// fakes.

type Ledger interface {
	Create(ctx context.Context, rec *run.Record) error
	UpdateStage(ctx context.Context, runID string, stage run.Stage) error
	SetTemplateHash(ctx context.Context, runID, hash string) error
	SaveProvisionResult(ctx context.Context, runID string, pr *run.ProvisionResult) error
	MarkFailed(ctx context.Context, runID, failStage, failError string) error
	Get(ctx context.Context, runID string) (*run.Record, error)
	ListActive(ctx context.Context) ([]*run.Record, error)
	FindActiveByTarget(ctx context.Context, repoURL, revision, provider, region string) ([]*run.Record, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, repoURL, revision string) (*repo.WorkingCopy, error)
}

type Analyzer interface {
	Analyze(ctx context.Context, workDir, intent string) (*analyze.DeploymentPlan, error)
}

type Rewriter interface {
	Rewrite(workDir string, refs []analyze.EndpointRef, newHost string) (*rewrite.Report, error)
}

type Provisioner interface {
	WriteTemplate(workdir string, files map[string]string) error
	Apply(ctx context.Context, workdir string) error
	Destroy(ctx context.Context, stateRef string) error
	HostAddress(ctx context.Context, workdir string) (string, error)
	StateResources(ctx context.Context, workdir string) ([]string, error)
}

type Executor interface {
	Run(ctx context.Context, host, keyPath, script string, archive []byte, archiveRemotePath string, verifyPort int) (*remote.Outcome, error)
}

// RenderFunc renders the infra template from plan and environment.
type RenderFunc func(plan *analyze.DeploymentPlan, env *infra.TargetEnvironment) (*infra.Template, error)

// ArchiveFunc builds the application tarball from the working copy.
type ArchiveFunc func(srcDir string) ([]byte, error)

// ConfirmFunc asks the operator a yes/no question.
type ConfirmFunc func(question string) (bool, error)

// KeyFunc ensures the deploy keypair exists, returning the private key path
// and the public key material.
type KeyFunc func() (string, string, error)

// ProjectFunc resolves the GCP project id.
type ProjectFunc func(ctx context.Context) (string, error)

// Timeouts are the per-stage ceilings. Zero fields get defaults.
type Timeouts struct {
	Fetch     time.Duration
	Analyze   time.Duration
	Provision time.Duration
	Bootstrap time.Duration
}

func (t *Timeouts) applyDefaults() {
	if t.Fetch <= 0 {
		t.Fetch = 2 * time.Minute
	}
	if t.Analyze <= 0 {
		t.Analyze = 90 * time.Second
	}
	if t.Provision <= 0 {
		t.Provision = 15 * time.Minute
	}
	if t.Bootstrap <= 0 {
		t.Bootstrap = 10 * time.Minute
	}
}

// Deps wires the coordinator's collaborators.
type Deps struct {
	Ledger     Ledger
	Fetcher    Fetcher
	Analyzer   Analyzer
	Rewriter   Rewriter
	Render     RenderFunc
	Terraform  Provisioner
	Executor   Executor
	Archive    ArchiveFunc
	Confirm    ConfirmFunc
	EnsureKey  KeyFunc
	GCPProject ProjectFunc
	WorkRoot   string // parent dir for per-run terraform workdirs
	Timeouts   Timeouts
	Out        io.Writer
	Debug      bool
}

// Coordinator sequences the deploy and destroy workflows and owns the run
// ledger transitions.
type Coordinator struct {
	deps Deps
}

func New(deps Deps) *Coordinator {
	if deps.Out == nil {
		deps.Out = io.Discard
	}
	deps.Timeouts.applyDefaults()
	return &Coordinator{deps: deps}
}

// DeployRequest is one deploy invocation.
type DeployRequest struct {
	Intent      string
	RepoURL     string
	Revision    string
	Env         *infra.TargetEnvironment
	AutoApprove bool
	Force       bool
}

// Deploy runs the full pipeline: fetch, analyze, rewrite, template,
// provision, remote bootstrap, verify. The returned record reflects the final
// stage; on error it is FAILED with the failing stage recorded, retaining any
// ProvisionResult already obtained.
func (c *Coordinator) Deploy(ctx context.Context, req DeployRequest) (*run.Record, error) {
	env := req.Env
	if env == nil {
		env = &infra.TargetEnvironment{}
	}
	env.ApplyDefaults()

	if !req.Force {
		if err := c.guardActive(ctx, req.RepoURL, req.Revision, env); err != nil {
			return nil, err
		}
	}

	rec := &run.Record{
		RunID:    uuid.NewString(),
		RepoURL:  req.RepoURL,
		Revision: req.Revision,
		Provider: env.Provider,
		Region:   env.Region,
		Machine:  env.Machine,
		Stage:    run.StageFetched,
	}

	// Fetch. The record is created once a working copy exists; a failed
	// fetch is persisted as a FAILED record so the attempt is auditable.
	fmt.Fprintf(c.deps.Out, "[fetch] cloning %s\n", req.RepoURL)
	fctx, cancel := context.WithTimeout(ctx, c.deps.Timeouts.Fetch)
	wc, err := c.deps.Fetcher.Fetch(fctx, req.RepoURL, req.Revision)
	cancel()
	if err != nil {
		rec.Stage = run.StageFailed
		rec.FailStage = "fetch"
		rec.FailError = err.Error()
		if cErr := c.deps.Ledger.Create(context.WithoutCancel(ctx), rec); cErr != nil {
			fmt.Fprintf(c.deps.Out, "[run] could not persist failed run: %v\n", cErr)
		}
		return rec, fmt.Errorf("fetch stage failed: %w", err)
	}
	defer wc.Remove()

	rec.Revision = wc.Revision
	// The fetch may have resolved a branch or empty ref to a SHA. Records are
	// stored under the resolved revision, so the guard must hold against it
	// too or identical requests would provision twice.
	if !req.Force && wc.Revision != req.Revision {
		if err := c.guardActive(ctx, req.RepoURL, wc.Revision, env); err != nil {
			return nil, err
		}
	}
	if err := c.deps.Ledger.Create(ctx, rec); err != nil {
		return rec, fmt.Errorf("failed to create run record: %w", err)
	}
	fmt.Fprintf(c.deps.Out, "[run] %s started\n", rec.RunID)

	// Analyze.
	fmt.Fprintf(c.deps.Out, "[analyze] deriving deployment plan\n")
	actx, cancel := context.WithTimeout(ctx, c.deps.Timeouts.Analyze)
	plan, err := c.deps.Analyzer.Analyze(actx, wc.Path, req.Intent)
	cancel()
	if err != nil {
		return c.fail(ctx, rec, "analyze", err)
	}
	if err := c.advance(ctx, rec, run.StageAnalyzed); err != nil {
		return rec, err
	}
	fmt.Fprintf(c.deps.Out, "[analyze] %s app, start: %s, ports %v\n", plan.Language, plan.StartCommand, plan.ExposedPorts)

	// Rewrite detected endpoints to the placeholder origin. Malformed spans
	// abort here, before anything costs money.
	report, err := c.deps.Rewriter.Rewrite(wc.Path, plan.DetectedEndpoints, placeholderOrigin)
	if err != nil {
		return c.fail(ctx, rec, "rewrite", err)
	}
	if err := c.advance(ctx, rec, run.StageRewritten); err != nil {
		return rec, err
	}
	fmt.Fprintf(c.deps.Out, "[rewrite] %d endpoint(s) rewritten, %d skipped\n", len(report.Changes), len(report.Skipped))

	// Template.
	keyPath, publicKey, err := c.deps.EnsureKey()
	if err != nil {
		return c.fail(ctx, rec, "template", err)
	}
	env.SSHPublicKey = publicKey
	if env.Provider == "gcp" && env.ProjectID == "" {
		project, pErr := c.deps.GCPProject(ctx)
		if pErr != nil {
			return c.fail(ctx, rec, "template", pErr)
		}
		env.ProjectID = project
	}

	tmpl, err := c.deps.Render(plan, env)
	if err != nil {
		return c.fail(ctx, rec, "template", err)
	}
	rec.TemplateHash = tmpl.Hash
	if err := c.deps.Ledger.SetTemplateHash(ctx, rec.RunID, tmpl.Hash); err != nil {
		return c.fail(ctx, rec, "template", err)
	}

	workdir := filepath.Join(c.deps.WorkRoot, rec.RunID)
	if err := c.deps.Terraform.WriteTemplate(workdir, tmpl.Files); err != nil {
		return c.fail(ctx, rec, "template", err)
	}

	// The workdir is the provider state ref. Persist it durably before
	// apply so a crash mid-provision cannot orphan resources.
	pr := &run.ProvisionResult{
		StateRef:   workdir,
		SSHKeyPath: keyPath,
		SSHUser:    env.SSHUser,
	}
	if err := c.deps.Ledger.SaveProvisionResult(ctx, rec.RunID, pr); err != nil {
		return c.fail(ctx, rec, "template", err)
	}
	rec.Provision = pr
	if err := c.advance(ctx, rec, run.StageTemplated); err != nil {
		return rec, err
	}
	fmt.Fprintf(c.deps.Out, "[template] rendered %s/%s (hash %s)\n", env.Provider, env.Machine, shortHash(tmpl.Hash))

	// Approval gate: resources start costing money past this point.
	if !req.AutoApprove {
		question := fmt.Sprintf("Provision a %s %s instance in %s for %s?",
			env.Provider, env.Machine, env.Region, req.RepoURL)
		ok, cErr := c.deps.Confirm(question)
		if cErr != nil {
			return rec, cErr
		}
		if !ok {
			return rec, ErrApprovalDeclined
		}
	}

	// Provision. Never auto-retried; a failed apply leaves the state ref in
	// the ledger for destroy-driven cleanup.
	fmt.Fprintf(c.deps.Out, "[provision] applying infrastructure\n")
	pctx, cancel := context.WithTimeout(ctx, c.deps.Timeouts.Provision)
	err = c.deps.Terraform.Apply(pctx, workdir)
	cancel()
	if err != nil {
		return c.fail(ctx, rec, "provision", err)
	}

	host, err := c.deps.Terraform.HostAddress(ctx, workdir)
	if err != nil {
		return c.fail(ctx, rec, "provision", err)
	}
	resources, err := c.deps.Terraform.StateResources(ctx, workdir)
	if err != nil {
		fmt.Fprintf(c.deps.Out, "[provision] could not list state resources: %v\n", err)
	}

	pr.HostAddress = host
	pr.ResourceIDs = resources
	if err := c.deps.Ledger.SaveProvisionResult(ctx, rec.RunID, pr); err != nil {
		return c.fail(ctx, rec, "provision", err)
	}
	if err := c.advance(ctx, rec, run.StageProvisioned); err != nil {
		return rec, err
	}
	fmt.Fprintf(c.deps.Out, "[provision] host %s up\n", host)

	// Swap the placeholder origin for the real public address, then ship.
	firstPort := plan.ExposedPorts[0]
	publicOrigin := fmt.Sprintf("http://%s:%d", host, firstPort)
	if len(report.Changes) > 0 {
		swapRefs := make([]analyze.EndpointRef, 0, len(report.Changes))
		for _, ch := range report.Changes {
			swapRefs = append(swapRefs, analyze.EndpointRef{
				FilePath:   ch.FilePath,
				Line:       ch.Line,
				LiteralURL: placeholderOrigin,
			})
		}
		if _, err := c.deps.Rewriter.Rewrite(wc.Path, swapRefs, publicOrigin); err != nil {
			return c.fail(ctx, rec, "deploy", err)
		}
	}

	archive, err := c.deps.Archive(wc.Path)
	if err != nil {
		return c.fail(ctx, rec, "deploy", err)
	}

	fmt.Fprintf(c.deps.Out, "[deploy] bootstrapping %s\n", host)
	bctx, cancel := context.WithTimeout(ctx, c.deps.Timeouts.Bootstrap)
	outcome, err := c.deps.Executor.Run(bctx, host, keyPath, tmpl.Files[infra.ScriptFileName()], archive, infra.RemoteArchivePath(), firstPort)
	cancel()
	if err != nil {
		return c.fail(ctx, rec, "deploy", err)
	}
	if outcome.ExitStatus != 0 {
		return c.fail(ctx, rec, "deploy", &RemoteExecError{Host: host, ExitStatus: outcome.ExitStatus})
	}
	if err := c.advance(ctx, rec, run.StageDeployed); err != nil {
		return rec, err
	}

	if !outcome.Verified {
		return c.fail(ctx, rec, "verify", fmt.Errorf("service did not become reachable on %s", publicOrigin))
	}
	if err := c.advance(ctx, rec, run.StageVerified); err != nil {
		return rec, err
	}
	fmt.Fprintf(c.deps.Out, "[verify] %s is live\n", publicOrigin)

	return rec, nil
}

// guardActive rejects a deploy when an active run already holds resources for
// the same (repo, revision, provider, region) target.
func (c *Coordinator) guardActive(ctx context.Context, repoURL, revision string, env *infra.TargetEnvironment) error {
	active, err := c.deps.Ledger.FindActiveByTarget(ctx, repoURL, revision, env.Provider, env.Region)
	if err != nil {
		return fmt.Errorf("failed to check for active runs: %w", err)
	}
	if len(active) > 0 {
		return fmt.Errorf("%w (run %s); pass --force to provision anyway", ErrAlreadyProvisioned, active[0].RunID)
	}
	return nil
}

// DestroyOutcome reports the result of destroying one run.
type DestroyOutcome struct {
	RunID string
	Err   error
}

// Destroy tears down one run, or every non-destroyed run when selector is
// "all". Per-run best effort: one failure does not block the others.
func (c *Coordinator) Destroy(ctx context.Context, selector string, autoApprove bool) ([]DestroyOutcome, error) {
	var recs []*run.Record
	if selector == "all" {
		all, err := c.deps.Ledger.ListActive(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list runs: %w", err)
		}
		recs = all
	} else {
		rec, err := c.deps.Ledger.Get(ctx, selector)
		if err != nil {
			return nil, err
		}
		recs = []*run.Record{rec}
	}

	if len(recs) == 0 {
		fmt.Fprintf(c.deps.Out, "[destroy] nothing to destroy\n")
		return nil, nil
	}

	if !autoApprove {
		question := fmt.Sprintf("Destroy %d run(s) and all their cloud resources?", len(recs))
		ok, err := c.deps.Confirm(question)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrApprovalDeclined
		}
	}

	outcomes := make([]DestroyOutcome, 0, len(recs))
	for _, rec := range recs {
		err := c.destroyOne(ctx, rec)
		if err != nil {
			fmt.Fprintf(c.deps.Out, "[destroy] %s failed: %v\n", rec.RunID, err)
		} else {
			fmt.Fprintf(c.deps.Out, "[destroy] %s destroyed\n", rec.RunID)
		}
		outcomes = append(outcomes, DestroyOutcome{RunID: rec.RunID, Err: err})
	}
	return outcomes, nil
}

// destroyOne tears down whatever provider state a run holds, including
// partial state from a failed apply.
func (c *Coordinator) destroyOne(ctx context.Context, rec *run.Record) error {
	if rec.Provision != nil && rec.Provision.StateRef != "" {
		if err := c.deps.Terraform.Destroy(ctx, rec.Provision.StateRef); err != nil {
			return err
		}
	}
	return c.deps.Ledger.UpdateStage(ctx, rec.RunID, run.StageDestroyed)
}

func (c *Coordinator) advance(ctx context.Context, rec *run.Record, stage run.Stage) error {
	if err := c.deps.Ledger.UpdateStage(ctx, rec.RunID, stage); err != nil {
		return fmt.Errorf("failed to persist %s transition: %w", stage, err)
	}
	rec.Stage = stage
	return nil
}

// fail records the failing stage in the ledger and surfaces the error with
// the stage name. Persistence uses a detached context so a cancelled run
// still lands in the ledger.
func (c *Coordinator) fail(ctx context.Context, rec *run.Record, stage string, err error) (*run.Record, error) {
	rec.Stage = run.StageFailed
	rec.FailStage = stage
	rec.FailError = err.Error()
	if mErr := c.deps.Ledger.MarkFailed(context.WithoutCancel(ctx), rec.RunID, stage, err.Error()); mErr != nil {
		fmt.Fprintf(c.deps.Out, "[run] could not record failure: %v\n", mErr)
	}
	return rec, fmt.Errorf("%s stage failed: %w", stage, err)
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// DefaultWorkRoot is where per-run terraform workdirs live.
func DefaultWorkRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "shipit", "runs")
	}
	return filepath.Join(home, ".shipit", "runs")
}

// DefaultKeyDir is where the deploy SSH keypair lives.
func DefaultKeyDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "shipit", "keys")
	}
	return filepath.Join(home, ".shipit", "keys")
}
