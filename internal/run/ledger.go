package run

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when no run with the requested id exists.
var ErrNotFound = errors.New("run not found")

// Ledger persists Records in a local SQLite database. One row per run_id, so
// concurrent runs never write the same row; WAL plus a busy timeout covers
// concurrent access to the file itself.
type Ledger struct {
	db   *sql.DB
	path string
}

// OpenLedger opens (creating if needed) the ledger database at path and runs
// pending schema migrations.
func OpenLedger(ctx context.Context, path string) (*Ledger, error) {
	if path == "" {
		return nil, fmt.Errorf("ledger path is required")
	}

	// synchronous(FULL): a saved ProvisionResult must survive a crash, losing
	// one is equivalent to leaking cloud resources. Pragmas use the
	// _pragma=name(value) form this driver understands; it applies them on
	// every new connection.
	dsn := fmt.Sprintf("%s?_txlock=immediate&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(FULL)&_pragma=foreign_keys(1)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping ledger database: %w", err)
	}

	l := &Ledger{db: db, path: path}
	if err := l.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}

func (l *Ledger) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(l.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run ledger migrations: %w", err)
	}
	return nil
}

// Create inserts a new run record. CreatedAt/UpdatedAt are set here.
func (l *Ledger) Create(ctx context.Context, rec *Record) error {
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, repo_url, revision, provider, region, machine,
			stage, template_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.RepoURL, rec.Revision, rec.Provider, rec.Region,
		rec.Machine, string(rec.Stage), rec.TemplateHash, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", rec.RunID, err)
	}
	return nil
}

// UpdateStage records one successful stage transition.
func (l *Ledger) UpdateStage(ctx context.Context, runID string, stage Stage) error {
	res, err := l.db.ExecContext(ctx,
		`UPDATE runs SET stage = ?, updated_at = ? WHERE run_id = ?`,
		string(stage), time.Now().UTC(), runID)
	if err != nil {
		return fmt.Errorf("failed to update stage for run %s: %w", runID, err)
	}
	return requireRow(res, runID)
}

// SetTemplateHash records the content hash of the rendered infra template.
func (l *Ledger) SetTemplateHash(ctx context.Context, runID, hash string) error {
	res, err := l.db.ExecContext(ctx,
		`UPDATE runs SET template_hash = ?, updated_at = ? WHERE run_id = ?`,
		hash, time.Now().UTC(), runID)
	if err != nil {
		return fmt.Errorf("failed to set template hash for run %s: %w", runID, err)
	}
	return requireRow(res, runID)
}

// SaveProvisionResult durably records the provision result. This commits
// before the caller proceeds to any later stage.
func (l *Ledger) SaveProvisionResult(ctx context.Context, runID string, pr *ProvisionResult) error {
	ids, err := json.Marshal(pr.ResourceIDs)
	if err != nil {
		return fmt.Errorf("failed to encode resource ids: %w", err)
	}
	res, err := l.db.ExecContext(ctx, `
		UPDATE runs SET host_address = ?, ssh_key_path = ?, ssh_user = ?,
			state_ref = ?, resource_ids = ?, updated_at = ?
		WHERE run_id = ?`,
		pr.HostAddress, pr.SSHKeyPath, pr.SSHUser, pr.StateRef, string(ids),
		time.Now().UTC(), runID)
	if err != nil {
		return fmt.Errorf("failed to save provision result for run %s: %w", runID, err)
	}
	return requireRow(res, runID)
}

// MarkFailed moves the run to FAILED, recording the failing stage and error.
// Any provision result already saved is retained for a later destroy.
func (l *Ledger) MarkFailed(ctx context.Context, runID, failStage, failError string) error {
	res, err := l.db.ExecContext(ctx, `
		UPDATE runs SET stage = ?, fail_stage = ?, fail_error = ?, updated_at = ?
		WHERE run_id = ?`,
		string(StageFailed), failStage, failError, time.Now().UTC(), runID)
	if err != nil {
		return fmt.Errorf("failed to mark run %s failed: %w", runID, err)
	}
	return requireRow(res, runID)
}

// Get loads one run record.
func (l *Ledger) Get(ctx context.Context, runID string) (*Record, error) {
	row := l.db.QueryRowContext(ctx, selectColumns+` WHERE run_id = ?`, runID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return rec, err
}

// List returns all runs, newest first.
func (l *Ledger) List(ctx context.Context) ([]*Record, error) {
	return l.query(ctx, selectColumns+` ORDER BY created_at DESC`)
}

// ListActive returns every run that is not DESTROYED, i.e. every run that may
// still correspond to live, billable cloud resources. FAILED runs are included
// since they can retain a provision result.
func (l *Ledger) ListActive(ctx context.Context) ([]*Record, error) {
	return l.query(ctx, selectColumns+` WHERE stage != ? ORDER BY created_at DESC`,
		string(StageDestroyed))
}

// FindActiveByTarget returns runs for the same (repo, revision, provider,
// region) tuple that have reached PROVISIONED or later and are not destroyed.
// Used by the coordinator's double-provision guard.
func (l *Ledger) FindActiveByTarget(ctx context.Context, repoURL, revision, provider, region string) ([]*Record, error) {
	recs, err := l.query(ctx, selectColumns+`
		WHERE repo_url = ? AND revision = ? AND provider = ? AND region = ?
		  AND stage != ? ORDER BY created_at DESC`,
		repoURL, revision, provider, region, string(StageDestroyed))
	if err != nil {
		return nil, err
	}
	var out []*Record
	for _, r := range recs {
		if r.Stage.AtLeast(StageProvisioned) || (r.Stage == StageFailed && r.Provision != nil && r.Provision.StateRef != "") {
			out = append(out, r)
		}
	}
	return out, nil
}

const selectColumns = `
	SELECT run_id, repo_url, revision, provider, region, machine, stage,
	       fail_stage, fail_error, template_hash, host_address, ssh_key_path,
	       ssh_user, state_ref, resource_ids, created_at, updated_at
	FROM runs`

func (l *Ledger) query(ctx context.Context, q string, args ...any) ([]*Record, error) {
	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var recs []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var stage, resourceIDs, hostAddress, sshKeyPath, sshUser, stateRef string
	err := row.Scan(&rec.RunID, &rec.RepoURL, &rec.Revision, &rec.Provider,
		&rec.Region, &rec.Machine, &stage, &rec.FailStage, &rec.FailError,
		&rec.TemplateHash, &hostAddress, &sshKeyPath, &sshUser, &stateRef,
		&resourceIDs, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rec.Stage = Stage(stage)

	if stateRef != "" || hostAddress != "" {
		pr := &ProvisionResult{
			HostAddress: hostAddress,
			SSHKeyPath:  sshKeyPath,
			SSHUser:     sshUser,
			StateRef:    stateRef,
		}
		if resourceIDs != "" {
			if err := json.Unmarshal([]byte(resourceIDs), &pr.ResourceIDs); err != nil {
				return nil, fmt.Errorf("failed to decode resource ids for run %s: %w", rec.RunID, err)
			}
		}
		rec.Provision = pr
	}
	return &rec, nil
}

func requireRow(res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return nil
}
