package repo

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-github/v56/github"
)

// WorkingCopy is a local materialization of a repository at some revision.
type WorkingCopy struct {
	Path     string
	RepoURL  string
	Revision string
}

// Remove deletes the working tree.
func (w *WorkingCopy) Remove() error {
	if w == nil || w.Path == "" {
		return nil
	}
	return os.RemoveAll(w.Path)
}

// FetchError wraps a failure to obtain a working copy. Transient network
// failures are retried internally; whatever surfaces here needs operator
// intervention.
type FetchError struct {
	RepoURL string
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.RepoURL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Fetcher clones repositories into temp working trees.
type Fetcher struct {
	github   *github.Client
	attempts int
	debug    bool
}

// NewFetcher creates a Fetcher. The GitHub client is used only to resolve
// refs for github.com URLs; everything else goes straight to git.
func NewFetcher(debug bool) *Fetcher {
	return &Fetcher{
		github:   github.NewClient(nil),
		attempts: 3,
		debug:    debug,
	}
}

// Fetch clones repoURL at revision (HEAD when empty) into a temp dir.
// Transient network failures are retried up to 3 times with exponential
// backoff; auth failures and missing repositories are permanent.
func (f *Fetcher) Fetch(ctx context.Context, repoURL, revision string) (*WorkingCopy, error) {
	resolved := revision
	if owner, name, ok := parseGitHubRepo(repoURL); ok {
		if sha, err := f.resolveGitHubRef(ctx, owner, name, revision); err == nil {
			resolved = sha
		} else if f.debug {
			fmt.Fprintf(os.Stderr, "[fetch] ref resolution via GitHub API failed, cloning directly: %v\n", err)
		}
	}

	var wc *WorkingCopy
	op := func() error {
		var err error
		wc, err = f.cloneOnce(ctx, repoURL, resolved)
		if err == nil {
			return nil
		}
		if isPermanentCloneError(err) {
			return backoff.Permanent(err)
		}
		if f.debug {
			fmt.Fprintf(os.Stderr, "[fetch] transient clone failure, retrying: %v\n", err)
		}
		return err
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(f.attempts-1)), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return nil, &FetchError{RepoURL: repoURL, Err: err}
	}

	wc.Revision = resolved
	return wc, nil
}

func (f *Fetcher) cloneOnce(ctx context.Context, repoURL, revision string) (*WorkingCopy, error) {
	tmpDir, err := os.MkdirTemp("", "shipit-fetch-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}

	args := []string{"clone"}
	if revision == "" {
		args = append(args, "--depth", "1")
	}
	args = append(args, repoURL, tmpDir)

	cmd := exec.CommandContext(ctx, "git", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		os.RemoveAll(tmpDir)
		return nil, fmt.Errorf("git clone failed: %w\n%s", err, string(out))
	}

	if revision != "" {
		cmd := exec.CommandContext(ctx, "git", "checkout", "--detach", revision)
		cmd.Dir = tmpDir
		if out, err := cmd.CombinedOutput(); err != nil {
			os.RemoveAll(tmpDir)
			return nil, fmt.Errorf("git checkout %s failed: %w\n%s", revision, err, string(out))
		}
	}

	return &WorkingCopy{Path: tmpDir, RepoURL: repoURL}, nil
}

// resolveGitHubRef pins revision (or the default branch) to a commit SHA so
// the run record names an exact revision.
func (f *Fetcher) resolveGitHubRef(ctx context.Context, owner, name, revision string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if revision == "" {
		repo, _, err := f.github.Repositories.Get(ctx, owner, name)
		if err != nil {
			return "", err
		}
		revision = repo.GetDefaultBranch()
	}

	commit, _, err := f.github.Repositories.GetCommit(ctx, owner, name, revision, nil)
	if err != nil {
		return "", err
	}
	return commit.GetSHA(), nil
}

func parseGitHubRepo(repoURL string) (owner, name string, ok bool) {
	clean := strings.TrimSuffix(strings.TrimSpace(repoURL), ".git")
	u, err := url.Parse(clean)
	if err != nil || !strings.EqualFold(u.Host, "github.com") {
		return "", "", false
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// isPermanentCloneError reports whether the git failure cannot be fixed by
// retrying: bad credentials, missing repository, malformed URL.
func isPermanentCloneError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"authentication failed",
		"permission denied",
		"repository not found",
		"not found",
		"access denied",
		"invalid username or password",
		"does not appear to be a git repository",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
