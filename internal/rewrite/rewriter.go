package rewrite

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"

	"github.com/bkalan/shipit/internal/analyze"
)

// DefaultExcludes are path globs never rewritten: dependency trees, VCS
// metadata, build output.
var DefaultExcludes = []string{
	"node_modules/**",
	"vendor/**",
	".git/**",
	"dist/**",
	"build/**",
}

// Change records one substitution for the audit report.
type Change struct {
	FilePath string
	Line     int
	Old      string
	New      string
}

// Report lists every change made by a rewrite pass. Zero changes is a valid,
// non-error outcome.
type Report struct {
	Changes []Change
	Skipped []string // refs skipped because the span was already rewritten
}

// RewriteError means a recorded span no longer matches the source: the plan
// and the working copy disagree, so the run aborts before any cloud cost.
type RewriteError struct {
	FilePath string
	Line     int
	Err      error
}

func (e *RewriteError) Error() string {
	return fmt.Sprintf("rewrite %s:%d: %v", e.FilePath, e.Line, e.Err)
}

func (e *RewriteError) Unwrap() error { return e.Err }

// Rewriter substitutes detected endpoint literals with the provisioned host.
type Rewriter struct {
	excludes []glob.Glob
}

// NewRewriter compiles the exclusion globs. Invalid patterns are rejected up
// front rather than silently ignored mid-run.
func NewRewriter(excludePatterns []string) (*Rewriter, error) {
	if excludePatterns == nil {
		excludePatterns = DefaultExcludes
	}
	var globs []glob.Glob
	for _, pat := range excludePatterns {
		g, err := glob.Compile(pat, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", pat, err)
		}
		globs = append(globs, g)
	}
	return &Rewriter{excludes: globs}, nil
}

// Rewrite replaces each endpoint literal with newHost, byte-preserving
// everything outside the matched spans. Files are grouped so each is read and
// written once. A second pass over already-rewritten spans reports them as
// skipped, not as changes.
func (r *Rewriter) Rewrite(workDir string, refs []analyze.EndpointRef, newHost string) (*Report, error) {
	report := &Report{}

	byFile := map[string][]analyze.EndpointRef{}
	for _, ref := range refs {
		byFile[ref.FilePath] = append(byFile[ref.FilePath], ref)
	}

	for rel, fileRefs := range byFile {
		if r.excluded(rel) {
			continue
		}
		if err := r.rewriteFile(workDir, rel, fileRefs, newHost, report); err != nil {
			return nil, err
		}
	}
	return report, nil
}

func (r *Rewriter) excluded(rel string) bool {
	rel = filepath.ToSlash(rel)
	for _, g := range r.excludes {
		if g.Match(rel) {
			return true
		}
	}
	return false
}

func (r *Rewriter) rewriteFile(workDir, rel string, refs []analyze.EndpointRef, newHost string, report *Report) error {
	path := filepath.Join(workDir, rel)
	data, err := os.ReadFile(path)
	if err != nil {
		return &RewriteError{FilePath: rel, Err: err}
	}
	if bytes.IndexByte(data, 0) >= 0 {
		return &RewriteError{FilePath: rel, Err: fmt.Errorf("refusing to rewrite binary file")}
	}

	// Split preserving every byte: lines[i] keeps its trailing newline.
	lines := splitAfterNewlines(string(data))

	changed := false
	for _, ref := range refs {
		if ref.Line < 1 || ref.Line > len(lines) {
			return &RewriteError{FilePath: rel, Line: ref.Line, Err: fmt.Errorf("line out of range")}
		}
		idx := ref.Line - 1
		line := lines[idx]

		switch {
		case strings.Contains(line, ref.LiteralURL):
			lines[idx] = strings.Replace(line, ref.LiteralURL, newHost, 1)
			changed = true
			report.Changes = append(report.Changes, Change{
				FilePath: rel,
				Line:     ref.Line,
				Old:      ref.LiteralURL,
				New:      newHost,
			})
		case strings.Contains(line, newHost):
			// Already rewritten by a previous pass.
			report.Skipped = append(report.Skipped, fmt.Sprintf("%s:%d", rel, ref.Line))
		default:
			return &RewriteError{FilePath: rel, Line: ref.Line,
				Err: fmt.Errorf("recorded literal %q not found", ref.LiteralURL)}
		}
	}

	if !changed {
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return &RewriteError{FilePath: rel, Err: err}
	}
	if err := os.WriteFile(path, []byte(strings.Join(lines, "")), info.Mode().Perm()); err != nil {
		return &RewriteError{FilePath: rel, Err: err}
	}
	return nil
}

// splitAfterNewlines splits s into segments each ending with '\n' (except
// possibly the last), so joining with "" reproduces s exactly.
func splitAfterNewlines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i+1])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	if len(lines) == 0 {
		lines = []string{""}
	}
	return lines
}
