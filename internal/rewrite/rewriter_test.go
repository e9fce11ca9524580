package rewrite

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bkalan/shipit/internal/analyze"
)

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func mustRewriter(t *testing.T) *Rewriter {
	t.Helper()
	r, err := NewRewriter(nil)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestRewriteReplacesOnlyMatchedSpan(t *testing.T) {
	dir := t.TempDir()
	original := "const a = 1;\nconst api = \"http://localhost:3000\";\nconst b = 2;\n"
	path := writeFile(t, dir, "app.js", original)

	refs := []analyze.EndpointRef{
		{FilePath: "app.js", Line: 2, LiteralURL: "http://localhost:3000"},
	}

	report, err := mustRewriter(t).Rewrite(dir, refs, "http://34.1.2.3:3000")
	if err != nil {
		t.Fatalf("Rewrite failed: %v", err)
	}
	if len(report.Changes) != 1 {
		t.Fatalf("expected 1 change, got %d", len(report.Changes))
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.SplitAfter(string(got), "\n")
	if lines[0] != "const a = 1;\n" || lines[2] != "const b = 2;\n" {
		t.Error("lines outside the matched span must be byte-identical")
	}
	if lines[1] != "const api = \"http://34.1.2.3:3000\";\n" {
		t.Errorf("unexpected rewritten line: %q", lines[1])
	}
}

func TestRewriteIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "app.js", "fetch(\"http://localhost:3000/api\")\n")

	refs := []analyze.EndpointRef{
		{FilePath: "app.js", Line: 1, LiteralURL: "http://localhost:3000"},
	}
	r := mustRewriter(t)

	first, err := r.Rewrite(dir, refs, "http://34.1.2.3:3000")
	if err != nil {
		t.Fatalf("first Rewrite failed: %v", err)
	}
	if len(first.Changes) != 1 {
		t.Fatalf("expected 1 change on first pass, got %d", len(first.Changes))
	}

	second, err := r.Rewrite(dir, refs, "http://34.1.2.3:3000")
	if err != nil {
		t.Fatalf("second Rewrite failed: %v", err)
	}
	if len(second.Changes) != 0 {
		t.Errorf("second pass must report zero changes, got %d", len(second.Changes))
	}
	if len(second.Skipped) != 1 {
		t.Errorf("second pass should report the span as skipped, got %v", second.Skipped)
	}
}

func TestRewriteZeroRefsIsValid(t *testing.T) {
	dir := t.TempDir()
	report, err := mustRewriter(t).Rewrite(dir, nil, "http://34.1.2.3")
	if err != nil {
		t.Fatalf("Rewrite with no refs failed: %v", err)
	}
	if len(report.Changes) != 0 {
		t.Errorf("expected no changes, got %d", len(report.Changes))
	}
}

func TestRewriteSkipsExcludedPaths(t *testing.T) {
	dir := t.TempDir()
	content := "fetch(\"http://localhost:3000\")\n"
	path := writeFile(t, dir, "node_modules/lib/index.js", content)

	refs := []analyze.EndpointRef{
		{FilePath: "node_modules/lib/index.js", Line: 1, LiteralURL: "http://localhost:3000"},
	}

	report, err := mustRewriter(t).Rewrite(dir, refs, "http://34.1.2.3:3000")
	if err != nil {
		t.Fatalf("Rewrite failed: %v", err)
	}
	if len(report.Changes) != 0 {
		t.Errorf("excluded path must not be rewritten")
	}

	got, _ := os.ReadFile(path)
	if string(got) != content {
		t.Error("excluded file content changed")
	}
}

func TestRewriteRefusesBinaryFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "blob.js", "http://localhost:3000\x00binary")

	refs := []analyze.EndpointRef{
		{FilePath: "blob.js", Line: 1, LiteralURL: "http://localhost:3000"},
	}

	_, err := mustRewriter(t).Rewrite(dir, refs, "http://34.1.2.3:3000")
	var rerr *RewriteError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected RewriteError for binary file, got %v", err)
	}
}

func TestRewriteMismatchedSpanFails(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "app.js", "const x = 42;\n")

	refs := []analyze.EndpointRef{
		{FilePath: "app.js", Line: 1, LiteralURL: "http://localhost:3000"},
	}

	_, err := mustRewriter(t).Rewrite(dir, refs, "http://34.1.2.3:3000")
	var rerr *RewriteError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected RewriteError for mismatched span, got %v", err)
	}
	if rerr.FilePath != "app.js" || rerr.Line != 1 {
		t.Errorf("error should carry the span location, got %+v", rerr)
	}
}

func TestSplitAfterNewlinesRoundTrip(t *testing.T) {
	cases := []string{
		"",
		"no newline",
		"one\n",
		"a\nb\nc",
		"\n\n\n",
		"crlf\r\nline\r\n",
	}
	for _, c := range cases {
		if got := strings.Join(splitAfterNewlines(c), ""); got != c {
			t.Errorf("round trip failed for %q: got %q", c, got)
		}
	}
}
