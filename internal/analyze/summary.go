package analyze

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// highSignalFiles are read in full (capped) when building the repo summary.
var highSignalFiles = map[string]bool{
	"requirements.txt": true,
	"package.json":     true,
	"Dockerfile":       true,
	"README.md":        true,
	"go.mod":           true,
	"pyproject.toml":   true,
	"app.py":           true,
	"main.py":          true,
	"server.js":        true,
	"index.js":         true,
}

var frontendExts = map[string]bool{
	".html": true,
	".js":   true,
	".jsx":  true,
	".tsx":  true,
	".vue":  true,
}

var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
	"dist":         true,
	"build":        true,
}

const keyFileCap = 4000

var localEndpointRe = regexp.MustCompile(`https?://(?:localhost|127\.0\.0\.1):\d+`)

// SummarizeRepo walks the working copy and returns a text summary: a file
// tree plus the contents of high-signal files, capped per file. This is what
// the LLM sees.
func SummarizeRepo(root string) (string, error) {
	var tree strings.Builder
	var contents strings.Builder
	tree.WriteString("File Tree:\n")
	contents.WriteString("\nKey File Contents:\n")

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, rErr := filepath.Rel(root, path)
		if rErr != nil {
			return rErr
		}
		if rel == "." {
			return nil
		}

		base := filepath.Base(path)
		if info.IsDir() {
			if skipDirs[base] || strings.HasPrefix(base, ".") {
				return filepath.SkipDir
			}
			depth := strings.Count(rel, string(os.PathSeparator))
			if depth > 4 {
				return filepath.SkipDir
			}
			tree.WriteString(strings.Repeat("    ", depth))
			tree.WriteString(base + "/\n")
			return nil
		}

		depth := strings.Count(rel, string(os.PathSeparator))
		tree.WriteString(strings.Repeat("    ", depth+1))
		tree.WriteString(base + "\n")

		if highSignalFiles[base] {
			data, rdErr := os.ReadFile(path)
			if rdErr != nil {
				contents.WriteString(fmt.Sprintf("\n--- Could not read %s: %v ---\n", rel, rdErr))
				return nil
			}
			if len(data) > keyFileCap {
				data = data[:keyFileCap]
			}
			contents.WriteString(fmt.Sprintf("\n--- Content of ./%s ---\n%s\n", rel, string(data)))
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to summarize repo: %w", err)
	}

	return tree.String() + contents.String(), nil
}

// ScanEndpoints finds localhost/127.0.0.1 URL literals in frontend files,
// recording exact file, line and column so the rewriter can substitute them
// byte-precisely. Results are ordered by path then position.
func ScanEndpoints(root string) ([]EndpointRef, error) {
	var refs []EndpointRef

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		base := filepath.Base(path)
		if info.IsDir() {
			if skipDirs[base] || strings.HasPrefix(base, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !frontendExts[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		rel, rErr := filepath.Rel(root, path)
		if rErr != nil {
			return rErr
		}

		f, oErr := os.Open(path)
		if oErr != nil {
			return nil // unreadable files are simply not rewritten
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			line := scanner.Text()
			for _, loc := range localEndpointRe.FindAllStringIndex(line, -1) {
				refs = append(refs, EndpointRef{
					FilePath:   rel,
					Line:       lineNo,
					StartCol:   loc[0],
					LiteralURL: line[loc[0]:loc[1]],
				})
			}
		}
		return scanner.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan for endpoints: %w", err)
	}

	sort.Slice(refs, func(i, j int) bool {
		if refs[i].FilePath != refs[j].FilePath {
			return refs[i].FilePath < refs[j].FilePath
		}
		if refs[i].Line != refs[j].Line {
			return refs[i].Line < refs[j].Line
		}
		return refs[i].StartCol < refs[j].StartCol
	})
	return refs, nil
}
