package repo

import (
	"errors"
	"testing"
)

func TestParseGitHubRepo(t *testing.T) {
	tests := []struct {
		name      string
		url       string
		wantOwner string
		wantName  string
		wantOK    bool
	}{
		{"https url", "https://github.com/user/app", "user", "app", true},
		{"with .git suffix", "https://github.com/user/app.git", "user", "app", true},
		{"trailing slash", "https://github.com/user/app/", "user", "app", true},
		{"other host", "https://gitlab.com/user/app", "", "", false},
		{"missing repo segment", "https://github.com/user", "", "", false},
		{"not a url", "/local/path/to/repo", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			owner, name, ok := parseGitHubRepo(tt.url)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if owner != tt.wantOwner || name != tt.wantName {
				t.Errorf("got %s/%s, want %s/%s", owner, name, tt.wantOwner, tt.wantName)
			}
		})
	}
}

func TestIsPermanentCloneError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"auth failure", errors.New("fatal: Authentication failed for 'https://github.com/x/y'"), true},
		{"missing repo", errors.New("fatal: repository not found"), true},
		{"not a repo", errors.New("fatal: 'x' does not appear to be a git repository"), true},
		{"network reset", errors.New("error: RPC failed; curl 56 connection reset by peer"), false},
		{"timeout", errors.New("fatal: unable to access: Failed to connect: Operation timed out"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isPermanentCloneError(tt.err); got != tt.want {
				t.Errorf("isPermanentCloneError(%q) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestWorkingCopyRemoveNil(t *testing.T) {
	var wc *WorkingCopy
	if err := wc.Remove(); err != nil {
		t.Errorf("Remove on nil working copy should be a no-op, got %v", err)
	}
}
