package pipeline

import (
	"os"
	"strings"
	"testing"
)

func TestEnsureKeyPair(t *testing.T) {
	dir := t.TempDir()

	keyPath, pubKey, err := EnsureKeyPair(dir)
	if err != nil {
		t.Fatalf("EnsureKeyPair failed: %v", err)
	}
	if !strings.HasPrefix(pubKey, "ssh-rsa ") {
		t.Errorf("public key not in authorized_keys format: %q", pubKey[:20])
	}

	info, err := os.Stat(keyPath)
	if err != nil {
		t.Fatalf("private key not written: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("private key mode = %o, want 600", info.Mode().Perm())
	}

	// Second call reuses the existing pair.
	keyPath2, pubKey2, err := EnsureKeyPair(dir)
	if err != nil {
		t.Fatalf("second EnsureKeyPair failed: %v", err)
	}
	if keyPath2 != keyPath {
		t.Errorf("key path changed between calls: %s vs %s", keyPath, keyPath2)
	}
	if pubKey2 != pubKey {
		t.Error("public key regenerated instead of reused")
	}
}
