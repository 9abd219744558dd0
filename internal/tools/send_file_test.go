package tools

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveWithinWorkdir_AllowsNestedPath(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	target := filepath.Join(dir, "sub", "out.txt")
	if err := os.WriteFile(target, []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}

	resolved, err := resolveWithinWorkdir(dir, "sub/out.txt")
	if err != nil {
		t.Fatalf("resolveWithinWorkdir() error = %v", err)
	}
	if resolved != target {
		t.Fatalf("resolveWithinWorkdir() = %q, want %q", resolved, target)
	}
}

func TestResolveWithinWorkdir_RejectsParentEscape(t *testing.T) {
	dir := t.TempDir()
	_, err := resolveWithinWorkdir(dir, "../../etc/passwd")
	if err != errPathEscape {
		t.Fatalf("resolveWithinWorkdir() error = %v, want errPathEscape", err)
	}
}

func TestResolveWithinWorkdir_RejectsSymlinkEscape(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()
	secret := filepath.Join(outside, "secret.txt")
	if err := os.WriteFile(secret, []byte("shh"), 0o644); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(dir, "escape")
	if err := os.Symlink(secret, link); err != nil {
		t.Skipf("symlinks unsupported on this filesystem: %v", err)
	}

	_, err := resolveWithinWorkdir(dir, "escape")
	if err != errPathEscape {
		t.Fatalf("resolveWithinWorkdir() error = %v, want errPathEscape", err)
	}
}
