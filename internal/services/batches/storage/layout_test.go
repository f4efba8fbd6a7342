package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLayoutPaths(t *testing.T) {
	l := Layout{TempRoot: "/t", PermRoot: "/p"}
	if got := l.TempBatch("src", "b1"); got != filepath.Join("/t", "src", "b1") {
		t.Fatalf("temp batch %q", got)
	}
	if got := l.OrgDir("src", "b1", "org"); got != filepath.Join("/p", "src", "b1", "Split", "org") {
		t.Fatalf("org dir %q", got)
	}
}

func TestPromoteReplacesAndSizes(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "tmp", "Split")
	dst := filepath.Join(root, "perm", "Split")
	if err := os.MkdirAll(filepath.Join(src, "o1"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "o1", "a.csv"), []byte("abc"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dst, "stale"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := Promote(src, dst); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dst, "stale")); !os.IsNotExist(err) {
		t.Fatalf("stale dir survived: %v", err)
	}
	n, err := DirSize(dst)
	if err != nil || n != 3 {
		t.Fatalf("size=%d err=%v", n, err)
	}
	if err := Wipe(filepath.Join(root, "tmp")); err != nil {
		t.Fatal(err)
	}
}
