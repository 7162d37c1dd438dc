package contextpack

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/DRCubix/gansauditor/internal/types"
)

func TestBuildWithProvidedDiff(t *testing.T) {
	p := New(Limits{}, nil)

	pack := p.Build(context.Background(), PackRequest{
		Scope: types.ScopeDiff,
		Diff:  "--- a/x.go\n+++ b/x.go\n@@ -1 +1 @@\n-old\n+new",
	})
	if !strings.Contains(pack, "```diff") || !strings.Contains(pack, "+new") {
		t.Errorf("pack = %q", pack)
	}
}

func TestBuildPathsScope(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.go")
	if err := os.WriteFile(a, []byte("package a\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	p := New(Limits{}, nil)
	pack := p.Build(context.Background(), PackRequest{
		Scope: types.ScopePaths,
		Paths: []string{a, filepath.Join(dir, "missing.go")},
	})
	if !strings.Contains(pack, "package a") {
		t.Errorf("pack missing file content: %q", pack)
	}
	if !strings.Contains(pack, "unreadable") {
		t.Errorf("pack missing unreadable marker: %q", pack)
	}
}

func TestBuildNeverFails(t *testing.T) {
	p := New(Limits{}, nil)

	// Paths scope with nothing readable degrades to the stub.
	pack := p.Build(context.Background(), PackRequest{
		Scope: types.ScopePaths,
		Paths: []string{"/definitely/not/here.go"},
	})
	if !strings.HasPrefix(pack, FailureStub) {
		t.Errorf("pack = %q, want %q prefix", pack, FailureStub)
	}

	pack = p.Build(context.Background(), PackRequest{Scope: types.ScopePaths})
	if !strings.HasPrefix(pack, FailureStub) {
		t.Errorf("pack = %q, want stub for empty paths", pack)
	}
}

func TestBuildWorkspaceScope(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "node_modules", "x"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "node_modules", "x", "dep.js"), []byte("junk"), 0o644); err != nil {
		t.Fatal(err)
	}

	p := New(Limits{}, nil)
	pack := p.Build(context.Background(), PackRequest{Scope: types.ScopeWorkspace, Root: dir})
	if !strings.Contains(pack, "package main") {
		t.Errorf("pack missing workspace file: %q", pack)
	}
	if strings.Contains(pack, "dep.js") {
		t.Errorf("pack includes ignored directory: %q", pack)
	}
}

func TestFileTruncation(t *testing.T) {
	dir := t.TempDir()
	big := filepath.Join(dir, "big.go")
	if err := os.WriteFile(big, []byte(strings.Repeat("x", 4096)), 0o644); err != nil {
		t.Fatal(err)
	}

	p := New(Limits{MaxFileBytes: 128}, nil)
	pack := p.Build(context.Background(), PackRequest{Scope: types.ScopePaths, Paths: []string{big}})
	if !strings.Contains(pack, "(truncated)") {
		t.Errorf("pack not truncated: %d bytes", len(pack))
	}
}

func TestPackTruncation(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "f.go")
	if err := os.WriteFile(f, []byte(strings.Repeat("y", 2048)), 0o644); err != nil {
		t.Fatal(err)
	}

	p := New(Limits{MaxTotalBytes: 256}, nil)
	pack := p.Build(context.Background(), PackRequest{Scope: types.ScopePaths, Paths: []string{f}})
	if !strings.Contains(pack, "(context pack truncated)") {
		t.Errorf("pack not bounded: %d bytes", len(pack))
	}
}
