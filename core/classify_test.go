package core

import (
	"os"
	"path/filepath"
	"testing"
)

type staticIndex map[string]bool

func (s staticIndex) Contains(name string) bool {
	return s[name]
}

func TestClassifyPathTakesPrecedence(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"view", "ls", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	index := staticIndex{"ls": true}
	for _, token := range []string{"view", "ls", "notes.txt"} {
		kind := Classify(token, dir, index)
		path, ok := kind.(PathKind)
		if !ok {
			t.Fatalf("token %q: expected PathKind, got %T", token, kind)
		}
		if path.Path != token {
			t.Fatalf("token %q: expected path to echo token, got %q", token, path.Path)
		}
	}
}

func TestClassifyAbsolutePath(t *testing.T) {
	dir := t.TempDir()
	kind := Classify(dir, "/", nil)
	if _, ok := kind.(PathKind); !ok {
		t.Fatalf("expected PathKind for absolute dir, got %T", kind)
	}
}

func TestClassifyReservedNames(t *testing.T) {
	dir := t.TempDir()
	index := staticIndex{"view": true, "write": true, "shortcuts": true}
	cases := map[string]Kind{
		"view":      ViewKind{},
		"write":     WriteKind{},
		"shortcuts": ShortcutsKind{},
	}
	for token, want := range cases {
		if got := Classify(token, dir, index); got != want {
			t.Fatalf("token %q: expected %T, got %T", token, want, got)
		}
	}
}

func TestClassifyIndexMembership(t *testing.T) {
	dir := t.TempDir()
	kind := Classify("git", dir, staticIndex{"git": true})
	ext, ok := kind.(ExternalKind)
	if !ok || ext.Name != "git" {
		t.Fatalf("expected ExternalKind(git), got %#v", kind)
	}
}

func TestClassifyNotFound(t *testing.T) {
	dir := t.TempDir()
	for _, token := range []string{"frobnicate", "", "./missing"} {
		if _, ok := Classify(token, dir, staticIndex{}).(NotFoundKind); !ok {
			t.Fatalf("token %q: expected NotFoundKind", token)
		}
	}
	if _, ok := Classify("ls", dir, nil).(NotFoundKind); !ok {
		t.Fatalf("expected NotFoundKind with nil index")
	}
}

func TestKindStrings(t *testing.T) {
	kinds := []Kind{PathKind{}, ViewKind{}, WriteKind{}, ShortcutsKind{}, ExternalKind{}, NotFoundKind{}}
	seen := map[string]bool{}
	for _, kind := range kinds {
		name := kind.String()
		if name == "" || seen[name] {
			t.Fatalf("kind names must be unique and non-empty, got %q", name)
		}
		seen[name] = true
	}
}

func TestResolvePathPrefersWorkingDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if got := ResolvePath("sub", dir); got != filepath.Join(dir, "sub") {
		t.Fatalf("expected joined path, got %q", got)
	}
	if got := ResolvePath("/etc/../tmp", dir); got != "/tmp" {
		t.Fatalf("expected cleaned absolute path, got %q", got)
	}
}
