package core

import (
	"os"
	"reflect"
	"testing"
)

func TestParentFromStat(t *testing.T) {
	ppid, err := parentFromStat([]byte("4242 (my (odd) cmd) S 17 4242 4242 0 -1"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ppid != 17 {
		t.Fatalf("expected ppid 17, got %d", ppid)
	}
	if _, err := parentFromStat([]byte("garbage")); err == nil {
		t.Fatalf("expected error for malformed stat")
	}
}

func TestProcessTreeDescendants(t *testing.T) {
	tree := processTree{1: {2, 3}, 2: {4}, 4: {5}, 9: {10}}
	got := tree.descendants(1)
	if want := []int{2, 3, 4, 5}; !reflect.DeepEqual(got, want) {
		t.Fatalf("descendants = %v, want %v", got, want)
	}
	if got := tree.descendants(7); len(got) != 0 {
		t.Fatalf("expected no descendants, got %v", got)
	}
}

func TestReadProcessTreeFindsSelf(t *testing.T) {
	if _, err := os.Stat("/proc/self/stat"); err != nil {
		t.Skip("no /proc")
	}
	tree, err := readProcessTree()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	found := false
	for _, pid := range tree[os.Getppid()] {
		if pid == os.Getpid() {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected pid %d under parent %d", os.Getpid(), os.Getppid())
	}
}
