package main

import (
	"errors"
	"testing"
)

func TestRootCommands(t *testing.T) {
	root := newRootCmd()
	want := []string{"serve", "run", "classify", "index", "suggest", "history", "config", "version"}
	for _, name := range want {
		found := false
		for _, cmd := range root.Commands() {
			if cmd.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("expected root command to include %s", name)
		}
	}
}

func TestExitErrorUnwraps(t *testing.T) {
	var err error = &exitError{code: 127}
	var exit *exitError
	if !errors.As(err, &exit) || exit.code != 127 {
		t.Fatalf("expected exit code 127, got %v", err)
	}
	if err.Error() != "exit status 127" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
