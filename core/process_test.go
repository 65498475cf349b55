package core

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"pkt.systems/cellx/schema"
)

func TestSignalAfterExitIsRefused(t *testing.T) {
	requireBinary(t, "true")
	proc, err := NewExecutor(0).Start(context.Background(), ProcessSpec{Path: "true", WorkingDir: t.TempDir()}, func(schema.ServerMessage) {})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case <-proc.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout waiting for exit")
	}
	if err := proc.Signal(ProcessSignalTERM); !errors.Is(err, os.ErrProcessDone) {
		t.Fatalf("expected ErrProcessDone, got %v", err)
	}
	started := time.Now()
	if !proc.Terminate(time.Hour, time.Hour) {
		t.Fatalf("expected exited process to report terminated")
	}
	if elapsed := time.Since(started); elapsed > time.Second {
		t.Fatalf("terminate waited %s on an exited process", elapsed)
	}
	if res := proc.Finish(time.Second); res.ExitCode != 0 || res.Err != nil {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestSignalReachesRunningProcess(t *testing.T) {
	requireBinary(t, "sleep")
	proc, err := NewExecutor(0).Start(context.Background(), ProcessSpec{Path: "sleep", Args: []string{"30"}, WorkingDir: t.TempDir()}, func(schema.ServerMessage) {})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := proc.Signal(ProcessSignalTERM); err != nil {
		t.Fatalf("signal: %v", err)
	}
	select {
	case <-proc.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout waiting for exit")
	}
	if res := proc.Finish(time.Second); res.ExitCode != 128+15 {
		t.Fatalf("expected exit 143, got %+v", res)
	}
}
