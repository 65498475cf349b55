package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pkt.systems/cellx/internal/appconfig"
	"pkt.systems/cellx/schema"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "config_version: 1\n" +
		"engine:\n  grace_period_ms: 200\n  kill_timeout_ms: 500\n" +
		"index:\n  watch: false\n" +
		"history:\n  db_path: " + filepath.Join(dir, "history.db") + "\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func requireBinary(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not available", name)
	}
}

func executeRoot(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	root := newRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := root.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

func TestRunEcho(t *testing.T) {
	requireBinary(t, "echo")
	cfg := writeTestConfig(t)
	stdout, _, err := executeRoot(t, "", "run", "-c", cfg, "--no-history", "--", "echo", "hi")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stdout != "hi\n" {
		t.Fatalf("unexpected stdout %q", stdout)
	}
}

func TestRunForwardsStdin(t *testing.T) {
	requireBinary(t, "cat")
	cfg := writeTestConfig(t)
	stdout, _, err := executeRoot(t, "one\ntwo", "run", "-c", cfg, "--no-history", "cat")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stdout != "one\ntwo" {
		t.Fatalf("unexpected stdout %q", stdout)
	}
}

func TestRunExitCodes(t *testing.T) {
	requireBinary(t, "sh")
	cfg := writeTestConfig(t)
	_, _, err := executeRoot(t, "", "run", "-c", cfg, "--no-history", "sh -c 'exit 3'")
	var exit *exitError
	if !errors.As(err, &exit) || exit.code != 3 {
		t.Fatalf("expected exit 3, got %v", err)
	}

	_, stderr, err := executeRoot(t, "", "run", "-c", cfg, "--no-history", "frobnicate-not-a-command")
	if !errors.As(err, &exit) || exit.code != exitNotFound {
		t.Fatalf("expected exit %d, got %v", exitNotFound, err)
	}
	if !strings.Contains(stderr, "cellx: ") {
		t.Fatalf("expected error on stderr, got %q", stderr)
	}
}

func TestRunInterruptReturnsCancelled(t *testing.T) {
	requireBinary(t, "sleep")
	cfg, err := appconfig.Load(writeTestConfig(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	ctx := context.Background()
	local, err := openLocalEngine(ctx, cfg, false)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	defer func() { _ = local.Close(ctx) }()
	cell, err := local.engine.Run(ctx, schema.CellProps{Input: "sleep 30"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	interrupts := make(chan os.Signal, 1)
	go func() {
		time.Sleep(200 * time.Millisecond)
		interrupts <- os.Interrupt
	}()
	var stdout, stderr bytes.Buffer
	code := runCell(ctx, localCell{cell: cell}, nil, &stdout, &stderr, interrupts)
	if code != exitCancelled {
		t.Fatalf("expected %d, got %d", exitCancelled, code)
	}
}

func TestRunRecordsHistory(t *testing.T) {
	requireBinary(t, "echo")
	cfg := writeTestConfig(t)
	if _, _, err := executeRoot(t, "", "run", "-c", cfg, "--id", "recorded", "echo", "kept"); err != nil {
		t.Fatalf("run: %v", err)
	}
	stdout, _, err := executeRoot(t, "", "history", "-c", cfg)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(stdout, "recorded") || !strings.Contains(stdout, "echo kept") || !strings.Contains(stdout, "exit 0") {
		t.Fatalf("unexpected history listing %q", stdout)
	}
	stdout, _, err = executeRoot(t, "", "history", "-c", cfg, "--output", "recorded")
	if err != nil {
		t.Fatalf("history output: %v", err)
	}
	if stdout != "kept\n" {
		t.Fatalf("unexpected recorded output %q", stdout)
	}
}

func TestHistoryPrune(t *testing.T) {
	requireBinary(t, "echo")
	cfg := writeTestConfig(t)
	if _, _, err := executeRoot(t, "", "run", "-c", cfg, "--id", "pruned", "echo", "gone"); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, _, err := executeRoot(t, "", "history", "prune", "-c", cfg); err == nil {
		t.Fatalf("expected prune without retention to fail")
	}
	stdout, _, err := executeRoot(t, "", "history", "prune", "-c", cfg, "--older-than", "1h")
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if stdout != "pruned 0 cells\n" {
		t.Fatalf("unexpected prune output %q", stdout)
	}
	if _, _, err := executeRoot(t, "", "history", "prune", "-c", cfg, "--older-than", "-1h"); err == nil {
		t.Fatalf("expected negative cutoff to be rejected")
	}
	stdout, _, err = executeRoot(t, "", "history", "prune", "-c", cfg, "--older-than", "1ns")
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if stdout != "pruned 1 cells\n" {
		t.Fatalf("unexpected prune output %q", stdout)
	}
}

func TestRenderMessage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := renderMessage(schema.OutputChunk([]byte("a"), schema.StreamStdout), &stdout, &stderr, 0)
	code = renderMessage(schema.OutputChunk([]byte("b"), schema.StreamStderr), &stdout, &stderr, code)
	code = renderMessage(schema.Completed(5), &stdout, &stderr, code)
	if code != 5 || stdout.String() != "a" || stderr.String() != "b" {
		t.Fatalf("unexpected render: code=%d stdout=%q stderr=%q", code, stdout.String(), stderr.String())
	}
}
