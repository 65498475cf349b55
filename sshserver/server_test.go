package sshserver

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	"pkt.systems/cellx/core"
	"pkt.systems/cellx/internal/execindex"
	"pkt.systems/cellx/schema"
)

func requireBinary(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not available", name)
	}
}

func startServer(t *testing.T) string {
	t.Helper()
	index := execindex.New(nil)
	if err := index.Refresh(context.Background()); err != nil {
		t.Fatalf("index: %v", err)
	}
	engine, err := core.NewEngine(schema.EngineConfig{
		GracePeriod: 200 * time.Millisecond,
		KillTimeout: 500 * time.Millisecond,
	}, core.EngineDeps{Index: index})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &Server{
		HostKeyPath: filepath.Join(t.TempDir(), "host_key"),
		Listener:    ln,
		Engine:      engine,
	}
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-errCh
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		_ = engine.Close(closeCtx)
	})
	return ln.Addr().String()
}

func dial(t *testing.T, addr string) *ssh.Session {
	t.Helper()
	client, err := ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            "tester",
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	sess, err := client.NewSession()
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

func exitStatus(t *testing.T, err error) int {
	t.Helper()
	if err == nil {
		return 0
	}
	var exitErr *ssh.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected exit error, got %v", err)
	}
	return exitErr.ExitStatus()
}

func TestExecEcho(t *testing.T) {
	requireBinary(t, "echo")
	addr := startServer(t)
	out, err := dial(t, addr).Output("echo hello")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if string(out) != "hello\n" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestExecExitStatus(t *testing.T) {
	requireBinary(t, "sh")
	addr := startServer(t)
	err := dial(t, addr).Run("sh -c 'exit 3'")
	if code := exitStatus(t, err); code != 3 {
		t.Fatalf("expected exit 3, got %d", code)
	}
}

func TestExecNotFound(t *testing.T) {
	addr := startServer(t)
	sess := dial(t, addr)
	var stderr bytes.Buffer
	sess.Stderr = &stderr
	err := sess.Run("frobnicate-cellx-test")
	if code := exitStatus(t, err); code != exitNotFound {
		t.Fatalf("expected exit %d, got %d", exitNotFound, code)
	}
	if !strings.Contains(stderr.String(), "command not found: frobnicate-cellx-test") {
		t.Fatalf("unexpected stderr %q", stderr.String())
	}
}

func TestExecForwardsStdin(t *testing.T) {
	requireBinary(t, "cat")
	addr := startServer(t)
	sess := dial(t, addr)
	sess.Stdin = strings.NewReader("y\n")
	out, err := sess.Output("cat")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if string(out) != "y\n" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestExecUsesCellxDir(t *testing.T) {
	requireBinary(t, "ls")
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "marker.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	addr := startServer(t)
	sess := dial(t, addr)
	if err := sess.Setenv("CELLX_DIR", dir); err != nil {
		t.Fatalf("setenv: %v", err)
	}
	out, err := sess.Output("ls")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(string(out), "marker.txt") {
		t.Fatalf("expected marker in %q", out)
	}
}

func TestSessionWithoutCommandOrPtyIsRejected(t *testing.T) {
	addr := startServer(t)
	sess := dial(t, addr)
	var stderr bytes.Buffer
	sess.Stderr = &stderr
	if err := sess.Shell(); err != nil {
		t.Fatalf("shell: %v", err)
	}
	if code := exitStatus(t, sess.Wait()); code != exitUsage {
		t.Fatalf("expected exit %d, got %d", exitUsage, code)
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func waitFor(t *testing.T, buf *syncBuffer, cond func(string) bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !cond(buf.String()) {
		if time.Now().After(deadline) {
			t.Fatalf("timed out; output so far %q", buf.String())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestConsoleRunsLinesUntilCtrlD(t *testing.T) {
	requireBinary(t, "echo")
	addr := startServer(t)
	sess := dial(t, addr)
	if err := sess.RequestPty("xterm", 24, 80, ssh.TerminalModes{}); err != nil {
		t.Fatalf("pty: %v", err)
	}
	stdin, err := sess.StdinPipe()
	if err != nil {
		t.Fatalf("stdin: %v", err)
	}
	out := &syncBuffer{}
	sess.Stdout = out
	if err := sess.Shell(); err != nil {
		t.Fatalf("shell: %v", err)
	}
	waitFor(t, out, func(s string) bool { return strings.Contains(s, "$ ") })
	if _, err := io.WriteString(stdin, "echo hi\r"); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitFor(t, out, func(s string) bool {
		idx := strings.Index(s, "\r\nhi\r\n")
		return idx >= 0 && strings.Contains(s[idx:], "$ ")
	})
	if _, err := io.WriteString(stdin, "\x04"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := sess.Wait(); err != nil {
		t.Fatalf("expected clean exit, got %v", err)
	}
}
