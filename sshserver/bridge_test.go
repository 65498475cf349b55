package sshserver

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/ssh"

	"pkt.systems/cellx/core"
	"pkt.systems/cellx/schema"
)

func recordingCell() (*runningCell, *[]schema.FrontendMessage) {
	var got []schema.FrontendMessage
	rc := &runningCell{
		id: "c1",
		inbound: func(msg schema.FrontendMessage) error {
			got = append(got, msg)
			return nil
		},
		done: make(chan struct{}),
	}
	return rc, &got
}

func TestForwardTerminalBytes(t *testing.T) {
	rc, got := recordingCell()
	forwardTerminalBytes(context.Background(), []byte("ab\rc\x03d\x04"), rc)
	want := []schema.FrontendMessage{
		schema.Input([]byte("ab\nc")),
		schema.Interrupt(),
		schema.Input([]byte("d")),
		schema.Input(nil),
	}
	if len(*got) != len(want) {
		t.Fatalf("expected %d messages, got %d: %+v", len(want), len(*got), *got)
	}
	for i := range want {
		if (*got)[i].Type != want[i].Type || !bytes.Equal((*got)[i].Data, want[i].Data) {
			t.Fatalf("message %d: expected %+v, got %+v", i, want[i], (*got)[i])
		}
	}
}

func TestPumpStdinNonPtySendsEOF(t *testing.T) {
	rc, got := recordingCell()
	pumpStdin(context.Background(), bytes.NewReader([]byte("y\n")), false, rc)
	if len(*got) != 2 {
		t.Fatalf("expected input and eof, got %+v", *got)
	}
	if string((*got)[0].Data) != "y\n" || len((*got)[1].Data) != 0 {
		t.Fatalf("unexpected messages: %+v", *got)
	}
}

func TestRenderExitCodes(t *testing.T) {
	cases := []struct {
		name string
		msg  schema.ServerMessage
		want int
	}{
		{"completed", schema.Completed(3), 3},
		{"cancelled", schema.StatusChanged(schema.CellCancelled), exitCancelled},
		{"not found", schema.ErrorMessage(string(core.ErrorNotFoundCommand), "command not found: x"), exitNotFound},
		{"spawn", schema.ErrorMessage(string(core.ErrorSpawnFailure), "spawn failed"), exitFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			rc, _ := recordingCell()
			rc.render(tc.msg, cellOutput{stdout: &stdout, stderr: &stderr})
			code, _, _ := rc.result()
			if code != tc.want {
				t.Fatalf("expected exit %d, got %d", tc.want, code)
			}
			if tc.msg.Type == schema.MessageError && stderr.Len() == 0 {
				t.Fatalf("expected error text on stderr")
			}
		})
	}
}

func TestRenderStreamsAndDir(t *testing.T) {
	var stdout, stderr bytes.Buffer
	rc, _ := recordingCell()
	out := cellOutput{stdout: &stdout, stderr: &stderr, crlf: true}
	rc.render(schema.OutputChunk([]byte("a\nb"), schema.StreamStdout), out)
	rc.render(schema.OutputChunk([]byte("oops\n"), schema.StreamStderr), out)
	status := schema.StatusChanged(schema.CellRunning)
	status.Dir = "/tmp"
	rc.render(status, out)
	if stdout.String() != "a\r\nb" {
		t.Fatalf("unexpected stdout %q", stdout.String())
	}
	if stderr.String() != "oops\r\n" {
		t.Fatalf("unexpected stderr %q", stderr.String())
	}
	_, dir, last := rc.result()
	if dir != "/tmp" || last != '\n' {
		t.Fatalf("unexpected dir %q last %q", dir, last)
	}
}

func TestApplySuggestion(t *testing.T) {
	cases := []struct {
		line string
		s    schema.Suggestion
		want string
	}{
		{"gi", schema.Suggestion{Text: "git", Source: schema.SuggestionExecutable}, "git "},
		{"pro", schema.Suggestion{Text: "projects", Source: schema.SuggestionDirectory}, "projects/"},
		{"git st", schema.Suggestion{Text: "git status", Source: schema.SuggestionHistory}, "git status"},
		{"gi status", schema.Suggestion{Text: "git", Source: schema.SuggestionExecutable}, "git status"},
	}
	for _, tc := range cases {
		if got := applySuggestion(tc.line, tc.s); got != tc.want {
			t.Fatalf("applySuggestion(%q) = %q, want %q", tc.line, got, tc.want)
		}
	}
}

func TestSessionDir(t *testing.T) {
	if got := sessionDir([]string{"TERM=xterm", "CELLX_DIR=/srv"}); got != "/srv" {
		t.Fatalf("expected CELLX_DIR, got %q", got)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	if got := sessionDir(nil); got != home {
		t.Fatalf("expected home %q, got %q", home, got)
	}
}

func TestLoadAuthorizedKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "authorized_keys")
	if _, err := LoadAuthorizedKeys(path); err == nil {
		t.Fatalf("expected error for missing file")
	}
	signer, err := EnsureHostKey(filepath.Join(t.TempDir(), "key"))
	if err != nil {
		t.Fatalf("host key: %v", err)
	}
	line := ssh.MarshalAuthorizedKey(signer.PublicKey())
	if err := os.WriteFile(path, line, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	keys, err := LoadAuthorizedKeys(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(keys) != 1 || !bytes.Equal(keys[0].Marshal(), signer.PublicKey().Marshal()) {
		t.Fatalf("unexpected keys: %v", keys)
	}
}

func TestEnsureHostKeyReusesKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "host_key")
	first, err := EnsureHostKey(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600, got %v", info.Mode().Perm())
	}
	second, err := EnsureHostKey(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !bytes.Equal(first.PublicKey().Marshal(), second.PublicKey().Marshal()) {
		t.Fatalf("expected the same key after reload")
	}
}

func TestLoadAuthorizedKeysRejectsMalformedLine(t *testing.T) {
	signer, err := EnsureHostKey(filepath.Join(t.TempDir(), "key"))
	if err != nil {
		t.Fatalf("host key: %v", err)
	}
	path := filepath.Join(t.TempDir(), "authorized_keys")
	body := "# admins\n\n" + string(ssh.MarshalAuthorizedKey(signer.PublicKey())) + "not-a-key\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadAuthorizedKeys(path); err == nil {
		t.Fatalf("expected malformed entry to fail")
	}
}
