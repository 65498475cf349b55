package sshserver

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strings"

	gliderssh "github.com/gliderlabs/ssh"
	"golang.org/x/crypto/ssh"

	"pkt.systems/cellx/core"
	"pkt.systems/cellx/internal/logx"
	"pkt.systems/cellx/schema"
	"pkt.systems/pslog"
)

// Engine starts cells.
type Engine interface {
	Run(ctx context.Context, props schema.CellProps) (*core.Cell, error)
}

// Suggester ranks completion candidates for the interactive console.
type Suggester interface {
	Suggest(ctx context.Context, req schema.SuggestRequest) ([]schema.Suggestion, error)
}

// Server exposes cells over SSH. `ssh host <command line>` runs one cell;
// a session without a command opens a line console.
type Server struct {
	Addr               string
	HostKeyPath        string
	AuthorizedKeysPath string
	Listener           net.Listener
	Engine             Engine
	Suggester          Suggester
	Prompt             string
	logger             pslog.Logger
	authorized         []ssh.PublicKey
}

// ListenAndServe starts the SSH server and shuts down on context cancellation.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.Prompt == "" {
		s.Prompt = "$ "
	}
	if s.logger == nil {
		s.logger = logx.WithBridge(ctx, "ssh")
	}
	if s.Engine == nil {
		return errors.New("engine is required for SSH")
	}

	signer, err := EnsureHostKey(s.HostKeyPath)
	if err != nil {
		return err
	}

	server := &gliderssh.Server{
		Addr:    s.Addr,
		Handler: s.handleSession,
	}
	if strings.TrimSpace(s.AuthorizedKeysPath) != "" {
		keys, err := LoadAuthorizedKeys(s.AuthorizedKeysPath)
		if err != nil {
			return err
		}
		s.authorized = keys
		server.PublicKeyHandler = s.handlePublicKey
	} else {
		s.logger.Warn("ssh authentication disabled", "addr", s.Addr)
	}
	server.AddHostKey(signer)
	s.logger.Debug("ssh host key", "fingerprint", ssh.FingerprintSHA256(signer.PublicKey()))

	errCh := make(chan error, 1)
	go func() {
		if s.Listener != nil {
			errCh <- server.Serve(s.Listener)
			return
		}
		errCh <- server.ListenAndServe()
	}()
	s.logger.Info("ssh listening", "addr", s.listenAddr())

	select {
	case <-ctx.Done():
		_ = server.Close()
		return nil
	case err := <-errCh:
		if errors.Is(err, gliderssh.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) listenAddr() string {
	if s.Listener != nil {
		return s.Listener.Addr().String()
	}
	return s.Addr
}

func (s *Server) handlePublicKey(ctx gliderssh.Context, key gliderssh.PublicKey) bool {
	log := s.logger.With("user", ctx.User(), "remote", remoteAddr(ctx), "fingerprint", ssh.FingerprintSHA256(key))
	for _, allowed := range s.authorized {
		if gliderssh.KeysEqual(allowed, key) {
			log.Info("ssh pubkey accepted")
			return true
		}
	}
	log.Warn("ssh pubkey rejected", "reason", "no matching key")
	return false
}

func remoteAddr(ctx gliderssh.Context) string {
	if ctx == nil || ctx.RemoteAddr() == nil {
		return ""
	}
	return ctx.RemoteAddr().String()
}

func (s *Server) handleSession(sess gliderssh.Session) {
	log := s.logger.With("user", sess.User(), "remote", sess.RemoteAddr().String())
	if id := sess.Context().SessionID(); id != "" {
		log = log.With("ssh_session", id)
	}
	ctx := logx.ContextWithBridge(pslog.ContextWithLogger(sess.Context(), log), "ssh")

	dir := sessionDir(sess.Environ())
	pty, winCh, isPty := sess.Pty()
	if raw := strings.TrimSpace(sess.RawCommand()); raw != "" {
		log.Info("ssh exec", "pty", isPty)
		b := &bridge{sess: sess, engine: s.Engine, pty: isPty}
		if isPty {
			b.cols, b.rows = pty.Window.Width, pty.Window.Height
		}
		code := b.run(ctx, raw, dir, winCh)
		_ = sess.Exit(code)
		log.Info("ssh exec done", "exit_code", code)
		return
	}
	if !isPty {
		log.Info("ssh session rejected", "reason", "command or pty required")
		_, _ = io.WriteString(sess.Stderr(), "usage: ssh host <command line>, or request a pty for the console\n")
		_ = sess.Exit(2)
		return
	}
	log.Info("ssh console opened", "term", pty.Term)
	c := newConsole(sess, s.Engine, s.Suggester, s.Prompt, dir)
	c.resize(pty.Window.Width, pty.Window.Height)
	c.run(ctx, winCh)
	_ = sess.Exit(0)
	log.Info("ssh console closed")
}

func sessionDir(environ []string) string {
	for _, kv := range environ {
		if value, ok := strings.CutPrefix(kv, "CELLX_DIR="); ok && value != "" {
			return value
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return ""
}
