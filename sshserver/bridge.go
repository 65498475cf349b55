package sshserver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	gliderssh "github.com/gliderlabs/ssh"

	"pkt.systems/cellx/core"
	"pkt.systems/cellx/internal/logx"
	"pkt.systems/cellx/schema"
)

// Exit statuses reported for cells that did not complete normally.
const (
	exitFailed    = 1
	exitUsage     = 2
	exitNotFound  = 127
	exitCancelled = 130
)

// cellOutput receives the rendered output of one cell.
type cellOutput struct {
	stdout io.Writer
	stderr io.Writer
	// crlf translates "\n" for clients whose terminal is in raw mode.
	crlf bool
}

func (o cellOutput) write(w io.Writer, data []byte) {
	if o.crlf {
		data = bytes.ReplaceAll(data, []byte("\n"), []byte("\r\n"))
	}
	_, _ = w.Write(data)
}

// runningCell is a cell whose messages are being rendered in the background.
type runningCell struct {
	id      schema.CellID
	inbound func(schema.FrontendMessage) error
	done    chan struct{}

	mu       sync.Mutex
	code     int
	dir      string
	lastByte byte
}

func (r *runningCell) result() (int, string, byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.code, r.dir, r.lastByte
}

func (r *runningCell) send(ctx context.Context, msg schema.FrontendMessage) {
	if err := r.inbound(msg); err != nil {
		logx.WithCell(ctx, r.id).Trace("ssh send dropped", "type", msg.Type, "err", err)
	}
}

// startCell runs props and renders the outbound stream to out. Cancelling ctx
// interrupts the cell; rendering continues until the terminal message.
func startCell(ctx context.Context, engine Engine, props schema.CellProps, out cellOutput) (*runningCell, error) {
	cell, err := engine.Run(ctx, props)
	if err != nil {
		return nil, err
	}
	log := logx.WithCell(ctx, cell.ID())
	rc := &runningCell{id: cell.ID(), inbound: cell.Send, done: make(chan struct{})}
	go func() {
		select {
		case <-ctx.Done():
			log.Info("ssh client gone; interrupting cell")
			rc.send(ctx, schema.Interrupt())
		case <-cell.Done():
		}
	}()
	go func() {
		defer close(rc.done)
		err := cell.Deliver(context.WithoutCancel(ctx), func(msg schema.ServerMessage) {
			rc.render(msg, out)
		})
		if err != nil {
			log.Warn("ssh delivery failed", "err", err)
			rc.mu.Lock()
			rc.code = exitFailed
			rc.mu.Unlock()
		}
	}()
	return rc, nil
}

func (r *runningCell) render(msg schema.ServerMessage, out cellOutput) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch msg.Type {
	case schema.MessageOutput:
		if len(msg.Data) == 0 {
			return
		}
		w := out.stdout
		if msg.Stream == schema.StreamStderr {
			w = out.stderr
		}
		out.write(w, msg.Data)
		r.lastByte = msg.Data[len(msg.Data)-1]
	case schema.MessageStatus:
		if msg.Dir != "" {
			r.dir = msg.Dir
		}
		if msg.State == schema.CellCancelled {
			r.code = exitCancelled
		}
	case schema.MessageCompleted:
		r.code = msg.ExitCode
	case schema.MessageError:
		r.code = exitFailed
		if msg.Kind == string(core.ErrorNotFoundCommand) {
			r.code = exitNotFound
		}
		out.write(out.stderr, []byte(fmt.Sprintf("cellx: %s\n", msg.Message)))
		r.lastByte = '\n'
	}
}

// bridge runs a single `ssh host <command>` cell.
type bridge struct {
	sess       gliderssh.Session
	engine     Engine
	pty        bool
	cols, rows int
}

func (b *bridge) run(ctx context.Context, raw, dir string, winCh <-chan gliderssh.Window) int {
	out := cellOutput{stdout: b.sess, stderr: b.sess.Stderr(), crlf: b.pty}
	rc, err := startCell(ctx, b.engine, schema.CellProps{Input: raw, CurrentDir: dir}, out)
	if err != nil {
		out.write(out.stderr, []byte(fmt.Sprintf("cellx: %v\n", err)))
		return exitUsage
	}
	if b.cols > 0 && b.rows > 0 {
		rc.send(ctx, schema.Resize(b.cols, b.rows))
	}
	go pumpStdin(ctx, b.sess, b.pty, rc)
	for {
		select {
		case win, ok := <-winCh:
			if !ok {
				winCh = nil
				continue
			}
			rc.send(ctx, schema.Resize(win.Width, win.Height))
		case <-rc.done:
			code, _, _ := rc.result()
			return code
		}
	}
}

// pumpStdin forwards session input to the cell. In pty mode the client
// terminal is raw, so Ctrl-C interrupts, Ctrl-D ends input and CR becomes LF.
func pumpStdin(ctx context.Context, r io.Reader, pty bool, rc *runningCell) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if pty {
				forwardTerminalBytes(ctx, buf[:n], rc)
			} else {
				rc.send(ctx, schema.Input(append([]byte(nil), buf[:n]...)))
			}
		}
		if err != nil {
			if !pty {
				rc.send(ctx, schema.Input(nil))
			}
			return
		}
		select {
		case <-rc.done:
			return
		default:
		}
	}
}

func forwardTerminalBytes(ctx context.Context, data []byte, rc *runningCell) {
	pending := make([]byte, 0, len(data))
	flush := func() {
		if len(pending) > 0 {
			rc.send(ctx, schema.Input(pending))
			pending = make([]byte, 0, len(data))
		}
	}
	for _, b := range data {
		switch b {
		case 0x03:
			flush()
			rc.send(ctx, schema.Interrupt())
		case 0x04:
			flush()
			rc.send(ctx, schema.Input(nil))
		case '\r':
			pending = append(pending, '\n')
		default:
			pending = append(pending, b)
		}
	}
	flush()
}
