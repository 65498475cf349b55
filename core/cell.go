package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"pkt.systems/cellx/internal/logx"
	"pkt.systems/cellx/schema"
	"pkt.systems/pslog"
)

// ErrDeliveryClaimed is returned when a second delivery target is attached to a cell.
var ErrDeliveryClaimed = errors.New("cell already has a delivery target")

// Cell is one command invocation. Its worker goroutine owns all execution
// state and talks to the outside only through its Communication.
type Cell struct {
	props    schema.CellProps
	comm     *Communication
	cfg      schema.EngineConfig
	index    ExecutableIndex
	exec     *Executor
	observer Observer
	log      pslog.Logger

	emitMu sync.Mutex

	mu       sync.Mutex
	state    schema.CellState
	kind     Kind
	exitCode int

	// Worker-owned.
	cols, rows       int
	pending          [][]byte
	interruptPending bool

	delivering atomic.Bool
	done       chan struct{}
}

type outcome struct {
	state    schema.CellState
	exitCode int
	err      error
}

func completed(code int) outcome { return outcome{state: schema.CellCompleted, exitCode: code} }
func cancelled() outcome         { return outcome{state: schema.CellCancelled} }
func failed(err error) outcome   { return outcome{state: schema.CellFailed, err: err} }

// ID returns the cell id.
func (c *Cell) ID() schema.CellID {
	return c.props.ID
}

// Props returns a copy of the cell props.
func (c *Cell) Props() schema.CellProps {
	return c.props.Clone()
}

// Snapshot returns the observable state of the cell.
func (c *Cell) Snapshot() schema.CellSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := schema.CellSnapshot{
		Props:    c.props.Clone(),
		State:    c.state,
		ExitCode: c.exitCode,
	}
	if c.kind != nil {
		snap.Kind = c.kind.String()
	}
	return snap
}

// Done is closed once the worker has exited.
func (c *Cell) Done() <-chan struct{} {
	return c.done
}

// Send enqueues a frontend message for the cell.
func (c *Cell) Send(msg schema.FrontendMessage) error {
	return c.comm.Send(msg)
}

// Sender returns an inbound producer that bridges may copy.
func (c *Cell) Sender() InboundSender {
	return c.comm.Sender()
}

// Deliver calls fn for every outbound message in order, exactly once, and
// returns after the terminal message. Only one delivery target may be attached.
func (c *Cell) Deliver(ctx context.Context, fn func(schema.ServerMessage)) error {
	if !c.delivering.CompareAndSwap(false, true) {
		return ErrDeliveryClaimed
	}
	return c.deliver(ctx, fn)
}

// OnMessage attaches fn as the asynchronous delivery target.
func (c *Cell) OnMessage(fn func(schema.ServerMessage)) error {
	if !c.delivering.CompareAndSwap(false, true) {
		return ErrDeliveryClaimed
	}
	go func() {
		_ = c.deliver(context.Background(), fn)
	}()
	return nil
}

func (c *Cell) deliver(ctx context.Context, fn func(schema.ServerMessage)) error {
	for {
		msg, err := c.comm.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		fn(msg)
		if msg.Terminal() {
			return nil
		}
	}
}

func (c *Cell) setState(state schema.CellState) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

func (c *Cell) currentState() schema.CellState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Cell) emit(msg schema.ServerMessage) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	stamped, ok := c.comm.Emit(msg)
	if !ok {
		c.log.Trace("cell message dropped after terminal", "type", msg.Type)
		return
	}
	c.observer.CellMessage(stamped)
}

func (c *Cell) run(ctx context.Context) {
	defer close(c.done)
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("cell worker panic", "panic", r, "stack", string(debug.Stack()))
			c.finish(failed(NewCellError(ErrorInternal, "worker", fmt.Errorf("panic: %v", r))), started)
		}
	}()

	c.setState(schema.CellClassifying)
	c.emit(schema.StatusChanged(schema.CellClassifying))
	cmd, early := c.classify(ctx)
	if early != nil {
		c.finish(*early, started)
		return
	}
	c.mu.Lock()
	c.kind = cmd.Kind
	c.mu.Unlock()
	c.log = logx.WithCommand(c.log, cmd.Kind.String(), c.props.Token())
	c.log.Debug("cell classified", "args", len(cmd.Args), "classify_ms", time.Since(started).Milliseconds())

	c.setState(schema.CellRunning)
	c.emit(schema.StatusChanged(schema.CellRunning))
	if c.interruptPending || ctx.Err() != nil {
		c.log.Debug("cell interrupted during classification")
		c.finish(cancelled(), started)
		return
	}
	c.finish(c.dispatch(ctx, cmd), started)
}

func (c *Cell) classify(ctx context.Context) (Command, *outcome) {
	resCh := make(chan Command, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.log.Error("cell classify panic", "panic", r)
				resCh <- Command{Kind: NotFoundKind{}, Args: c.props.Trailing()}
			}
		}()
		resCh <- ClassifyProps(c.props, c.index)
	}()
	timer := time.NewTimer(c.cfg.ClassifyTimeout)
	defer timer.Stop()
	inbound := c.comm.inboundReady()
	done := ctx.Done()
	for {
		select {
		case cmd := <-resCh:
			return cmd, nil
		case <-timer.C:
			c.log.Warn("cell classify timed out", "timeout_ms", c.cfg.ClassifyTimeout.Milliseconds())
			out := failed(&CellError{Kind: ErrorTimeout, Op: "classify", Message: fmt.Sprintf("classification timed out after %s", c.cfg.ClassifyTimeout)})
			return Command{}, &out
		case <-inbound:
			if c.drainInbound(nil) {
				// Classifying is not cancellable; the interrupt applies on
				// entering Running.
				c.interruptPending = true
				inbound = nil
			}
		case <-done:
			done = nil
		}
	}
}

func (c *Cell) dispatch(ctx context.Context, cmd Command) outcome {
	switch kind := cmd.Kind.(type) {
	case NotFoundKind:
		token := c.props.Token()
		return failed(&CellError{Kind: ErrorNotFoundCommand, Op: "classify", Message: fmt.Sprintf("command not found: %s", token)})
	case ViewKind:
		return c.runView(cmd.Args)
	case WriteKind:
		return c.runWrite(ctx, cmd.Args)
	case ShortcutsKind:
		return c.runShortcuts()
	case PathKind:
		return c.runPath(ctx, kind.Path, cmd.Args)
	case ExternalKind:
		path := kind.Name
		if locator, ok := c.index.(ExecutableLocator); ok {
			if resolved, found := locator.Lookup(kind.Name); found {
				path = resolved
			}
		}
		return c.runProcess(ctx, ProcessSpec{Path: path, Args: cmd.Args})
	default:
		return failed(NewCellError(ErrorInternal, "dispatch", fmt.Errorf("unknown kind %T", kind)))
	}
}

func (c *Cell) runPath(ctx context.Context, token string, args []string) outcome {
	target := ResolvePath(token, c.props.CurrentDir)
	info, err := os.Stat(target)
	if err != nil {
		return failed(&CellError{Kind: ErrorSpawnFailure, Op: "spawn", Message: fmt.Sprintf("spawn failed: %v", err), Err: err})
	}
	if info.IsDir() {
		msg := schema.StatusChanged(schema.CellRunning)
		msg.Dir = target
		c.emit(msg)
		c.log.Debug("cell changed directory", "dir", target)
		return completed(0)
	}
	if !isExecutableFile(target) {
		return failed(&CellError{Kind: ErrorSpawnFailure, Op: "spawn", Message: fmt.Sprintf("spawn failed: %s is not executable", token)})
	}
	return c.runProcess(ctx, ProcessSpec{Path: target, Args: args})
}

func (c *Cell) runProcess(ctx context.Context, spec ProcessSpec) outcome {
	if c.drainInbound(nil) {
		return cancelled()
	}
	spec.WorkingDir = c.props.CurrentDir
	spec.Cols, spec.Rows = c.cols, c.rows
	procCtx := pslog.ContextWithLogger(ctx, c.log)
	proc, err := c.exec.Start(procCtx, spec, c.emit)
	if err != nil {
		return failed(err)
	}
	for _, data := range c.pending {
		proc.Write(data)
	}
	c.pending = nil

	for {
		select {
		case <-proc.Done():
			res := proc.Finish(c.cfg.KillTimeout)
			if res.Err != nil {
				return failed(res.Err)
			}
			return completed(res.ExitCode)
		case <-c.comm.inboundReady():
			if c.drainInbound(proc) {
				return c.cancel(proc)
			}
		case <-ctx.Done():
			return c.cancel(proc)
		}
	}
}

func (c *Cell) cancel(proc *Process) outcome {
	c.log.Info("cell interrupt", "pid", proc.Pid())
	if proc.Terminate(c.cfg.GracePeriod, c.cfg.KillTimeout) {
		proc.Finish(c.cfg.KillTimeout)
	} else {
		proc.Abandon()
	}
	return cancelled()
}

// drainInbound handles queued frontend messages and reports whether an
// Interrupt was seen. Input is forwarded to proc, or held until a process
// exists. Messages after an Interrupt are discarded.
func (c *Cell) drainInbound(proc *Process) bool {
	for {
		msg, ok := c.comm.nextInbound()
		if !ok {
			return false
		}
		switch msg.Type {
		case schema.FrontendInput:
			if proc != nil {
				proc.Write(msg.Data)
			} else {
				c.pending = append(c.pending, append([]byte(nil), msg.Data...))
			}
		case schema.FrontendInterrupt:
			return true
		case schema.FrontendResize:
			c.cols, c.rows = msg.Cols, msg.Rows
			c.log.Debug("cell resized", "cols", msg.Cols, "rows", msg.Rows)
		default:
			c.log.Debug("cell ignored frontend message", "type", msg.Type)
		}
	}
}

func (c *Cell) finish(out outcome, started time.Time) {
	if c.currentState().Terminal() {
		return
	}
	c.mu.Lock()
	c.state = out.state
	c.exitCode = out.exitCode
	c.mu.Unlock()
	c.comm.CloseInbound()

	fields := []any{"state", out.state, "exit_code", out.exitCode, "duration_ms", time.Since(started).Milliseconds()}
	switch out.state {
	case schema.CellCompleted:
		c.emit(schema.Completed(out.exitCode))
		c.log.Info("cell finished", fields...)
	case schema.CellCancelled:
		c.emit(schema.StatusChanged(schema.CellCancelled))
		c.log.Info("cell finished", fields...)
	default:
		c.emit(schema.ErrorMessage(string(ErrorKindOf(out.err)), errorDescription(out.err)))
		c.log.Warn("cell finished", append(fields, "err", out.err)...)
	}
	c.observer.CellFinished(c.Snapshot())
}

func errorDescription(err error) string {
	if err == nil {
		return "cell failed"
	}
	return err.Error()
}
