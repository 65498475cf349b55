package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"pkt.systems/cellx/schema"
	"pkt.systems/pslog"
)

// ProcessSignal indicates which signal to send to the process group.
type ProcessSignal string

const (
	// ProcessSignalTERM requests a termination signal.
	ProcessSignalTERM ProcessSignal = "TERM"
	// ProcessSignalKILL requests an immediate kill signal.
	ProcessSignalKILL ProcessSignal = "KILL"
)

// ProcessSpec describes a process to start for a cell.
type ProcessSpec struct {
	// Path is the executable name or path. Names are resolved via PATH.
	Path       string
	Args       []string
	WorkingDir string
	Cols       int
	Rows       int
}

// ProcessResult describes how a process ended.
type ProcessResult struct {
	ExitCode int
	// Err is set when an output or input stream failed.
	Err error
}

// Executor starts processes whose output is streamed as OutputChunks.
type Executor struct {
	chunkBytes int
	// wrapStdin, when set, wraps the stdin pipe of every started process.
	wrapStdin func(io.WriteCloser) io.WriteCloser
}

// NewExecutor constructs an executor reading chunkBytes per read.
func NewExecutor(chunkBytes int) *Executor {
	if chunkBytes <= 0 {
		chunkBytes = schema.DefaultReadChunkBytes
	}
	return &Executor{chunkBytes: chunkBytes}
}

// Process is a running child in its own process group.
type Process struct {
	cmd    *exec.Cmd
	pgid   int
	stdin  io.WriteCloser
	log    pslog.Logger
	stdout *os.File
	stderr *os.File

	readers *errgroup.Group
	readErr error
	readMu  sync.Mutex

	input     *queue[[]byte]
	stopInput context.CancelFunc

	// sigMu orders signals against reaping; exited is set while the
	// leader is still a zombie, so its pid and pgid cannot be reused.
	sigMu  sync.Mutex
	exited bool

	done    chan struct{}
	waitErr error
}

// Start spawns the process. emit is called for every chunk read, from one
// goroutine per stream; order within a stream is preserved.
func (e *Executor) Start(ctx context.Context, spec ProcessSpec, emit func(schema.ServerMessage)) (*Process, error) {
	log := pslog.Ctx(ctx)
	if spec.Path == "" {
		return nil, NewCellError(ErrorSpawnFailure, "spawn", errors.New("empty command"))
	}
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.WorkingDir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	env := os.Environ()
	if spec.Cols > 0 && spec.Rows > 0 {
		env = append(filterEnv(filterEnv(env, "COLUMNS"), "LINES"),
			"COLUMNS="+strconv.Itoa(spec.Cols),
			"LINES="+strconv.Itoa(spec.Rows),
		)
	}
	cmd.Env = env

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, NewCellError(ErrorSpawnFailure, "stdin pipe", err)
	}
	if e.wrapStdin != nil {
		stdin = e.wrapStdin(stdin)
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		return nil, NewCellError(ErrorSpawnFailure, "stdout pipe", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		_ = stdoutR.Close()
		_ = stdoutW.Close()
		return nil, NewCellError(ErrorSpawnFailure, "stderr pipe", err)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		for _, f := range []*os.File{stdoutR, stdoutW, stderrR, stderrW} {
			_ = f.Close()
		}
		return nil, &CellError{Kind: ErrorSpawnFailure, Op: "spawn", Message: fmt.Sprintf("spawn failed: %v", err), Err: err}
	}
	// The child holds its own copies of the write ends.
	_ = stdoutW.Close()
	_ = stderrW.Close()

	pgid, err := unix.Getpgid(cmd.Process.Pid)
	if err != nil {
		pgid = cmd.Process.Pid
	}
	inputCtx, stopInput := context.WithCancel(context.Background())
	p := &Process{
		cmd:       cmd,
		pgid:      pgid,
		stdin:     stdin,
		log:       log,
		stdout:    stdoutR,
		stderr:    stderrR,
		readers:   &errgroup.Group{},
		input:     newQueue[[]byte](),
		stopInput: stopInput,
		done:      make(chan struct{}),
	}
	log.Debug("cell process started", "pid", cmd.Process.Pid, "pgid", pgid, "path", spec.Path)

	p.readers.Go(func() error { return p.readStream(stdoutR, schema.StreamStdout, e.chunkBytes, emit) })
	p.readers.Go(func() error { return p.readStream(stderrR, schema.StreamStderr, e.chunkBytes, emit) })
	go p.pumpInput(inputCtx)
	go func() {
		p.awaitExit()
		p.sigMu.Lock()
		p.exited = true
		p.sigMu.Unlock()
		p.waitErr = cmd.Wait()
		stopInput()
		close(p.done)
	}()
	return p, nil
}

// awaitExit blocks until the leader exits without reaping it.
func (p *Process) awaitExit() {
	var info unix.Siginfo
	for {
		err := unix.Waitid(unix.P_PID, p.cmd.Process.Pid, &info, unix.WEXITED|unix.WNOWAIT, nil)
		if err == nil {
			return
		}
		if !errors.Is(err, unix.EINTR) {
			p.log.Debug("cell process waitid failed", "err", err)
			return
		}
	}
}

func (p *Process) readStream(r *os.File, stream schema.StreamKind, size int, emit func(schema.ServerMessage)) error {
	buf := make([]byte, size)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			p.log.Trace("cell output chunk", "stream", stream, "bytes", n)
			emit(schema.OutputChunk(chunk, stream))
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) || errors.Is(err, fs.ErrClosed) {
			return nil
		}
		p.recordErr(NewCellError(ErrorStreamIO, "read "+string(stream), err))
		return err
	}
}

// Pid returns the process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Done is closed once the process has exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Write queues data for the process stdin without blocking. Data is
// written verbatim and in order; consecutive writes are not coalesced. An
// empty write closes stdin after previously queued data.
func (p *Process) Write(data []byte) {
	buf := make([]byte, len(data))
	copy(buf, data)
	if !p.input.push(buf) {
		p.log.Debug("cell input dropped", "reason", "stdin closed", "bytes", len(data))
	}
}

func (p *Process) pumpInput(ctx context.Context) {
	defer func() { _ = p.stdin.Close() }()
	for {
		data, err := p.input.pop(ctx)
		if err != nil {
			return
		}
		if len(data) == 0 {
			p.input.close()
			return
		}
		if _, err := p.stdin.Write(data); err != nil {
			p.input.close()
			if errors.Is(err, syscall.EPIPE) || errors.Is(err, fs.ErrClosed) {
				p.log.Debug("cell input dropped", "reason", "stdin closed", "bytes", len(data))
				return
			}
			p.recordErr(NewCellError(ErrorStreamIO, "write stdin", err))
			return
		}
		p.log.Trace("cell input written", "bytes", len(data))
	}
}

func (p *Process) recordErr(err error) {
	p.readMu.Lock()
	if p.readErr == nil {
		p.readErr = err
	}
	p.readMu.Unlock()
}

// Signal delivers sig to the process group and any descendants that left it.
func (p *Process) Signal(sig ProcessSignal) error {
	if p.cmd == nil || p.cmd.Process == nil {
		return errors.New("process not started")
	}
	p.sigMu.Lock()
	defer p.sigMu.Unlock()
	if p.exited {
		return os.ErrProcessDone
	}
	pid := p.cmd.Process.Pid
	var signal unix.Signal
	switch sig {
	case ProcessSignalTERM:
		signal = unix.SIGTERM
	case ProcessSignalKILL:
		signal = unix.SIGKILL
	default:
		return fmt.Errorf("unsupported signal: %s", sig)
	}
	killProcessTree(pid, signal)
	if p.pgid > 0 {
		if err := unix.Kill(-p.pgid, signal); err == nil {
			return nil
		}
	}
	return unix.Kill(pid, signal)
}

// Terminate sends SIGTERM, waits grace, then SIGKILL and waits killTimeout.
// It reports whether the process exited within the bound.
func (p *Process) Terminate(grace, killTimeout time.Duration) bool {
	select {
	case <-p.done:
		return true
	default:
	}
	if err := p.Signal(ProcessSignalTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.log.Debug("cell process term failed", "err", err)
	}
	timer := time.NewTimer(grace)
	select {
	case <-p.done:
		timer.Stop()
		return true
	case <-timer.C:
	}
	p.log.Info("cell process ignored term; killing", "grace_ms", grace.Milliseconds())
	if err := p.Signal(ProcessSignalKILL); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.log.Debug("cell process kill failed", "err", err)
	}
	timer.Reset(killTimeout)
	select {
	case <-p.done:
		timer.Stop()
		return true
	case <-timer.C:
		p.log.Warn("cell process kill timed out", "kill_timeout_ms", killTimeout.Milliseconds())
		return false
	}
}

// Finish waits for the output readers to reach EOF, bounded by drain. If
// descendants still hold the pipes after drain, the read ends are closed.
// It must be called after Done is closed.
func (p *Process) Finish(drain time.Duration) ProcessResult {
	readersDone := make(chan struct{})
	go func() {
		_ = p.readers.Wait()
		close(readersDone)
	}()
	timer := time.NewTimer(drain)
	select {
	case <-readersDone:
		timer.Stop()
	case <-timer.C:
		p.log.Debug("cell output drain timed out; closing pipes")
		_ = p.stdout.Close()
		_ = p.stderr.Close()
		<-readersDone
	}
	_ = p.stdout.Close()
	_ = p.stderr.Close()

	res := ProcessResult{ExitCode: exitCode(p.waitErr)}
	p.readMu.Lock()
	res.Err = p.readErr
	p.readMu.Unlock()
	return res
}

// Abandon closes the read ends so reader goroutines exit even when the
// process could not be reaped.
func (p *Process) Abandon() {
	p.stopInput()
	_ = p.stdout.Close()
	_ = p.stderr.Close()
	_ = p.stdin.Close()
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return 128 + int(status.Signal())
		}
		return exitErr.ExitCode()
	}
	return 1
}

func filterEnv(env []string, key string) []string {
	if len(env) == 0 {
		return env
	}
	prefix := key + "="
	out := make([]string, 0, len(env))
	for _, entry := range env {
		if len(entry) >= len(prefix) && entry[:len(prefix)] == prefix {
			continue
		}
		out = append(out, entry)
	}
	return out
}
