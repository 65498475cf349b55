package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"pkt.systems/cellx/core"
	"pkt.systems/cellx/internal/appconfig"
	"pkt.systems/cellx/internal/cellgrpc"
	"pkt.systems/cellx/schema"
	"pkt.systems/pslog"
)

const (
	exitFailed    = 1
	exitNotFound  = 127
	exitCancelled = 130
)

// cellTarget is a started cell, local or remote.
type cellTarget interface {
	Send(msg schema.FrontendMessage) error
	Stream(ctx context.Context, fn func(schema.ServerMessage)) error
}

type localCell struct {
	cell *core.Cell
}

func (c localCell) Send(msg schema.FrontendMessage) error {
	return c.cell.Send(msg)
}

func (c localCell) Stream(ctx context.Context, fn func(schema.ServerMessage)) error {
	return c.cell.Deliver(ctx, fn)
}

type remoteCell struct {
	stream *cellgrpc.RunStream
	mu     sync.Mutex
}

func (c *remoteCell) Send(msg schema.FrontendMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream.Send(msg)
}

func (c *remoteCell) Stream(_ context.Context, fn func(schema.ServerMessage)) error {
	for {
		msg, err := c.stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		fn(msg)
	}
}

func newRunCmd() *cobra.Command {
	var cfgPath string
	var socket string
	var dir string
	var id string
	var noHistory bool
	cmd := &cobra.Command{
		Use:   "run [flags] -- <command line>",
		Short: "Run one cell and stream its output",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			req := schema.RunCellRequest{Input: strings.Join(args, " "), CurrentDir: dir}
			if req.CurrentDir == "" {
				if wd, err := os.Getwd(); err == nil {
					req.CurrentDir = wd
				}
			}

			var target cellTarget
			if socket != "" {
				client, err := cellgrpc.Dial(ctx, socket)
				if err != nil {
					return err
				}
				defer func() { _ = client.Close() }()
				stream, err := client.Run(ctx, schema.CellID(id), req)
				if err != nil {
					return err
				}
				target = &remoteCell{stream: stream}
			} else {
				cfg, err := appconfig.Load(cfgPath)
				if err != nil {
					return err
				}
				local, err := openLocalEngine(ctx, cfg, !noHistory)
				if err != nil {
					return err
				}
				defer func() { _ = local.Close(context.WithoutCancel(ctx)) }()
				cell, err := local.engine.Run(ctx, schema.CellProps{
					ID:         schema.CellID(id),
					Input:      req.Input,
					CurrentDir: req.CurrentDir,
				})
				if err != nil {
					return err
				}
				target = localCell{cell: cell}
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt)
			defer signal.Stop(sigCh)
			code := runCell(ctx, target, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr(), sigCh)
			if code != 0 {
				return &exitError{code: code}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&socket, "socket", "", "run on a cellx server over its gRPC socket")
	cmd.Flags().StringVarP(&dir, "dir", "C", "", "working directory (default: current directory)")
	cmd.Flags().StringVar(&id, "id", "", "cell id (default: random)")
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "do not record the cell")
	return cmd
}

// runCell forwards stdin lines and interrupts to target and renders its
// outbound messages until the terminal one. It returns the process exit code.
func runCell(ctx context.Context, target cellTarget, stdin io.Reader, stdout, stderr io.Writer, interrupts <-chan os.Signal) int {
	log := pslog.Ctx(ctx)
	done := make(chan struct{})
	if stdin != nil {
		go forwardLines(stdin, target, done)
	}
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				_ = target.Send(schema.Interrupt())
				return
			case <-interrupts:
				log.Debug("run interrupt requested")
				_ = target.Send(schema.Interrupt())
			}
		}
	}()

	code := 0
	err := target.Stream(context.WithoutCancel(ctx), func(msg schema.ServerMessage) {
		code = renderMessage(msg, stdout, stderr, code)
	})
	close(done)
	if err != nil {
		fmt.Fprintf(stderr, "cellx: %v\n", err)
		return exitFailed
	}
	return code
}

func forwardLines(stdin io.Reader, target cellTarget, done <-chan struct{}) {
	reader := bufio.NewReader(stdin)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			select {
			case <-done:
				return
			default:
			}
			if sendErr := target.Send(schema.Input(line)); sendErr != nil {
				return
			}
		}
		if err != nil {
			_ = target.Send(schema.Input(nil))
			return
		}
	}
}

func renderMessage(msg schema.ServerMessage, stdout, stderr io.Writer, code int) int {
	switch msg.Type {
	case schema.MessageOutput:
		w := stdout
		if msg.Stream == schema.StreamStderr {
			w = stderr
		}
		_, _ = w.Write(msg.Data)
	case schema.MessageStatus:
		if msg.Dir != "" {
			fmt.Fprintln(stdout, msg.Dir)
		}
		if msg.State == schema.CellCancelled {
			return exitCancelled
		}
	case schema.MessageCompleted:
		return msg.ExitCode
	case schema.MessageError:
		fmt.Fprintf(stderr, "cellx: %s\n", msg.Message)
		if msg.Kind == string(core.ErrorNotFoundCommand) {
			return exitNotFound
		}
		return exitFailed
	}
	return code
}
