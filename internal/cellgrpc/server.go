package cellgrpc

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"pkt.systems/cellx/core"
	"pkt.systems/cellx/internal/logx"
	"pkt.systems/cellx/schema"
	"pkt.systems/pslog"
)

// Engine is the part of the cell engine the bridge drives.
type Engine interface {
	Run(ctx context.Context, props schema.CellProps) (*core.Cell, error)
	List() []schema.CellSnapshot
}

// Suggester ranks completion candidates.
type Suggester interface {
	Suggest(ctx context.Context, req schema.SuggestRequest) ([]schema.Suggestion, error)
}

// Server implements the cells gRPC service.
type Server struct {
	cfg       Config
	engine    Engine
	suggester Suggester
	logger    pslog.Logger
}

// NewServer constructs a gRPC bridge. suggester may be nil.
func NewServer(cfg Config, engine Engine, suggester Suggester) *Server {
	return &Server{cfg: cfg, engine: engine, suggester: suggester}
}

// Register adds the service to an existing grpc.Server.
func (s *Server) Register(grpcServer *grpc.Server) {
	grpcServer.RegisterService(&serviceDesc, s)
}

// ListenAndServe starts the gRPC server over a Unix domain socket.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.cfg.SocketPath == "" {
		return errors.New("grpc socket path is required")
	}
	if err := os.MkdirAll(filepath.Dir(s.cfg.SocketPath), 0o755); err != nil {
		return err
	}
	_ = os.Remove(s.cfg.SocketPath)

	listener, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return err
	}
	defer os.Remove(s.cfg.SocketPath)
	return s.Serve(ctx, listener)
}

// Serve runs the gRPC server on listener until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	if s.logger == nil {
		s.logger = logx.WithBridge(ctx, "grpc")
	}
	grpcServer := grpc.NewServer()
	s.Register(grpcServer)
	s.logger.Info("grpc listening", "addr", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- grpcServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(5 * time.Second):
			grpcServer.Stop()
		}
		return nil
	case err := <-errCh:
		return err
	}
}

// Run serves one cell. The first client message is the run request and
// later ones are frontend messages; the server streams every outbound
// message and ends the stream after the terminal one.
func (s *Server) Run(stream grpc.ServerStream) error {
	ctx := stream.Context()
	log := s.log(ctx)
	first := new(structpb.Struct)
	if err := stream.RecvMsg(first); err != nil {
		if errors.Is(err, io.EOF) {
			return status.Error(codes.InvalidArgument, "missing run request")
		}
		return err
	}
	props, err := runRequestFromStruct(first)
	if err != nil {
		return statusFromError(err)
	}
	cell, err := s.engine.Run(pslog.ContextWithLogger(ctx, log), props)
	if err != nil {
		log.Warn("grpc cell rejected", "err", err)
		return statusFromError(err)
	}
	log = log.With("cell", cell.ID())
	log.Info("grpc cell start")

	go s.pumpInbound(stream, cell, log)

	sent := 0
	sendFailed := false
	err = cell.Deliver(context.WithoutCancel(ctx), func(msg schema.ServerMessage) {
		if sendFailed {
			return
		}
		out, err := serverToStruct(msg)
		if err == nil {
			err = stream.SendMsg(out)
		}
		if err != nil {
			sendFailed = true
			log.Warn("grpc send failed; draining cell", "seq", msg.Seq, "err", err)
			_ = cell.Send(schema.Interrupt())
			return
		}
		sent++
		log.Trace("grpc cell message", "type", msg.Type, "seq", msg.Seq)
	})
	if err != nil {
		return statusFromError(err)
	}
	log.Info("grpc cell finished", "messages", sent)
	return nil
}

func (s *Server) pumpInbound(stream grpc.ServerStream, cell *core.Cell, log pslog.Logger) {
	for {
		in := new(structpb.Struct)
		if err := stream.RecvMsg(in); err != nil {
			if errors.Is(err, io.EOF) {
				log.Debug("grpc client closed send")
				return
			}
			select {
			case <-cell.Done():
			default:
				log.Info("grpc client gone; interrupting cell", "err", err)
				_ = cell.Send(schema.Interrupt())
			}
			return
		}
		msg, err := frontendFromStruct(in)
		if err != nil {
			log.Warn("grpc frontend message rejected", "err", err)
			continue
		}
		if err := cell.Send(msg); err != nil {
			log.Trace("grpc frontend message dropped", "type", msg.Type, "err", err)
		}
	}
}

// List returns the running cells.
func (s *Server) List(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	snaps := s.engine.List()
	s.log(ctx).Debug("grpc list", "cells", len(snaps))
	out, err := snapshotsToStruct(snaps)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// Suggest returns ranked completions.
func (s *Server) Suggest(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.suggester == nil {
		return nil, status.Error(codes.Unimplemented, "suggestions disabled")
	}
	items, err := s.suggester.Suggest(ctx, suggestRequestFromStruct(in))
	if err != nil {
		return nil, statusFromError(err)
	}
	out, err := suggestionsToStruct(items)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func (s *Server) log(ctx context.Context) pslog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return pslog.Ctx(ctx)
}

func statusFromError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, schema.ErrInvalidRequest), errors.Is(err, schema.ErrEmptyCommand), errors.Is(err, schema.ErrInvalidCellID):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, schema.ErrCellNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, schema.ErrEngineClosed):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, core.ErrDeliveryClaimed):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
