package cellgrpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"pkt.systems/cellx/schema"
	"pkt.systems/pslog"
)

// Client talks to a cells gRPC server.
type Client struct {
	conn *grpc.ClientConn
}

// Dial creates a new client over a Unix domain socket.
func Dial(ctx context.Context, socketPath string) (*Client, error) {
	if socketPath == "" {
		return nil, errors.New("grpc socket path is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dialer := func(ctx context.Context, addr string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "unix", addr)
	}
	return DialTarget("passthrough:///"+socketPath, grpc.WithContextDialer(dialer))
}

// DialTarget creates a client for an arbitrary target, for example a bufconn.
func DialTarget(target string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Close closes the underlying gRPC connection.
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// RunStream is a client-side cell.
type RunStream struct {
	stream grpc.ClientStream
	log    pslog.Logger
}

// Run starts a cell on the server. id may be empty.
func (c *Client) Run(ctx context.Context, id schema.CellID, req schema.RunCellRequest) (*RunStream, error) {
	log := pslog.Ctx(ctx)
	stream, err := c.conn.NewStream(ctx, &serviceDesc.Streams[0], RunMethod)
	if err != nil {
		logGRPCError(log, "grpc run open failed", err)
		return nil, wrapClientError("run", err)
	}
	first, err := runRequestToStruct(id, req)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(first); err != nil {
		logGRPCError(log, "grpc run request failed", err)
		return nil, wrapClientError("run", err)
	}
	log.Debug("grpc run started", "input_len", len(req.Input))
	return &RunStream{stream: stream, log: log}, nil
}

// Send forwards a frontend message.
func (r *RunStream) Send(msg schema.FrontendMessage) error {
	out, err := frontendToStruct(msg)
	if err != nil {
		return err
	}
	if err := r.stream.SendMsg(out); err != nil {
		return wrapClientError("send", err)
	}
	return nil
}

// CloseSend signals that no more frontend messages follow.
func (r *RunStream) CloseSend() error {
	return r.stream.CloseSend()
}

// Recv returns the next outbound message, or io.EOF after the terminal one.
func (r *RunStream) Recv() (schema.ServerMessage, error) {
	in := new(structpb.Struct)
	if err := r.stream.RecvMsg(in); err != nil {
		if errors.Is(err, io.EOF) {
			return schema.ServerMessage{}, io.EOF
		}
		logGRPCError(r.log, "grpc run recv failed", err)
		return schema.ServerMessage{}, wrapClientError("recv", err)
	}
	return serverFromStruct(in)
}

// List returns the cells running on the server.
func (c *Client) List(ctx context.Context) ([]schema.CellSnapshot, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, ListMethod, &structpb.Struct{}, out); err != nil {
		return nil, wrapClientError("list", err)
	}
	return snapshotsFromStruct(out), nil
}

// Suggest asks the server for completions.
func (c *Client) Suggest(ctx context.Context, req schema.SuggestRequest) ([]schema.Suggestion, error) {
	in, err := suggestRequestToStruct(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, SuggestMethod, in, out); err != nil {
		return nil, wrapClientError("suggest", err)
	}
	return suggestionsFromStruct(out), nil
}

func logGRPCError(log pslog.Logger, msg string, err error) {
	if log == nil || err == nil {
		return
	}
	if st, ok := status.FromError(err); ok {
		log.Warn(msg, "err", err, "code", st.Code().String(), "message", st.Message())
		return
	}
	log.Warn(msg, "err", err)
}

func wrapClientError(op string, err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%s: %w", op, err)
	}
	switch st.Code() {
	case codes.InvalidArgument:
		return fmt.Errorf("%s: %w: %s", op, schema.ErrInvalidRequest, st.Message())
	case codes.NotFound:
		return fmt.Errorf("%s: %w: %s", op, schema.ErrCellNotFound, st.Message())
	case codes.Canceled:
		return fmt.Errorf("%s: %w", op, context.Canceled)
	case codes.DeadlineExceeded:
		return fmt.Errorf("%s: %w", op, context.DeadlineExceeded)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
