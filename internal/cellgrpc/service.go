package cellgrpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "cellx.v1.Cells"

// Full method names.
const (
	RunMethod     = "/" + ServiceName + "/Run"
	ListMethod    = "/" + ServiceName + "/List"
	SuggestMethod = "/" + ServiceName + "/Suggest"
)

// cellsServer is the server API. Every message is a structpb.Struct so the
// bridge needs no generated code.
type cellsServer interface {
	Run(stream grpc.ServerStream) error
	List(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Suggest(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*cellsServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "List", Handler: unaryHandler(ListMethod, cellsServer.List)},
		{MethodName: "Suggest", Handler: unaryHandler(SuggestMethod, cellsServer.Suggest)},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Run",
			Handler:       runHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "cellx/v1/cells.proto",
}

func runHandler(srv any, stream grpc.ServerStream) error {
	return srv.(cellsServer).Run(stream)
}

type unaryMethod func(cellsServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, method unaryMethod) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return method(srv.(cellsServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return method(srv.(cellsServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}
