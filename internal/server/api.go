package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "spendgate.v1.ApprovalService"

// Full method names, as used by clients with grpc.ClientConn.Invoke.
const (
	MethodSubmit  = "/" + ServiceName + "/Submit"
	MethodDecide  = "/" + ServiceName + "/Decide"
	MethodGet     = "/" + ServiceName + "/Get"
	MethodList    = "/" + ServiceName + "/List"
	MethodPending = "/" + ServiceName + "/Pending"
	MethodStats   = "/" + ServiceName + "/Stats"
)

// ApprovalServer is the server API for ApprovalService. Every message is a
// google.protobuf.Struct holding the JSON form of the wire types.
type ApprovalServer interface {
	Submit(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Decide(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Get(context.Context, *structpb.Struct) (*structpb.Struct, error)
	List(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Pending(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Stats(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterApprovalServer registers srv on s.
func RegisterApprovalServer(s grpc.ServiceRegistrar, srv ApprovalServer) {
	s.RegisterService(&ApprovalServiceDesc, srv)
}

type unaryMethod func(ApprovalServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryMethod) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ApprovalServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ApprovalServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ApprovalServiceDesc describes ApprovalService for grpc.Server.
var ApprovalServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ApprovalServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Submit", Handler: unaryHandler(MethodSubmit, ApprovalServer.Submit)},
		{MethodName: "Decide", Handler: unaryHandler(MethodDecide, ApprovalServer.Decide)},
		{MethodName: "Get", Handler: unaryHandler(MethodGet, ApprovalServer.Get)},
		{MethodName: "List", Handler: unaryHandler(MethodList, ApprovalServer.List)},
		{MethodName: "Pending", Handler: unaryHandler(MethodPending, ApprovalServer.Pending)},
		{MethodName: "Stats", Handler: unaryHandler(MethodStats, ApprovalServer.Stats)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "spendgate/v1/approval.proto",
}
