package transport

import (
	"context"

	"google.golang.org/grpc"

	"github.com/cuemby/raftsession/pkg/protocol"
)

const serviceName = "raftsession.Service"

// Backend is the server-side handler set a service instance registers
// against the transport. pkg/service.Host satisfies it directly and is
// registered as-is by cmd/sessiond's server wiring.
type Backend interface {
	OpenSession(ctx context.Context, req *protocol.OpenSessionRequest) (*protocol.OpenSessionResponse, error)
	CloseSession(ctx context.Context, req *protocol.CloseSessionRequest) (*protocol.CloseSessionResponse, error)
	KeepAlive(ctx context.Context, req *protocol.KeepAliveRequest) (*protocol.KeepAliveResponse, error)
	Command(ctx context.Context, req *protocol.CommandRequest) (*protocol.CommandResponse, error)
	Query(ctx context.Context, req *protocol.QueryRequest) (*protocol.QueryResponse, error)
	Metadata(ctx context.Context, req *protocol.MetadataRequest) (*protocol.MetadataResponse, error)
}

func unaryHandler[Req any, Resp any](call func(context.Context, *Req) (*Resp, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := new(Req)
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(ctx, req)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName}
		handler := func(ctx context.Context, r any) (any, error) { return call(ctx, r.(*Req)) }
		return interceptor(ctx, req, info, handler)
	}
}

// ServiceDesc is the hand-built description registered with a grpc.Server in
// place of a protoc-generated one. Every method is served through jsonCodec.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Backend)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "OpenSession", Handler: func(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
			return unaryHandler(srv.(Backend).OpenSession)(srv, ctx, dec, i)
		}},
		{MethodName: "CloseSession", Handler: func(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
			return unaryHandler(srv.(Backend).CloseSession)(srv, ctx, dec, i)
		}},
		{MethodName: "KeepAlive", Handler: func(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
			return unaryHandler(srv.(Backend).KeepAlive)(srv, ctx, dec, i)
		}},
		{MethodName: "Command", Handler: func(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
			return unaryHandler(srv.(Backend).Command)(srv, ctx, dec, i)
		}},
		{MethodName: "Query", Handler: func(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
			return unaryHandler(srv.(Backend).Query)(srv, ctx, dec, i)
		}},
		{MethodName: "Metadata", Handler: func(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
			return unaryHandler(srv.(Backend).Metadata)(srv, ctx, dec, i)
		}},
	},
	Streams:  []grpc.StreamDesc{eventStreamDesc},
	Metadata: "raftsession.proto",
}

// combinedServer is the single object grpc.Server dispatches every method
// and stream of ServiceDesc against: unary RPCs resolve through Backend,
// the Events stream resolves through Hub.
type combinedServer struct {
	Backend
	*Hub
}

// Register attaches backend's unary RPCs and hub's Events stream to s under
// ServiceDesc.
func Register(s *grpc.Server, backend Backend, hub *Hub) {
	s.RegisterService(&ServiceDesc, combinedServer{Backend: backend, Hub: hub})
}
