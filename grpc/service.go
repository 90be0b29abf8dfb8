package grpc

import (
	"context"

	"github.com/maxpert/lwt/coordinator"
	"google.golang.org/grpc"
)

const serviceName = "lwt.Replica"

// Full method names of the replica service
const (
	methodPrepare = "/" + serviceName + "/Prepare"
	methodPropose = "/" + serviceName + "/Propose"
	methodCommit  = "/" + serviceName + "/Commit"
	methodRead    = "/" + serviceName + "/Read"
	methodState   = "/" + serviceName + "/State"
)

// replicaServiceDesc exposes a coordinator.Acceptor over gRPC. Messages are
// the paxos package structs, encoded by the msgpack codec.
var replicaServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*coordinator.Acceptor)(nil),
	Methods: []grpc.MethodDesc{
		unary("Prepare", methodPrepare, coordinator.Acceptor.Prepare),
		unary("Propose", methodPropose, coordinator.Acceptor.Propose),
		unary("Commit", methodCommit, coordinator.Acceptor.Commit),
		unary("Read", methodRead, coordinator.Acceptor.Read),
		unary("State", methodState, coordinator.Acceptor.State),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "lwt/replica",
}

func unary[Req, Resp any](name, fullMethod string, call func(coordinator.Acceptor, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			acceptor := srv.(coordinator.Acceptor)
			if interceptor == nil {
				return call(acceptor, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(acceptor, ctx, req.(*Req))
			})
		},
	}
}

// invoke calls one replica method on conn
func invoke[Resp any](ctx context.Context, conn *grpc.ClientConn, method string, req any, opts ...grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	if err := conn.Invoke(ctx, method, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
