package grpc

import (
	"context"
	"crypto/subtle"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// ClusterSecretHeader is the metadata key for the cluster secret
const ClusterSecretHeader = "x-lwt-cluster-secret"

// unaryServerAuth rejects calls that do not carry secret. An empty secret
// disables the check.
func unaryServerAuth(secret string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if err := validateClusterSecret(ctx, secret); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

func validateClusterSecret(ctx context.Context, secret string) error {
	if secret == "" {
		return nil
	}

	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing metadata")
	}

	secrets := md.Get(ClusterSecretHeader)
	if len(secrets) == 0 {
		return status.Error(codes.Unauthenticated, "missing cluster secret")
	}
	if subtle.ConstantTimeCompare([]byte(secrets[0]), []byte(secret)) != 1 {
		return status.Error(codes.Unauthenticated, "invalid cluster secret")
	}
	return nil
}

// unaryClientAuth attaches secret to every outgoing call
func unaryClientAuth(secret string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if secret != "" {
			ctx = metadata.AppendToOutgoingContext(ctx, ClusterSecretHeader, secret)
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}
