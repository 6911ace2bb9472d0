package grpcapi

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/KevinKickass/OpenRVCore/internal/auth"
)

// TokenValidator is satisfied by *auth.AuthService.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token, ipAddress, userAgent string) ([]auth.Permission, error)
}

// methodPermissions lists what each RPC requires.
var methodPermissions = map[string]auth.Permission{
	SendCommandMethod:  auth.PermCommand,
	StreamFramesMethod: auth.PermRead,
}

func authorize(ctx context.Context, tokens TokenValidator, method string) error {
	required, ok := methodPermissions[method]
	if !ok {
		return nil
	}

	md, _ := metadata.FromIncomingContext(ctx)
	var token string
	for _, v := range md.Get("authorization") {
		if t, ok := auth.BearerToken(v); ok {
			token = t
			break
		}
	}
	if token == "" {
		return status.Error(codes.Unauthenticated, "missing bearer token")
	}

	var addr string
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		addr = p.Addr.String()
	}
	perms, err := tokens.ValidateToken(ctx, token, addr, strings.Join(md.Get("user-agent"), " "))
	if err != nil {
		return status.Error(codes.Unauthenticated, "invalid or expired token")
	}
	if !auth.HasPermission(perms, required) {
		return status.Errorf(codes.PermissionDenied, "requires %s", required)
	}
	return nil
}

func UnaryAuthInterceptor(tokens TokenValidator) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if err := authorize(ctx, tokens, info.FullMethod); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

func StreamAuthInterceptor(tokens TokenValidator) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if err := authorize(ss.Context(), tokens, info.FullMethod); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}

// NewServer builds a grpc.Server with token auth and the Gateway service
// registered.
func NewServer(svc GatewayServer, tokens TokenValidator, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts,
		grpc.ChainUnaryInterceptor(UnaryAuthInterceptor(tokens)),
		grpc.ChainStreamInterceptor(StreamAuthInterceptor(tokens)),
	)
	s := grpc.NewServer(opts...)
	RegisterGatewayServer(s, svc)
	return s
}
