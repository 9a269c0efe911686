// Package grpcapi exposes bearer token verification to internal services
// over gRPC, next to the standard health service.
//
// The service is defined with well-known types only, so no generated code
// is needed: agriauth.v1.TokenService/Verify takes the token as a
// google.protobuf.StringValue and answers a google.protobuf.Struct.
package grpcapi

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/agrivision/agriauth"
	"github.com/agrivision/agriauth/middleware"
)

const (
	ServiceName  = "agriauth.v1.TokenService"
	VerifyMethod = "/" + ServiceName + "/Verify"
)

// TokenServiceServer is the server API for agriauth.v1.TokenService.
type TokenServiceServer interface {
	Verify(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error)
}

var tokenServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TokenServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Verify", Handler: verifyHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "agriauth/v1/token.proto",
}

// RegisterTokenServiceServer registers srv on s.
func RegisterTokenServiceServer(s grpc.ServiceRegistrar, srv TokenServiceServer) {
	s.RegisterService(&tokenServiceDesc, srv)
}

func verifyHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TokenServiceServer).Verify(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: VerifyMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TokenServiceServer).Verify(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

// TokenClient calls agriauth.v1.TokenService.
type TokenClient struct {
	cc grpc.ClientConnInterface
}

func NewTokenClient(cc grpc.ClientConnInterface) *TokenClient {
	return &TokenClient{cc: cc}
}

func (c *TokenClient) Verify(ctx context.Context, token string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, VerifyMethod, wrapperspb.String(token), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// TokenServer verifies tokens with the engine.
type TokenServer struct {
	validator middleware.Validator
	logger    *slog.Logger
}

func NewTokenServer(v middleware.Validator, logger *slog.Logger) *TokenServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenServer{validator: v, logger: logger}
}

// Verify answers {accountId, role, issuedAt, expiresAt}. Any token problem is
// Unauthenticated with the same message.
func (s *TokenServer) Verify(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	token := in.GetValue()
	if token == "" {
		return nil, status.Error(codes.Unauthenticated, "invalid token")
	}

	claims, err := s.validator.ValidateToken(ctx, token)
	switch {
	case err == nil:
	case errors.Is(err, agriauth.ErrTokenInvalid):
		return nil, status.Error(codes.Unauthenticated, "invalid token")
	case errors.Is(err, agriauth.ErrEngineNotReady):
		return nil, status.Error(codes.Unavailable, "token verification unavailable")
	default:
		s.logger.ErrorContext(ctx, "token verification failed", slog.String("error", err.Error()))
		return nil, status.Error(codes.Internal, "token verification failed")
	}

	out, err := structpb.NewStruct(map[string]any{
		"accountId": claims.AccountID,
		"role":      claims.Role.String(),
		"issuedAt":  claims.IssuedAt.UTC().Format(time.RFC3339),
		"expiresAt": claims.ExpiresAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, status.Error(codes.Internal, "encode claims")
	}

	return out, nil
}
