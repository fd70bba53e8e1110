package grpc

import (
	"context"
	"errors"
	"net"

	"github.com/pengine/pengine/internal/access"
	"github.com/pengine/pengine/internal/common"
	"github.com/pengine/pengine/internal/server/services"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

type ctxKey string

const principalKey ctxKey = "principal"

// PrincipalFromContext returns the caller resolved by the access token
// interceptor, or access.Anonymous.
func PrincipalFromContext(ctx context.Context) access.Principal {
	p, ok := ctx.Value(principalKey).(access.Principal)
	if !ok {
		return access.Anonymous
	}
	return p
}

func firstValue(md metadata.MD, key string) string {
	if values := md.Get(key); len(values) > 0 {
		return values[0]
	}
	return ""
}

// accessTokenInterceptor puts the caller's principal on the context. Calls
// without a token run as anonymous; a token that does not verify is
// rejected.
func (s *GRPCServer) accessTokenInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	var accessToken string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		accessToken = firstValue(md, common.AccessTokenHeaderName)
	}
	if accessToken == "" {
		return handler(context.WithValue(ctx, principalKey, access.Anonymous), req)
	}

	userID, err := s.tokens.UserIDFromAccessToken(accessToken)
	if err != nil {
		if errors.Is(err, common.ErrTokenExpired) {
			return nil, status.Error(codes.Unauthenticated, "token expired")
		}
		return nil, status.Error(codes.Unauthenticated, "invalid token")
	}

	return handler(context.WithValue(ctx, principalKey, access.Principal{UserID: userID}), req)
}

// requestInfoInterceptor records the client address and user agent for the
// audit trail.
func (s *GRPCServer) requestInfoInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	var ri services.RequestInfo
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		ri.IPAddress = p.Addr.String()
		if host, _, err := net.SplitHostPort(ri.IPAddress); err == nil {
			ri.IPAddress = host
		}
	}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		ri.UserAgent = firstValue(md, "user-agent")
	}
	return handler(services.WithRequestInfo(ctx, ri), req)
}
