// Package grpc is the server's transport shell. It serves the standard
// health service and resolves the caller of every unary call into an
// access.Principal carried on the request context.
package grpc

import (
	"context"
	"net"

	"github.com/pengine/pengine/internal/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// TokenVerifier resolves an access token to a user ID.
// *services.SessionService satisfies it.
type TokenVerifier interface {
	UserIDFromAccessToken(token string) (string, error)
}

type GRPCServer struct {
	address string
	tokens  TokenVerifier
	health  *health.Server
	logger  logging.Logger
}

func NewGRPCServer(a string, l logging.Logger, tokens TokenVerifier) *GRPCServer {
	return &GRPCServer{
		address: a,
		tokens:  tokens,
		health:  health.NewServer(),
		logger:  l.With("module", "grpc_server"),
	}
}

func (s *GRPCServer) newServer() *grpc.Server {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(
		s.requestInfoInterceptor,
		s.accessTokenInterceptor,
	))
	healthpb.RegisterHealthServer(srv, s.health)
	return srv
}

// Run listens on the configured address and serves until ctx is done.
func (s *GRPCServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis until ctx is done, then stops gracefully.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	srv := s.newServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		s.health.Shutdown()
		srv.GracefulStop()
	}()

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	return srv.Serve(lis)
}
