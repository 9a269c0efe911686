package grpcapi

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/fx"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/agrivision/agriauth"
	"github.com/agrivision/agriauth/internal/config"
)

// NewGRPCServer registers the token and health services on a new server.
func NewGRPCServer(engine *agriauth.Engine, logger *slog.Logger) (*grpc.Server, *health.Server) {
	if logger == nil {
		logger = slog.Default()
	}
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(logUnary(logger)))

	RegisterTokenServiceServer(srv, NewTokenServer(engine, logger))

	healthSrv := health.NewServer()
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthSrv.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, healthSrv)

	return srv, healthSrv
}

func logUnary(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		level := slog.LevelInfo
		if err != nil {
			level = slog.LevelWarn
		}
		logger.LogAttrs(ctx, level, "gRPC Request",
			slog.String("method", info.FullMethod),
			slog.String("code", status.Code(err).String()),
			slog.Duration("latency", time.Since(start)),
		)

		return resp, err
	}
}

type Params struct {
	fx.In
	fx.Lifecycle

	Config *config.Config
	Logger *slog.Logger
	Engine *agriauth.Engine
}

// Server runs the gRPC listener when enabled in config.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger
	grpc   *grpc.Server
	health *health.Server
}

func NewServer(params Params) *Server {
	srv, healthSrv := NewGRPCServer(params.Engine, params.Logger)
	s := &Server{cfg: params.Config, logger: params.Logger, grpc: srv, health: healthSrv}

	params.Append(fx.Hook{
		OnStop: s.stop,
	})

	return s
}

func (s *Server) Serve(ctx context.Context) error {
	if !s.cfg.GRPC.Enabled {
		return nil
	}

	hostPort := net.JoinHostPort("0.0.0.0", strconv.Itoa(s.cfg.GRPC.Port))
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", hostPort)
	if err != nil {
		return errors.Wrap(err, "failed to listen grpc")
	}

	s.logger.Info("Starting gRPC server", slog.String("hostPort", hostPort))
	if err := s.grpc.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return errors.Wrap(err, "failed to serve grpc")
	}

	return nil
}

func (s *Server) stop(ctx context.Context) error {
	s.logger.Info("Shutting down gRPC server")
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.grpc.Stop()
	}

	return nil
}
