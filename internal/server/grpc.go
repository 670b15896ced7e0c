package server

import (
	"context"
	"fmt"
	"net"

	"OptionLedger/internal/observability"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// LedgerService is the service name reported by the gRPC health endpoint.
const LedgerService = "optionledger.Ledger"

// GRPCServer carries the standard gRPC health and reflection services so
// orchestrators can probe the ledger the same way they probe its peers.
// The serving status follows the readiness of the HealthChecker.
type GRPCServer struct {
	grpcServer *grpc.Server
	health     *health.Server
	addr       string
	logger     zerolog.Logger
}

func NewGRPCServer(addr string, checker *observability.HealthChecker) *GRPCServer {
	grpcServer := grpc.NewServer()

	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)
	reflection.Register(grpcServer)

	s := &GRPCServer{
		grpcServer: grpcServer,
		health:     hs,
		addr:       addr,
		logger:     observability.NewLogger("grpc"),
	}
	s.setServing(checker != nil && checker.IsReady())
	if checker != nil {
		checker.OnChange(s.setServing)
	}
	return s
}

func (s *GRPCServer) setServing(ready bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ready {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(LedgerService, st)
}

// Start blocks serving gRPC until ctx is cancelled.
func (s *GRPCServer) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	return s.Serve(ctx, lis)
}

func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("grpc server shutting down")
		s.health.Shutdown()
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", lis.Addr().String()).Msg("grpc server listening")
	return s.grpcServer.Serve(lis)
}
