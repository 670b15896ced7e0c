package server_test

import (
	"context"
	"net"
	"testing"
	"time"

	"OptionLedger/internal/observability"
	"OptionLedger/internal/server"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestGRPCHealthFollowsReadiness(t *testing.T) {
	checker := observability.NewHealthChecker()
	srv := server.NewGRPCServer("127.0.0.1:0", checker)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = srv.Serve(ctx, lis) }()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	status := func() healthpb.HealthCheckResponse_ServingStatus {
		rctx, rcancel := context.WithTimeout(ctx, 5*time.Second)
		defer rcancel()
		resp, err := client.Check(rctx, &healthpb.HealthCheckRequest{Service: server.LedgerService})
		require.NoError(t, err)
		return resp.Status
	}

	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status())
	checker.SetReady(true)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, status())
}
