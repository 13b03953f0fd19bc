// Package speechrpctest runs an in-process speech sidecar for tests.
package speechrpctest

import (
	"context"
	"net"
	"sync"
	"testing"

	"github.com/rbright/aeris/internal/speechrpc"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// TranscribeFunc adapts a function to speechrpc.TranscriberServer.
type TranscribeFunc func(ctx context.Context, req speechrpc.TranscribeRequest) (string, error)

func (f TranscribeFunc) Transcribe(ctx context.Context, req speechrpc.TranscribeRequest) (string, error) {
	return f(ctx, req)
}

// DetectFunc adapts a function to speechrpc.WakeWordServer.
type DetectFunc func(ctx context.Context, cfg speechrpc.DetectConfig, frame []int16) (int, error)

func (f DetectFunc) Process(ctx context.Context, cfg speechrpc.DetectConfig, frame []int16) (int, error) {
	return f(ctx, cfg, frame)
}

// Server is a running sidecar bound to a loopback port.
type Server struct {
	Addr   string
	Health *health.Server

	grpc *grpc.Server
	once sync.Once
}

// Start serves the given handlers until the test ends. Either may be nil.
func Start(t *testing.T, transcriber speechrpc.TranscriberServer, wake speechrpc.WakeWordServer) *Server {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &Server{
		Addr:   lis.Addr().String(),
		Health: health.NewServer(),
		grpc:   grpc.NewServer(),
	}
	healthpb.RegisterHealthServer(srv.grpc, srv.Health)
	if transcriber != nil {
		speechrpc.RegisterTranscriberServer(srv.grpc, transcriber)
	}
	if wake != nil {
		speechrpc.RegisterWakeWordServer(srv.grpc, wake)
	}

	go func() {
		_ = srv.grpc.Serve(lis)
	}()
	t.Cleanup(srv.Stop)
	return srv
}

// Stop shuts the server down immediately. It is safe to call more than once.
func (s *Server) Stop() {
	s.once.Do(s.grpc.Stop)
}
