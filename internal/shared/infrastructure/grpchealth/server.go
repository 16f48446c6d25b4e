// Package grpchealth exposes the standard gRPC health service for the
// worker, driven by remote store connectivity.
package grpchealth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	offline "github.com/felixgeelhaar/agenda/internal/offline/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// SyncService is the service name reported for the sync pipeline. The empty
// name reports the process itself, which is serving while it runs.
const SyncService = "agenda.sync"

// Server wraps a gRPC server that only carries the health service.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	logger *slog.Logger
}

// New creates a server. The sync service starts as NOT_SERVING.
func New(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		grpc:   grpc.NewServer(),
		health: health.NewServer(),
		logger: logger,
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(SyncService, healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// SetServing updates the status reported for service.
func (s *Server) SetServing(service string, serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(service, status)
}

// Track mirrors conn onto the sync service until ctx is done.
func (s *Server) Track(ctx context.Context, conn offline.Connectivity) {
	transitions, unsubscribe := conn.Subscribe()
	defer unsubscribe()

	s.SetServing(SyncService, conn.Online())
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-transitions:
			if !ok {
				return
			}
			s.SetServing(SyncService, t.Online)
			s.logger.Info("sync health changed", "serving", t.Online)
		}
	}
}

// ListenAndServe binds addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, lis)
}

// Serve accepts connections on lis until ctx is done, then marks every
// service NOT_SERVING and stops gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("gRPC health server starting", "addr", lis.Addr().String())
		errCh <- s.grpc.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		s.health.Shutdown()
		s.grpc.GracefulStop()
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}
