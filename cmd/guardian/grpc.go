package main

import (
	"context"
	"log"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"guardian/internal/pipeline"
)

// handleGRPCServer serves the standard gRPC health service. It reports
// SERVING while the pipeline manager is open.
func handleGRPCServer(ctx context.Context, addr string, manager *pipeline.Manager, wg *sync.WaitGroup, errc chan error, logger *log.Logger) {
	healthSrv := health.NewServer()
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, healthSrv)

	(*wg).Add(1)
	go func() {
		defer (*wg).Done()

		lis, err := net.Listen("tcp", addr)
		if err != nil {
			errc <- err
			return
		}

		go func() {
			logger.Printf("gRPC health server listening on %q", addr)
			errc <- srv.Serve(lis)
		}()

		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				logger.Printf("shutting down gRPC server at %q", addr)
				healthSrv.Shutdown()
				srv.GracefulStop()
				return
			case <-ticker.C:
				if manager.Closed() {
					healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
				}
			}
		}
	}()
}
