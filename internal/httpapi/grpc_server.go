package httpapi

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"campuswallet.org/internal/obs"
)

// HealthReporter publishes store readiness through the standard gRPC health
// service, for load balancers that probe over gRPC.
type HealthReporter struct {
	health    *health.Server
	readiness readinessChecker
}

// NewGRPCServer returns a server with the health service registered and the
// reporter that keeps its status current.
func NewGRPCServer(r readinessChecker, opts ...grpc.ServerOption) (*grpc.Server, *HealthReporter) {
	opts = append(opts, grpc.ChainUnaryInterceptor(logUnary))
	srv := grpc.NewServer(opts...)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	if r == nil {
		r = ReadyProbe{}
	}
	return srv, &HealthReporter{health: hs, readiness: r}
}

// Refresh runs the readiness check once and updates the served status.
func (h *HealthReporter) Refresh(ctx context.Context) bool {
	st := healthpb.HealthCheckResponse_SERVING
	ok := true
	if err := h.readiness.Check(ctx); err != nil {
		obs.Logger().Warn("readiness_check_failed", zap.Error(err))
		st = healthpb.HealthCheckResponse_NOT_SERVING
		ok = false
	}
	h.health.SetServingStatus("", st)
	h.health.SetServingStatus(serviceName, st)
	obs.SetReady(ok)
	return ok
}

// Run refreshes every interval until ctx ends, then reports NOT_SERVING.
func (h *HealthReporter) Run(ctx context.Context, every time.Duration) {
	h.Refresh(ctx)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.health.Shutdown()
			return
		case <-ticker.C:
			h.Refresh(ctx)
		}
	}
}

func logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	obs.Logger().Debug("grpc_request",
		zap.String("method", info.FullMethod),
		zap.String("code", status.Code(err).String()),
		zap.Duration("duration", time.Since(start)))
	return resp, err
}
