package health

import (
	"github.com/KevinKickass/ModbusMonitor/internal/types"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Reporter exposes per-device monitoring as gRPC health. The service name is
// the device name; it is SERVING while the device's loop is running. The
// empty service reports the process itself.
type Reporter struct {
	server *health.Server
	logger *zap.Logger
}

func NewReporter(logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	server := health.NewServer()
	server.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	return &Reporter{server: server, logger: logger.Named("health")}
}

func (r *Reporter) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, r.server)
}

// Server returns the underlying health service.
func (r *Reporter) Server() healthpb.HealthServer {
	return r.server
}

func (r *Reporter) MonitoringChanged(device string, state types.MonitoringState, err error) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if state == types.MonitoringRunning {
		status = healthpb.HealthCheckResponse_SERVING
	}
	r.server.SetServingStatus(device, status)

	if err != nil {
		r.logger.Warn("Device health changed",
			zap.String("device", device),
			zap.Stringer("status", status),
			zap.Error(err))
	}
}

// Shutdown flips every service to NOT_SERVING.
func (r *Reporter) Shutdown() {
	r.server.Shutdown()
}
