package health

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/KevinKickass/ModbusMonitor/internal/types"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

func check(t *testing.T, hs healthpb.HealthServer, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	t.Helper()
	resp, err := hs.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

func TestReporter_Transitions(t *testing.T) {
	r := NewReporter(zaptest.NewLogger(t))
	hs := r.Server()

	if s, err := check(t, hs, ""); err != nil || s != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("process status=%v err=%v", s, err)
	}
	if _, err := check(t, hs, "press"); status.Code(err) != codes.NotFound {
		t.Fatalf("unknown device err=%v want NotFound", err)
	}

	r.MonitoringChanged("press", types.MonitoringRunning, nil)
	if s, _ := check(t, hs, "press"); s != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("running status=%v", s)
	}

	r.MonitoringChanged("press", types.MonitoringStopping, nil)
	if s, _ := check(t, hs, "press"); s != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("stopping status=%v", s)
	}

	r.MonitoringChanged("press", types.MonitoringStopped, errors.New("monitoring aborted"))
	if s, _ := check(t, hs, "press"); s != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("aborted status=%v", s)
	}
}

func TestReporter_OverGRPC(t *testing.T) {
	r := NewReporter(zaptest.NewLogger(t))
	r.MonitoringChanged("press", types.MonitoringRunning, nil)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := grpc.NewServer()
	r.Register(srv)
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: "press"})
	if err != nil {
		t.Fatalf("Check() err=%v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("status=%v", resp.GetStatus())
	}

	r.Shutdown()
	resp, err = healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: "press"})
	if err != nil || resp.GetStatus() != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("after shutdown status=%v err=%v", resp.GetStatus(), err)
	}
}
