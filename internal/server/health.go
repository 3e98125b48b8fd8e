package server

import (
	"context"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joshp123/airbridge/internal/accessory"
)

// AccessoryHealth exposes every accessory as a gRPC health service named
// "airthings.<deviceId>". Faulted accessories report NOT_SERVING.
type AccessoryHealth struct {
	hs *health.Server
}

func NewAccessoryHealth(hs *health.Server) *AccessoryHealth {
	return &AccessoryHealth{hs: hs}
}

func AccessoryServiceName(deviceID string) string {
	return "airthings." + deviceID
}

func (h *AccessoryHealth) Register(_ context.Context, record accessory.Record) error {
	status := healthpb.HealthCheckResponse_SERVING
	if record.Orphaned() {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.hs.SetServingStatus(AccessoryServiceName(record.Device.ID), status)
	return nil
}

func (h *AccessoryHealth) Unregister(_ context.Context, record accessory.Record) error {
	h.hs.SetServingStatus(AccessoryServiceName(record.Device.ID), healthpb.HealthCheckResponse_SERVICE_UNKNOWN)
	return nil
}

func (h *AccessoryHealth) Publish(_ context.Context, record accessory.Record, snapshot accessory.Snapshot) error {
	status := healthpb.HealthCheckResponse_SERVING
	if snapshot.Faulted {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.hs.SetServingStatus(AccessoryServiceName(record.Device.ID), status)
	return nil
}
