package interfaces

import (
	"context"

	"github.com/KevinKickass/ModbusMonitor/internal/config"
	"github.com/KevinKickass/ModbusMonitor/internal/devices"
	"github.com/KevinKickass/ModbusMonitor/internal/storage"
)

// SystemStatus represents the current system state
type SystemStatus struct {
	State             string `json:"state"`
	StorageBackend    string `json:"storage_backend"`
	DeviceCount       int    `json:"device_count"`
	ConnectedDevices  int    `json:"connected_devices"`
	MonitoringDevices int    `json:"monitoring_devices"`
	LiveClients       int    `json:"live_clients"`
}

type LifecycleManager interface {
	Config() *config.Config
	Registry() *devices.Registry
	Validator() *devices.Validator
	Store() storage.Reader
	GetCurrentStatus() SystemStatus
	Shutdown(ctx context.Context) error
}
