package system

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/KevinKickass/ModbusMonitor/internal/api/health"
	"github.com/KevinKickass/ModbusMonitor/internal/api/rest"
	"github.com/KevinKickass/ModbusMonitor/internal/api/websocket"
	"github.com/KevinKickass/ModbusMonitor/internal/config"
	"github.com/KevinKickass/ModbusMonitor/internal/devices"
	"github.com/KevinKickass/ModbusMonitor/internal/interfaces"
	"github.com/KevinKickass/ModbusMonitor/internal/messaging"
	"github.com/KevinKickass/ModbusMonitor/internal/modbus"
	"github.com/KevinKickass/ModbusMonitor/internal/storage"
	"github.com/KevinKickass/ModbusMonitor/internal/types"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// LifecycleManager is the composition root of the server: it owns the
// device registry and every surface that feeds from it.
type LifecycleManager struct {
	config     *config.Config
	store      storage.Store
	repository devices.DeviceRepository
	registry   *devices.Registry
	loader     *devices.DefinitionLoader
	logger     *zap.Logger

	wsHub     *websocket.Hub
	hubCancel context.CancelFunc
	health    *health.Reporter
	mqtt      *messaging.Publisher

	restServer *rest.Server
	grpcServer *grpc.Server
	grpcAddr   net.Addr

	stateMu      sync.RWMutex
	currentState SystemState
	lastErr      error

	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

// NewLifecycleManager wires the registry to its sinks. repository may be nil,
// in which case definitions configured at runtime are not persisted.
func NewLifecycleManager(
	store storage.Store,
	repository devices.DeviceRepository,
	cfg *config.Config,
	logger *zap.Logger,
) (*LifecycleManager, error) {
	loader, err := devices.NewDefinitionLoader(cfg.Devices.SearchPaths)
	if err != nil {
		return nil, fmt.Errorf("failed to create definition loader: %w", err)
	}

	wsHub := websocket.NewHub(logger)
	reporter := health.NewReporter(logger)

	sinks := modbus.Sinks{store, wsHub}
	observers := modbus.Observers{wsHub, reporter}

	var publisher *messaging.Publisher
	if cfg.MQTT.Enabled {
		publisher = messaging.NewPublisherFromConfig(cfg.MQTT, logger)
		sinks = append(sinks, publisher)
		observers = append(observers, publisher)
	}

	registry := devices.NewRegistry(devices.Options{
		Sink:                 sinks,
		Observer:             observers,
		Repository:           repository,
		Defaults:             cfg.Modbus.Defaults(),
		MaxConsecutiveErrors: cfg.Modbus.MaxConsecutiveErrors,
	}, logger)

	return &LifecycleManager{
		config:       cfg,
		store:        store,
		repository:   repository,
		registry:     registry,
		loader:       loader,
		logger:       logger,
		wsHub:        wsHub,
		health:       reporter,
		mqtt:         publisher,
		currentState: StateInitializing,
		shutdownChan: make(chan struct{}),
	}, nil
}

// Start starts the entire system
func (lm *LifecycleManager) Start(ctx context.Context) error {
	lm.logger.Info("Starting Modbus monitor",
		zap.String("storage", lm.config.Storage.Backend),
		zap.Bool("mqtt", lm.mqtt != nil))

	hubCtx, cancel := context.WithCancel(context.Background())
	lm.hubCancel = cancel
	go lm.wsHub.Run(hubCtx)

	if lm.mqtt != nil {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := lm.mqtt.Connect(connectCtx)
		cancel()
		if err != nil {
			// client keeps retrying in the background
			lm.logger.Warn("MQTT broker not reachable yet", zap.Error(err))
		}
	}

	if err := lm.loadDevices(ctx); err != nil {
		lm.setError(err)
		return err
	}

	// Start gRPC Server (health)
	if err := lm.startGRPCServer(); err != nil {
		lm.setError(fmt.Errorf("failed to start gRPC: %w", err))
		return err
	}

	// Start REST API Server
	lm.restServer = rest.NewServer(lm, lm.logger, lm.wsHub)
	if err := lm.restServer.Start(); err != nil {
		lm.setError(fmt.Errorf("failed to start REST API: %w", err))
		return err
	}

	lm.setState(StateRunning)

	lm.logger.Info("System started successfully",
		zap.Int("grpc_port", lm.config.Server.GRPCPort),
		zap.Int("http_port", lm.config.Server.HTTPPort),
		zap.Int("devices", len(lm.registry.List())))

	return nil
}

// loadDevices restores persisted definitions, then applies the definition
// files. A file definition replaces a persisted one with the same name.
func (lm *LifecycleManager) loadDevices(ctx context.Context) error {
	restored, err := lm.registry.Restore(ctx)
	if err != nil {
		// Continue anyway, broken rows are reported but not fatal
		lm.logger.Warn("Failed to restore some devices", zap.Error(err))
	}

	defs, err := lm.loader.LoadAll()
	if err != nil {
		return fmt.Errorf("failed to load device definitions: %w", err)
	}
	for _, def := range defs {
		if _, err := lm.registry.Configure(ctx, def); err != nil {
			lm.logger.Error("Failed to configure device",
				zap.String("device", def.Name),
				zap.Error(err))
		}
	}

	lm.logger.Info("Devices loaded",
		zap.Int("restored", restored),
		zap.Int("from_files", len(defs)))

	if !lm.config.Modbus.AutoStart {
		return nil
	}
	for _, status := range lm.registry.List() {
		if err := lm.registry.StartMonitoring(status.Name); err != nil {
			lm.logger.Error("Failed to start monitoring",
				zap.String("device", status.Name),
				zap.Error(err))
		}
	}
	return nil
}

func (lm *LifecycleManager) startGRPCServer() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", lm.config.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	lm.grpcAddr = lis.Addr()

	lm.grpcServer = grpc.NewServer()
	lm.health.Register(lm.grpcServer)

	go func() {
		lm.logger.Info("gRPC server listening",
			zap.String("address", lis.Addr().String()),
			zap.String("services", "grpc.health.v1.Health"))
		if err := lm.grpcServer.Serve(lis); err != nil {
			lm.logger.Error("gRPC server failed", zap.Error(err))
		}
	}()

	return nil
}

// Shutdown gracefully shuts down the system
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")
		lm.setState(StateStopping)

		shutdownErr = lm.gracefulShutdown(ctx)

		lm.setState(StateStopped)
		close(lm.shutdownChan)
	})

	return shutdownErr
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	var wg sync.WaitGroup
	errChan := make(chan error, 3)

	// 1. Outer surfaces
	lm.health.Shutdown()
	if lm.restServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			if err := lm.restServer.Shutdown(shutdownCtx); err != nil {
				errChan <- fmt.Errorf("rest api shutdown failed: %w", err)
			}
		}()
	}
	if lm.grpcServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lm.logger.Info("Stopping gRPC server")
			lm.grpcServer.GracefulStop()
		}()
	}

	// 2. Registry (all monitors & connections)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := lm.registry.Shutdown(ctx); err != nil {
			errChan <- fmt.Errorf("registry stop failed: %w", err)
		}
	}()

	// Wait for all shutdowns
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		close(errChan)
		var errs []error
		for e := range errChan {
			errs = append(errs, e)
		}
		err = errors.Join(errs...)
	case <-ctx.Done():
		lm.logger.Warn("Shutdown timeout, forcing stop")
		if lm.grpcServer != nil {
			lm.grpcServer.Stop()
		}
		err = fmt.Errorf("shutdown timeout exceeded: %w", ctx.Err())
	}

	// 3. Sinks, once no loop publishes anymore
	if lm.mqtt != nil {
		lm.mqtt.Close()
	}
	if lm.hubCancel != nil {
		lm.hubCancel()
	}

	if err == nil {
		lm.logger.Info("Graceful shutdown completed")
	}
	return err
}

// Done is closed once Shutdown has finished.
func (lm *LifecycleManager) Done() <-chan struct{} {
	return lm.shutdownChan
}

func (lm *LifecycleManager) setState(state SystemState) {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()

	if err := ValidateTransition(lm.currentState, state); err != nil {
		lm.logger.Warn("Unexpected state transition", zap.Error(err))
	}
	lm.currentState = state
	lm.logger.Debug("System state changed", zap.Stringer("state", state))
}

func (lm *LifecycleManager) setError(err error) {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()
	lm.currentState = StateError
	lm.lastErr = err
	lm.logger.Error("System error", zap.Error(err))
}

func (lm *LifecycleManager) State() SystemState {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	return lm.currentState
}

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	statuses := lm.registry.List()
	status := interfaces.SystemStatus{
		State:          lm.State().String(),
		StorageBackend: lm.config.Storage.Backend,
		DeviceCount:    len(statuses),
		LiveClients:    lm.wsHub.ClientCount(),
	}
	for _, s := range statuses {
		if s.Connection == types.Connected {
			status.ConnectedDevices++
		}
		if s.Monitoring == types.MonitoringRunning {
			status.MonitoringDevices++
		}
	}
	return status
}

// GRPCAddr is the bound address of the gRPC listener, nil before Start.
func (lm *LifecycleManager) GRPCAddr() net.Addr {
	return lm.grpcAddr
}

// Registry returns the device registry
func (lm *LifecycleManager) Registry() *devices.Registry {
	return lm.registry
}

// Validator returns the definition validator used by the loader
func (lm *LifecycleManager) Validator() *devices.Validator {
	return lm.loader.Validator()
}

// Store returns the pass store
func (lm *LifecycleManager) Store() storage.Reader {
	return lm.store
}

// Config returns the configuration
func (lm *LifecycleManager) Config() *config.Config {
	return lm.config
}
