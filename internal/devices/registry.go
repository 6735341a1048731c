package devices

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/KevinKickass/ModbusMonitor/internal/modbus"
	"github.com/KevinKickass/ModbusMonitor/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrDeviceNotFound = errors.New("device not found")
	ErrRegistryClosed = errors.New("registry is shut down")
)

// DeviceRepository persists device definitions across restarts.
type DeviceRepository interface {
	SaveDefinition(ctx context.Context, def types.StoredDefinition) error
	LoadDefinitions(ctx context.Context) ([]types.StoredDefinition, error)
	DeleteDefinition(ctx context.Context, name string) error
}

type Options struct {
	// Dialer defaults to Modbus TCP.
	Dialer modbus.Dialer
	// Sink receives the passes of every device.
	Sink                 modbus.Sink
	Observer             modbus.Observer
	Repository           DeviceRepository
	Defaults             types.DefinitionDefaults
	MaxConsecutiveErrors int
}

// Device bundles the connection, engine and monitor built from one definition.
type Device struct {
	ID      uuid.UUID
	Conn    *modbus.Connection
	Engine  *modbus.Engine
	Monitor *modbus.Monitor

	mu  sync.Mutex
	def types.DeviceDefinition
}

func (d *Device) Name() string {
	return d.Engine.Name()
}

func (d *Device) Definition() types.DeviceDefinition {
	d.mu.Lock()
	defer d.mu.Unlock()
	def := d.def
	def.Registers = append([]types.RegisterSpec(nil), d.def.Registers...)
	return def
}

func (d *Device) Status() types.DeviceStatus {
	ms := d.Monitor.Status()
	status := types.DeviceStatus{
		ID:                d.ID.String(),
		Name:              d.Name(),
		Endpoint:          d.Conn.Endpoint(),
		Connection:        d.Conn.State(),
		Monitoring:        ms.State,
		ConsecutiveErrors: ms.ConsecutiveErrors,
		Registers:         len(d.Engine.Specs()),
	}
	if !ms.LastPassAt.IsZero() {
		at := ms.LastPassAt
		status.LastPassAt = &at
	}
	if ms.LastError != nil {
		status.LastError = ms.LastError.Error()
	}
	return status
}

// teardown stops monitoring (letting an in-flight pass finish) and closes
// the connection.
func (d *Device) teardown() {
	d.Monitor.Stop()
	d.Conn.Disconnect()
}

// Registry owns every configured device. Monitoring loops run on the
// registry's own context, not on the caller's.
type Registry struct {
	opts   Options
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	devices map[string]*Device
	closed  bool
}

func NewRegistry(opts Options, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Dialer == nil {
		opts.Dialer = modbus.TCPDialer(logger)
	}
	if opts.MaxConsecutiveErrors <= 0 {
		opts.MaxConsecutiveErrors = modbus.DefaultMaxConsecutiveErrors
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		opts:    opts,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		devices: make(map[string]*Device),
	}
}

// Configure builds a device from def. An existing device with the same name
// is torn down and replaced; it keeps its id.
func (r *Registry) Configure(ctx context.Context, def types.DeviceDefinition) (*Device, error) {
	return r.configure(ctx, uuid.Nil, def, true)
}

func (r *Registry) configure(ctx context.Context, id uuid.UUID, def types.DeviceDefinition, persist bool) (*Device, error) {
	cfg, specs, err := def.Resolve(r.opts.Defaults)
	if err != nil {
		return nil, err
	}

	conn, err := modbus.NewConnection(cfg, r.opts.Dialer, r.logger.With(zap.String("device", def.Name)))
	if err != nil {
		return nil, err
	}
	engine := modbus.NewEngine(def.Name, conn, r.logger)
	for _, spec := range specs {
		engine.AddSpec(spec)
	}
	monitor := modbus.NewMonitor(engine, r.opts.Sink, modbus.MonitorOptions{
		MaxConsecutiveErrors: r.opts.MaxConsecutiveErrors,
		Observer:             r.opts.Observer,
	}, r.logger)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	old := r.devices[def.Name]
	if id == uuid.Nil {
		if old != nil {
			id = old.ID
		} else {
			id = uuid.New()
		}
	}
	dev := &Device{ID: id, Conn: conn, Engine: engine, Monitor: monitor, def: def}
	r.devices[def.Name] = dev
	r.mu.Unlock()

	if old != nil {
		old.teardown()
		r.logger.Info("Device replaced", zap.String("device", def.Name))
	}

	if persist {
		if err := r.persist(ctx, dev); err != nil {
			return dev, err
		}
	}

	r.logger.Info("Device configured",
		zap.String("device", def.Name),
		zap.String("id", id.String()),
		zap.String("endpoint", conn.Endpoint()),
		zap.Int("registers", len(specs)))
	return dev, nil
}

func (r *Registry) persist(ctx context.Context, dev *Device) error {
	if r.opts.Repository == nil {
		return nil
	}
	stored := types.StoredDefinition{ID: dev.ID, Definition: dev.Definition()}
	if err := r.opts.Repository.SaveDefinition(ctx, stored); err != nil {
		return fmt.Errorf("persist device %s: %w", dev.Name(), err)
	}
	return nil
}

// Restore configures every persisted definition. Broken definitions are
// skipped and reported together.
func (r *Registry) Restore(ctx context.Context) (int, error) {
	if r.opts.Repository == nil {
		return 0, nil
	}

	stored, err := r.opts.Repository.LoadDefinitions(ctx)
	if err != nil {
		return 0, fmt.Errorf("load device definitions: %w", err)
	}

	var errs []error
	restored := 0
	for _, s := range stored {
		if _, err := r.configure(ctx, s.ID, s.Definition, false); err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", s.Definition.Name, err))
			continue
		}
		restored++
	}

	r.logger.Info("Devices restored", zap.Int("count", restored), zap.Int("failed", len(errs)))
	return restored, errors.Join(errs...)
}

// Get looks a device up by name or id.
func (r *Registry) Get(ref string) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if dev, ok := r.devices[ref]; ok {
		return dev, nil
	}
	if id, err := uuid.Parse(ref); err == nil {
		for _, dev := range r.devices {
			if dev.ID == id {
				return dev, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, ref)
}

// List returns the status of every device ordered by name.
func (r *Registry) List() []types.DeviceStatus {
	r.mu.RLock()
	devices := make([]*Device, 0, len(r.devices))
	for _, dev := range r.devices {
		devices = append(devices, dev)
	}
	r.mu.RUnlock()

	statuses := make([]types.DeviceStatus, 0, len(devices))
	for _, dev := range devices {
		statuses = append(statuses, dev.Status())
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses
}

func (r *Registry) Status(ref string) (types.DeviceStatus, error) {
	dev, err := r.Get(ref)
	if err != nil {
		return types.DeviceStatus{}, err
	}
	return dev.Status(), nil
}

func (r *Registry) Connect(ctx context.Context, ref string) error {
	dev, err := r.Get(ref)
	if err != nil {
		return err
	}
	return dev.Conn.Connect(ctx)
}

// Disconnect stops monitoring first, then closes the connection.
func (r *Registry) Disconnect(ref string) error {
	dev, err := r.Get(ref)
	if err != nil {
		return err
	}
	dev.teardown()
	return nil
}

func (r *Registry) StartMonitoring(ref string) error {
	dev, err := r.Get(ref)
	if err != nil {
		return err
	}
	return dev.Monitor.Start(r.ctx)
}

func (r *Registry) StopMonitoring(ref string) error {
	dev, err := r.Get(ref)
	if err != nil {
		return err
	}
	dev.Monitor.Stop()
	return nil
}

func (r *Registry) ReadOnDemand(ctx context.Context, ref string, kind types.RegisterKind, address, count uint16) ([]uint16, error) {
	dev, err := r.Get(ref)
	if err != nil {
		return nil, err
	}
	return dev.Engine.ReadOne(ctx, kind, address, count)
}

// WriteOnDemand uses the single-write function for one value and the
// multiple-write function otherwise.
func (r *Registry) WriteOnDemand(ctx context.Context, ref string, kind types.RegisterKind, address uint16, values []int) error {
	dev, err := r.Get(ref)
	if err != nil {
		return err
	}
	if len(values) == 1 {
		return dev.Engine.WriteOne(ctx, kind, address, values[0])
	}
	return dev.Engine.WriteMany(ctx, kind, address, values)
}

// AddRegister appends a spec to a device. A running loop picks it up on the
// next pass.
func (r *Registry) AddRegister(ctx context.Context, ref string, spec types.RegisterSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	dev, err := r.Get(ref)
	if err != nil {
		return err
	}

	dev.Engine.AddSpec(spec)
	dev.mu.Lock()
	dev.def.Registers = append(dev.def.Registers, spec)
	dev.mu.Unlock()

	return r.persist(ctx, dev)
}

// Remove tears a device down and forgets it.
func (r *Registry) Remove(ctx context.Context, ref string) error {
	dev, err := r.Get(ref)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.devices[dev.Name()] == dev {
		delete(r.devices, dev.Name())
	}
	r.mu.Unlock()

	dev.teardown()
	r.logger.Info("Device removed", zap.String("device", dev.Name()))

	if r.opts.Repository != nil {
		if err := r.opts.Repository.DeleteDefinition(ctx, dev.Name()); err != nil {
			return fmt.Errorf("delete device %s: %w", dev.Name(), err)
		}
	}
	return nil
}

// Shutdown stops every monitor and closes every connection. It returns early
// with ctx's error if teardown takes too long.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	devices := make([]*Device, 0, len(r.devices))
	for _, dev := range r.devices {
		devices = append(devices, dev)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for _, dev := range devices {
			wg.Add(1)
			go func(d *Device) {
				defer wg.Done()
				d.teardown()
			}(dev)
		}
		wg.Wait()
		close(done)
	}()

	defer r.cancel()

	select {
	case <-done:
		r.logger.Info("All devices stopped", zap.Int("count", len(devices)))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("registry shutdown: %w", ctx.Err())
	}
}
