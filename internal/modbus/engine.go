package modbus

import (
	"context"
	"sync"
	"time"

	"github.com/KevinKickass/ModbusMonitor/internal/types"
	"go.uber.org/zap"
)

// Engine owns the register specs of one device and reads them in passes.
type Engine struct {
	name   string
	conn   *Connection
	logger *zap.Logger

	mu    sync.RWMutex
	specs []types.RegisterSpec
}

func NewEngine(name string, conn *Connection, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		name:   name,
		conn:   conn,
		logger: logger.With(zap.String("device", name)),
	}
}

func (e *Engine) Name() string {
	return e.name
}

func (e *Engine) Connection() *Connection {
	return e.conn
}

// AddSpec appends a spec. Duplicates are kept and read twice.
func (e *Engine) AddSpec(spec types.RegisterSpec) {
	if spec.Name == "" {
		spec.Name = spec.DisplayName()
	}

	e.mu.Lock()
	e.specs = append(e.specs, spec)
	e.mu.Unlock()
}

// Specs returns a copy of the configured specs in addition order.
func (e *Engine) Specs() []types.RegisterSpec {
	e.mu.RLock()
	defer e.mu.RUnlock()

	specs := make([]types.RegisterSpec, len(e.specs))
	copy(specs, e.specs)
	return specs
}

// ReadAll reads every spec concurrently and returns one reading per spec in
// addition order. Per-spec failures end up in the reading, never abort the pass.
func (e *Engine) ReadAll(ctx context.Context) types.PassResult {
	specs := e.Specs()
	readings := make([]types.RegisterReading, len(specs))

	var wg sync.WaitGroup
	for i, spec := range specs {
		wg.Add(1)
		go func() {
			defer wg.Done()

			values, err := e.conn.ReadRegisters(ctx, spec.Kind, spec.Address, spec.Count)
			if err != nil {
				e.logger.Debug("Register read failed",
					zap.String("register", spec.DisplayName()),
					zap.Error(err))
				readings[i] = types.FailedReading(spec, err, time.Now())
				return
			}
			readings[i] = types.NewReading(spec, values, time.Now())
		}()
	}
	wg.Wait()

	return types.PassResult{
		DeviceID:  e.name,
		Timestamp: time.Now(),
		Readings:  readings,
	}
}

// ReadOne is an on-demand read outside the configured specs.
func (e *Engine) ReadOne(ctx context.Context, kind types.RegisterKind, address, count uint16) ([]uint16, error) {
	return e.conn.ReadRegisters(ctx, kind, address, count)
}

func (e *Engine) WriteOne(ctx context.Context, kind types.RegisterKind, address uint16, value int) error {
	if err := e.conn.WriteSingle(ctx, kind, address, value); err != nil {
		return err
	}
	e.logger.Info("Register written",
		zap.Stringer("kind", kind),
		zap.Uint16("address", address),
		zap.Int("value", value))
	return nil
}

func (e *Engine) WriteMany(ctx context.Context, kind types.RegisterKind, address uint16, values []int) error {
	if err := e.conn.WriteMultiple(ctx, kind, address, values); err != nil {
		return err
	}
	e.logger.Info("Registers written",
		zap.Stringer("kind", kind),
		zap.Uint16("address", address),
		zap.Int("count", len(values)))
	return nil
}
