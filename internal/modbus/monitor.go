package modbus

import (
	"context"
	"sync"
	"time"

	"github.com/KevinKickass/ModbusMonitor/internal/types"
	"go.uber.org/zap"
)

const DefaultMaxConsecutiveErrors = 5

type MonitorOptions struct {
	// PollInterval defaults to the connection's configured interval.
	PollInterval time.Duration
	// MaxConsecutiveErrors is the circuit breaker ceiling.
	MaxConsecutiveErrors int
	Observer             Observer
}

type MonitorStatus struct {
	State             types.MonitoringState
	ConsecutiveErrors int
	LastPassAt        time.Time
	LastError         error
}

// Monitor drives an Engine in a fixed-interval loop. At most one pass runs at
// a time. Connection failures and fully failed passes count towards
// MaxConsecutiveErrors; reaching it stops the loop with ErrMonitoringAborted.
type Monitor struct {
	engine    *Engine
	sink      Sink
	observer  Observer
	interval  time.Duration
	maxErrors int
	logger    *zap.Logger

	mu                sync.Mutex
	state             types.MonitoringState
	consecutiveErrors int
	lastPassAt        time.Time
	lastErr           error
	cancel            context.CancelFunc
	done              chan struct{}
	exitErr           error
}

func NewMonitor(engine *Engine, sink Sink, opts MonitorOptions, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = engine.Connection().Config().PollInterval
	}
	if opts.MaxConsecutiveErrors <= 0 {
		opts.MaxConsecutiveErrors = DefaultMaxConsecutiveErrors
	}
	if sink == nil {
		sink = Sinks{}
	}

	done := make(chan struct{})
	close(done)

	return &Monitor{
		engine:    engine,
		sink:      sink,
		observer:  opts.Observer,
		interval:  opts.PollInterval,
		maxErrors: opts.MaxConsecutiveErrors,
		logger:    logger.With(zap.String("device", engine.Name())),
		state:     types.MonitoringStopped,
		done:      done,
	}
}

// Start launches the loop. ctx bounds the loop's lifetime in addition to Stop.
func (m *Monitor) Start(ctx context.Context) error {
	if len(m.engine.Specs()) == 0 {
		return ErrNoRegisters
	}

	m.mu.Lock()
	if m.state != types.MonitoringStopped {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.state = types.MonitoringRunning
	m.consecutiveErrors = 0
	m.lastErr = nil
	m.exitErr = nil
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	m.notify(types.MonitoringRunning, nil)
	m.logger.Info("Monitoring started",
		zap.Duration("interval", m.interval),
		zap.Int("registers", len(m.engine.Specs())))

	go m.run(loopCtx, cancel, done)
	return nil
}

// Stop cancels the inter-pass wait and blocks until the loop has exited. An
// in-flight pass is allowed to complete.
func (m *Monitor) Stop() {
	m.mu.Lock()
	done := m.done
	if m.state != types.MonitoringRunning {
		m.mu.Unlock()
		<-done
		return
	}
	m.state = types.MonitoringStopping
	cancel := m.cancel
	m.mu.Unlock()

	m.notify(types.MonitoringStopping, nil)
	cancel()
	<-done

	m.logger.Info("Monitoring stopped")
}

// Done is closed when the current (or last) loop has exited.
func (m *Monitor) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

// Wait blocks until the loop exits and returns ErrMonitoringAborted if the
// circuit breaker tripped, nil otherwise.
func (m *Monitor) Wait() error {
	<-m.Done()

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exitErr
}

func (m *Monitor) State() types.MonitoringState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Monitor) Status() MonitorStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MonitorStatus{
		State:             m.state,
		ConsecutiveErrors: m.consecutiveErrors,
		LastPassAt:        m.lastPassAt,
		LastError:         m.lastErr,
	}
}

func (m *Monitor) ConsecutiveErrors() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consecutiveErrors
}

func (m *Monitor) run(ctx context.Context, cancel context.CancelFunc, done chan struct{}) {
	var exitErr error
	defer func() {
		cancel()

		m.mu.Lock()
		m.state = types.MonitoringStopped
		m.exitErr = exitErr
		m.cancel = nil
		m.mu.Unlock()

		m.notify(types.MonitoringStopped, exitErr)
		close(done)
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		if m.cycle(ctx) {
			exitErr = ErrMonitoringAborted
			m.logger.Error("Monitoring aborted",
				zap.Int("consecutive_errors", m.ConsecutiveErrors()),
				zap.Int("max_consecutive_errors", m.maxErrors))
			return
		}

		timer := time.NewTimer(m.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// cycle runs one connect/read/publish iteration and reports whether the
// error ceiling was reached. Stop does not interrupt it.
func (m *Monitor) cycle(ctx context.Context) bool {
	passCtx := context.WithoutCancel(ctx)
	conn := m.engine.Connection()

	if !conn.Connected() {
		m.logger.Warn("Connection lost, attempting to reconnect")
		if err := conn.Connect(passCtx); err != nil {
			m.logger.Warn("Reconnect failed", zap.Error(err))
			return m.recordFailure(err)
		}
	}

	pass := m.engine.ReadAll(passCtx)

	aborted := false
	if pass.AllFailed() {
		aborted = m.recordFailure(pass.FirstError())
		m.logger.Warn("No data received",
			zap.Int("consecutive_errors", m.ConsecutiveErrors()))
	} else {
		m.recordSuccess(pass.Timestamp)
		if failed := pass.Failures(); failed > 0 {
			m.logger.Warn("Partial pass", zap.Int("failed", failed), zap.Int("registers", len(pass.Readings)))
		}
	}

	if err := m.sink.Publish(passCtx, pass); err != nil {
		m.logger.Error("Failed to publish pass", zap.Error(err))
	} else {
		m.logger.Debug("Pass published", zap.Int("readings", len(pass.Readings)))
	}

	return aborted
}

func (m *Monitor) recordFailure(err error) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consecutiveErrors++
	m.lastErr = err
	return m.consecutiveErrors >= m.maxErrors
}

func (m *Monitor) recordSuccess(at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consecutiveErrors = 0
	m.lastErr = nil
	m.lastPassAt = at
}

func (m *Monitor) notify(state types.MonitoringState, err error) {
	if m.observer != nil {
		m.observer.MonitoringChanged(m.engine.Name(), state, err)
	}
}
