package modbus

import (
	"context"
	"errors"

	"github.com/KevinKickass/ModbusMonitor/internal/types"
)

// Sink receives every completed pass. Publishing is best effort: the monitor
// logs a returned error and keeps polling.
type Sink interface {
	Publish(ctx context.Context, pass types.PassResult) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, pass types.PassResult) error

func (f SinkFunc) Publish(ctx context.Context, pass types.PassResult) error {
	return f(ctx, pass)
}

// Sinks publishes to every member and joins their errors.
type Sinks []Sink

func (s Sinks) Publish(ctx context.Context, pass types.PassResult) error {
	var errs []error
	for _, sink := range s {
		if sink == nil {
			continue
		}
		if err := sink.Publish(ctx, pass); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Observer is told about every monitoring state transition. err is
// ErrMonitoringAborted when the loop gave up on its own.
type Observer interface {
	MonitoringChanged(device string, state types.MonitoringState, err error)
}

type Observers []Observer

func (o Observers) MonitoringChanged(device string, state types.MonitoringState, err error) {
	for _, obs := range o {
		if obs != nil {
			obs.MonitoringChanged(device, state, err)
		}
	}
}
