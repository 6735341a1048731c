package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// ConnectionConfig is immutable once a connection is built from it.
type ConnectionConfig struct {
	Host         string
	Port         int
	UnitID       int
	Timeout      time.Duration
	MaxRetries   int
	PollInterval time.Duration
	Debug        bool // log raw frames
}

func (c ConnectionConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c ConnectionConfig) Validate() error {
	if c.Host == "" {
		return errors.New("host is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range 1-65535", c.Port)
	}
	if c.UnitID < 0 || c.UnitID > 255 {
		return fmt.Errorf("unit id %d out of range 0-255", c.UnitID)
	}
	if c.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return errors.New("max retries must not be negative")
	}
	if c.PollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}
	return nil
}

type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type MonitoringState int

const (
	MonitoringStopped MonitoringState = iota
	MonitoringRunning
	MonitoringStopping
)

func (s MonitoringState) String() string {
	switch s {
	case MonitoringStopped:
		return "stopped"
	case MonitoringRunning:
		return "running"
	case MonitoringStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

func (s MonitoringState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// DeviceStatus is the snapshot returned by the control surface.
type DeviceStatus struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	Endpoint          string          `json:"endpoint"`
	Connection        ConnectionState `json:"connection"`
	Monitoring        MonitoringState `json:"monitoring"`
	ConsecutiveErrors int             `json:"consecutive_errors"`
	Registers         int             `json:"registers"`
	LastPassAt        *time.Time      `json:"last_pass_at,omitempty"`
	LastError         string          `json:"last_error,omitempty"`
}

// Duration accepts "1.5s" style strings or plain numbers of seconds.
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var seconds float64
	if err := json.Unmarshal(data, &seconds); err != nil {
		return fmt.Errorf("invalid duration %s: %w", data, err)
	}
	*d = Duration(seconds * float64(time.Second))
	return nil
}
