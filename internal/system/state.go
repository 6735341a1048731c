package system

import "fmt"

// SystemState is the state of the service process as a whole. Per device
// connection and monitoring states are tracked by the registry.
type SystemState int

const (
	StateInitializing SystemState = iota
	StateRunning
	StateStopping
	StateStopped
	StateError
)

var stateNames = [...]string{
	StateInitializing: "initializing",
	StateRunning:      "running",
	StateStopping:     "stopping",
	StateStopped:      "stopped",
	StateError:        "error",
}

func (s SystemState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

func (s SystemState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// next holds the states reachable from each state. Initializing may stop
// directly when startup is aborted by a signal.
var next = map[SystemState]map[SystemState]bool{
	StateInitializing: {StateRunning: true, StateStopping: true, StateError: true},
	StateRunning:      {StateStopping: true, StateError: true},
	StateStopping:     {StateStopped: true, StateError: true},
	StateStopped:      {StateInitializing: true},
	StateError:        {StateInitializing: true, StateStopping: true, StateStopped: true},
}

func (s SystemState) CanMoveTo(to SystemState) bool {
	return next[s][to]
}

func ValidateTransition(from, to SystemState) error {
	if _, known := next[from]; !known {
		return fmt.Errorf("unknown system state %d", int(from))
	}
	if !from.CanMoveTo(to) {
		return fmt.Errorf("system cannot move from %s to %s", from, to)
	}
	return nil
}
