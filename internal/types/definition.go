package types

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// DeviceDefinition is the persisted/configured description of one device.
// Zero values are filled from DefinitionDefaults.
type DeviceDefinition struct {
	Name         string         `json:"name"`
	Host         string         `json:"host"`
	Port         int            `json:"port,omitempty"`
	UnitID       *int           `json:"unit_id,omitempty"`
	Timeout      Duration       `json:"timeout,omitempty"`
	Retries      *int           `json:"retries,omitempty"`
	PollInterval Duration       `json:"poll_interval,omitempty"`
	Debug        bool           `json:"debug,omitempty"`
	Registers    []RegisterSpec `json:"registers,omitempty"`

	// Shorthand for a single holding range, inclusive on both ends.
	StartAddress *int `json:"start_address,omitempty"`
	EndAddress   *int `json:"end_address,omitempty"`
}

// StoredDefinition is a definition together with the id it was registered under.
type StoredDefinition struct {
	ID         uuid.UUID
	Definition DeviceDefinition
}

type DefinitionDefaults struct {
	Port         int
	UnitID       int
	Timeout      Duration
	Retries      int
	PollInterval Duration
}

// Resolve applies defaults and expands the address-range shorthand.
func (d DeviceDefinition) Resolve(defaults DefinitionDefaults) (ConnectionConfig, []RegisterSpec, error) {
	if d.Name == "" {
		return ConnectionConfig{}, nil, errors.New("device name is required")
	}

	cfg := ConnectionConfig{
		Host:         d.Host,
		Port:         d.Port,
		UnitID:       defaults.UnitID,
		Timeout:      d.Timeout.Std(),
		MaxRetries:   defaults.Retries,
		PollInterval: d.PollInterval.Std(),
		Debug:        d.Debug,
	}
	if cfg.Port == 0 {
		cfg.Port = defaults.Port
	}
	if d.UnitID != nil {
		cfg.UnitID = *d.UnitID
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaults.Timeout.Std()
	}
	if d.Retries != nil {
		cfg.MaxRetries = *d.Retries
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = defaults.PollInterval.Std()
	}
	if err := cfg.Validate(); err != nil {
		return ConnectionConfig{}, nil, fmt.Errorf("device %s: %w", d.Name, err)
	}

	specs := make([]RegisterSpec, 0, len(d.Registers)+1)
	specs = append(specs, d.Registers...)

	if d.StartAddress != nil || d.EndAddress != nil {
		if d.StartAddress == nil || d.EndAddress == nil {
			return ConnectionConfig{}, nil, fmt.Errorf("device %s: start_address and end_address must be set together", d.Name)
		}
		start, end := *d.StartAddress, *d.EndAddress
		if start < 0 || end < start || end > 0xFFFF {
			return ConnectionConfig{}, nil, fmt.Errorf("device %s: invalid address range %d-%d", d.Name, start, end)
		}
		specs = append(specs, RegisterSpec{
			Name:    fmt.Sprintf("Holding_%d-%d", start, end),
			Address: uint16(start),
			Count:   uint16(end - start + 1),
			Kind:    RegisterHolding,
		})
	}

	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			return ConnectionConfig{}, nil, fmt.Errorf("device %s: %w", d.Name, err)
		}
	}

	return cfg, specs, nil
}
