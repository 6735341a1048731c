package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// RegisterKind is one of the four Modbus data classes.
type RegisterKind int

const (
	RegisterHolding RegisterKind = iota + 1
	RegisterInput
	RegisterCoil
	RegisterDiscrete
)

var ErrUnknownRegisterKind = errors.New("unknown register kind")

type kindInfo struct {
	name     string
	writable bool
	bitWide  bool
	maxRead  uint16 // protocol limit per request
}

var registerKinds = map[RegisterKind]kindInfo{
	RegisterHolding:  {name: "holding", writable: true, bitWide: false, maxRead: 125},
	RegisterInput:    {name: "input", writable: false, bitWide: false, maxRead: 125},
	RegisterCoil:     {name: "coil", writable: true, bitWide: true, maxRead: 2000},
	RegisterDiscrete: {name: "discrete", writable: false, bitWide: true, maxRead: 2000},
}

// Aliases accepted from config files and the REST layer.
var registerKindAliases = map[string]RegisterKind{
	"holding":          RegisterHolding,
	"holding_register": RegisterHolding,
	"input":            RegisterInput,
	"input_register":   RegisterInput,
	"coil":             RegisterCoil,
	"coils":            RegisterCoil,
	"discrete":         RegisterDiscrete,
	"discrete_input":   RegisterDiscrete,
	"discrete_inputs":  RegisterDiscrete,
}

func ParseRegisterKind(s string) (RegisterKind, error) {
	kind, ok := registerKindAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownRegisterKind, s)
	}
	return kind, nil
}

func (k RegisterKind) Valid() bool {
	_, ok := registerKinds[k]
	return ok
}

func (k RegisterKind) String() string {
	if info, ok := registerKinds[k]; ok {
		return info.name
	}
	return fmt.Sprintf("RegisterKind(%d)", int(k))
}

// Writable reports whether the protocol defines write functions for the kind.
func (k RegisterKind) Writable() bool {
	return registerKinds[k].writable
}

// IsBit reports whether values of the kind are single bits (coils, discrete inputs).
func (k RegisterKind) IsBit() bool {
	return registerKinds[k].bitWide
}

// MaxValue is the largest value a single address of this kind can hold.
func (k RegisterKind) MaxValue() int {
	if k.IsBit() {
		return 1
	}
	return 0xFFFF
}

// MaxQuantity is the per-request read limit of the protocol.
func (k RegisterKind) MaxQuantity() uint16 {
	return registerKinds[k].maxRead
}

func (k RegisterKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRegisterKind, int(k))
	}
	return []byte(k.String()), nil
}

func (k *RegisterKind) UnmarshalText(text []byte) error {
	kind, err := ParseRegisterKind(string(text))
	if err != nil {
		return err
	}
	*k = kind
	return nil
}

// RegisterSpec describes one named range polled on every pass.
type RegisterSpec struct {
	Name    string       `json:"name,omitempty"`
	Address uint16       `json:"address"`
	Count   uint16       `json:"count"`
	Kind    RegisterKind `json:"kind"`
}

// DisplayName returns the configured name or "<kind>_<address>".
func (s RegisterSpec) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return fmt.Sprintf("%s_%d", s.Kind, s.Address)
}

func (s RegisterSpec) Validate() error {
	if !s.Kind.Valid() {
		return fmt.Errorf("register %s: %w", s.DisplayName(), ErrUnknownRegisterKind)
	}
	if s.Count == 0 {
		return fmt.Errorf("register %s: count must be positive", s.DisplayName())
	}
	if s.Count > s.Kind.MaxQuantity() {
		return fmt.Errorf("register %s: count %d exceeds %s limit %d",
			s.DisplayName(), s.Count, s.Kind, s.Kind.MaxQuantity())
	}
	if int(s.Address)+int(s.Count) > 0x10000 {
		return fmt.Errorf("register %s: range %d+%d exceeds address space", s.DisplayName(), s.Address, s.Count)
	}
	return nil
}

// RegisterReading is the outcome of reading one RegisterSpec.
// Exactly one of Values and Err is set; use NewReading and FailedReading.
type RegisterReading struct {
	Name      string
	Address   uint16
	Kind      RegisterKind
	Values    []uint16
	Timestamp time.Time
	Err       error
}

func NewReading(spec RegisterSpec, values []uint16, at time.Time) RegisterReading {
	if values == nil {
		values = []uint16{}
	}
	return RegisterReading{
		Name:      spec.DisplayName(),
		Address:   spec.Address,
		Kind:      spec.Kind,
		Values:    values,
		Timestamp: at,
	}
}

func FailedReading(spec RegisterSpec, err error, at time.Time) RegisterReading {
	if err == nil {
		err = errors.New("read failed")
	}
	return RegisterReading{
		Name:      spec.DisplayName(),
		Address:   spec.Address,
		Kind:      spec.Kind,
		Timestamp: at,
		Err:       err,
	}
}

func (r RegisterReading) OK() bool {
	return r.Err == nil
}

type readingJSON struct {
	Name      string       `json:"name"`
	Address   uint16       `json:"address"`
	Kind      RegisterKind `json:"kind"`
	Values    []uint16     `json:"values,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
	Error     string       `json:"error,omitempty"`
}

func (r RegisterReading) MarshalJSON() ([]byte, error) {
	out := readingJSON{
		Name:      r.Name,
		Address:   r.Address,
		Kind:      r.Kind,
		Values:    r.Values,
		Timestamp: r.Timestamp,
	}
	if r.Err != nil {
		out.Values = nil
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}

func (r *RegisterReading) UnmarshalJSON(data []byte) error {
	var in readingJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*r = RegisterReading{
		Name:      in.Name,
		Address:   in.Address,
		Kind:      in.Kind,
		Timestamp: in.Timestamp,
	}
	if in.Error != "" {
		r.Err = errors.New(in.Error)
		return nil
	}
	r.Values = in.Values
	if r.Values == nil {
		r.Values = []uint16{}
	}
	return nil
}

// PassResult is one complete read of every configured spec, in spec order.
type PassResult struct {
	DeviceID  string            `json:"device"`
	Timestamp time.Time         `json:"timestamp"`
	Readings  []RegisterReading `json:"data"`
}

// AllFailed is true when the pass has readings and none of them succeeded.
func (p PassResult) AllFailed() bool {
	if len(p.Readings) == 0 {
		return false
	}
	for _, r := range p.Readings {
		if r.OK() {
			return false
		}
	}
	return true
}

func (p PassResult) Failures() int {
	n := 0
	for _, r := range p.Readings {
		if !r.OK() {
			n++
		}
	}
	return n
}

// FirstError returns the first reading error of the pass, if any.
func (p PassResult) FirstError() error {
	for _, r := range p.Readings {
		if r.Err != nil {
			return r.Err
		}
	}
	return nil
}
