package types

import (
	"encoding/json"
	"testing"
	"time"
)

var testDefaults = DefinitionDefaults{
	Port:         502,
	UnitID:       1,
	Timeout:      Duration(3 * time.Second),
	Retries:      3,
	PollInterval: Duration(2 * time.Second),
}

func intPtr(v int) *int { return &v }

func TestResolve_Defaults(t *testing.T) {
	def := DeviceDefinition{
		Name:      "press",
		Host:      "10.0.0.5",
		Registers: []RegisterSpec{{Kind: RegisterHolding, Address: 1, Count: 26}},
	}

	cfg, specs, err := def.Resolve(testDefaults)
	if err != nil {
		t.Fatalf("Resolve() err=%v", err)
	}
	if cfg.Port != 502 || cfg.UnitID != 1 || cfg.Timeout != 3*time.Second || cfg.MaxRetries != 3 || cfg.PollInterval != 2*time.Second {
		t.Fatalf("cfg=%+v", cfg)
	}
	if cfg.Address() != "10.0.0.5:502" {
		t.Fatalf("address=%s", cfg.Address())
	}
	if len(specs) != 1 {
		t.Fatalf("specs=%d", len(specs))
	}
}

func TestResolve_Overrides(t *testing.T) {
	def := DeviceDefinition{
		Name:         "press",
		Host:         "plc.local",
		Port:         1502,
		UnitID:       intPtr(0),
		Retries:      intPtr(0),
		Timeout:      Duration(500 * time.Millisecond),
		PollInterval: Duration(time.Second),
		Registers:    []RegisterSpec{{Kind: RegisterCoil, Count: 16}},
	}

	cfg, _, err := def.Resolve(testDefaults)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 1502 || cfg.UnitID != 0 || cfg.MaxRetries != 0 || cfg.Timeout != 500*time.Millisecond {
		t.Fatalf("cfg=%+v", cfg)
	}
}

func TestResolve_AddressRangeShorthand(t *testing.T) {
	def := DeviceDefinition{Name: "press", Host: "plc", StartAddress: intPtr(1), EndAddress: intPtr(26)}

	_, specs, err := def.Resolve(testDefaults)
	if err != nil {
		t.Fatal(err)
	}
	if len(specs) != 1 {
		t.Fatalf("specs=%d want 1", len(specs))
	}
	s := specs[0]
	if s.Kind != RegisterHolding || s.Address != 1 || s.Count != 26 || s.Name != "Holding_1-26" {
		t.Fatalf("spec=%+v", s)
	}
}

func TestResolve_Errors(t *testing.T) {
	cases := map[string]DeviceDefinition{
		"no name":         {Host: "plc"},
		"no host":         {Name: "x"},
		"half range":      {Name: "x", Host: "plc", StartAddress: intPtr(1)},
		"inverted range":  {Name: "x", Host: "plc", StartAddress: intPtr(10), EndAddress: intPtr(1)},
		"range too large": {Name: "x", Host: "plc", StartAddress: intPtr(0), EndAddress: intPtr(200)},
		"bad unit":        {Name: "x", Host: "plc", UnitID: intPtr(300)},
		"bad register":    {Name: "x", Host: "plc", Registers: []RegisterSpec{{Kind: RegisterHolding}}},
	}
	for name, def := range cases {
		if _, _, err := def.Resolve(testDefaults); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestDurationJSON(t *testing.T) {
	var def DeviceDefinition
	raw := `{"name":"a","host":"b","timeout":"1.5s","poll_interval":2}`
	if err := json.Unmarshal([]byte(raw), &def); err != nil {
		t.Fatal(err)
	}
	if def.Timeout.Std() != 1500*time.Millisecond || def.PollInterval.Std() != 2*time.Second {
		t.Fatalf("timeout=%s poll=%s", def.Timeout.Std(), def.PollInterval.Std())
	}

	out, err := json.Marshal(Duration(3 * time.Second))
	if err != nil || string(out) != `"3s"` {
		t.Fatalf("marshal=%s err=%v", out, err)
	}

	if err := json.Unmarshal([]byte(`"soon"`), new(Duration)); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}
