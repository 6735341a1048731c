package main

import (
	"reflect"
	"testing"
	"time"

	"github.com/KevinKickass/ModbusMonitor/internal/types"
	"github.com/spf13/viper"
)

func TestParseValues(t *testing.T) {
	got, err := parseValues("100, 0xC8,0x12C")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []int{100, 200, 300}) {
		t.Fatalf("values=%v", got)
	}

	for _, bad := range []string{"", "abc", "70000", "-1", "1,,2"} {
		if _, err := parseValues(bad); err == nil {
			t.Errorf("parseValues(%q) expected error", bad)
		}
	}
}

func TestParseRegister(t *testing.T) {
	spec, err := parseRegister("coils:0x10:16")
	if err != nil {
		t.Fatal(err)
	}
	if spec.Kind != types.RegisterCoil || spec.Address != 16 || spec.Count != 16 {
		t.Fatalf("spec=%+v", spec)
	}

	for _, bad := range []string{"coil:1", "analog:0:1", "input:x:1", "input:0:0", "holding:0:200"} {
		if _, err := parseRegister(bad); err == nil {
			t.Errorf("parseRegister(%q) expected error", bad)
		}
	}
}

func TestDefinitionFromFlags(t *testing.T) {
	fs := newFlagSet()
	err := fs.Parse([]string{
		"--host", "10.0.0.5", "--port", "1502", "--unit", "3",
		"--interval", "500ms", "--start", "10", "--end", "19",
		"--register", "input:30:2",
	})
	if err != nil {
		t.Fatal(err)
	}
	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		t.Fatal(err)
	}

	def, err := definitionFrom(v)
	if err != nil {
		t.Fatal(err)
	}
	if def.Retries != nil {
		t.Errorf("retries should fall back to config, got %d", *def.Retries)
	}

	cfg, specs, err := def.Resolve(types.DefinitionDefaults{
		Port: 502, UnitID: 1, Timeout: types.Duration(time.Second), Retries: 3,
		PollInterval: types.Duration(2 * time.Second),
	})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Address() != "10.0.0.5:1502" || cfg.UnitID != 3 || cfg.PollInterval != 500*time.Millisecond || cfg.MaxRetries != 3 {
		t.Fatalf("cfg=%+v", cfg)
	}
	if len(specs) != 2 || specs[0].Kind != types.RegisterInput || specs[1].Name != "Holding_10-19" || specs[1].Count != 10 {
		t.Fatalf("specs=%+v", specs)
	}
}
