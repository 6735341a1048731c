package types

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseRegisterKind(t *testing.T) {
	cases := map[string]RegisterKind{
		"holding":          RegisterHolding,
		"Holding_Register": RegisterHolding,
		" input ":          RegisterInput,
		"coils":            RegisterCoil,
		"discrete_inputs":  RegisterDiscrete,
	}
	for in, want := range cases {
		got, err := ParseRegisterKind(in)
		if err != nil || got != want {
			t.Errorf("ParseRegisterKind(%q) = %v, %v want %v", in, got, err, want)
		}
	}

	if _, err := ParseRegisterKind("analog"); !errors.Is(err, ErrUnknownRegisterKind) {
		t.Fatalf("err=%v want ErrUnknownRegisterKind", err)
	}
}

func TestRegisterKindCapabilities(t *testing.T) {
	if !RegisterHolding.Writable() || !RegisterCoil.Writable() {
		t.Error("holding and coil must be writable")
	}
	if RegisterInput.Writable() || RegisterDiscrete.Writable() {
		t.Error("input and discrete must be read-only")
	}
	if RegisterCoil.MaxValue() != 1 || RegisterHolding.MaxValue() != 65535 {
		t.Error("unexpected max values")
	}
	if RegisterHolding.MaxQuantity() != 125 || RegisterDiscrete.MaxQuantity() != 2000 {
		t.Error("unexpected read limits")
	}
	if RegisterKind(0).Valid() {
		t.Error("zero kind must be invalid")
	}
}

func TestRegisterSpecValidate(t *testing.T) {
	cases := []struct {
		name string
		spec RegisterSpec
		ok   bool
	}{
		{"ok", RegisterSpec{Kind: RegisterHolding, Address: 1, Count: 26}, true},
		{"zero count", RegisterSpec{Kind: RegisterHolding, Address: 1}, false},
		{"unknown kind", RegisterSpec{Address: 1, Count: 1}, false},
		{"over read limit", RegisterSpec{Kind: RegisterInput, Count: 126}, false},
		{"bits within limit", RegisterSpec{Kind: RegisterCoil, Count: 2000}, true},
		{"past address space", RegisterSpec{Kind: RegisterHolding, Address: 65535, Count: 2}, false},
		{"last address", RegisterSpec{Kind: RegisterHolding, Address: 65535, Count: 1}, true},
	}
	for _, tc := range cases {
		if err := tc.spec.Validate(); (err == nil) != tc.ok {
			t.Errorf("%s: Validate() err=%v", tc.name, err)
		}
	}
}

func TestRegisterSpecJSON(t *testing.T) {
	var spec RegisterSpec
	if err := json.Unmarshal([]byte(`{"address":10,"count":3,"kind":"holding_register"}`), &spec); err != nil {
		t.Fatal(err)
	}
	if spec.Kind != RegisterHolding || spec.DisplayName() != "holding_10" {
		t.Fatalf("spec=%+v name=%s", spec, spec.DisplayName())
	}

	out, err := json.Marshal(RegisterSpec{Name: "alarms", Kind: RegisterDiscrete, Address: 4, Count: 8})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), `"kind":"discrete"`) {
		t.Fatalf("json=%s", out)
	}
}

func TestReadingJSON(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	spec := RegisterSpec{Kind: RegisterHolding, Address: 1, Count: 2}

	ok, err := json.Marshal(NewReading(spec, []uint16{1, 2}, at))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(ok), `"error"`) {
		t.Fatalf("successful reading serialized an error: %s", ok)
	}

	failed, err := json.Marshal(FailedReading(spec, errors.New("timeout"), at))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(failed), `"values"`) || !strings.Contains(string(failed), `"error":"timeout"`) {
		t.Fatalf("failed reading json=%s", failed)
	}

	var back RegisterReading
	if err := json.Unmarshal(failed, &back); err != nil {
		t.Fatal(err)
	}
	if back.OK() || back.Err.Error() != "timeout" || back.Values != nil {
		t.Fatalf("decoded=%+v", back)
	}
}

func TestPassResultOutcome(t *testing.T) {
	spec := RegisterSpec{Kind: RegisterHolding, Count: 1}
	now := time.Now()
	boom := errors.New("boom")

	var empty PassResult
	if empty.AllFailed() {
		t.Error("empty pass must not count as failed")
	}

	failed := PassResult{Readings: []RegisterReading{FailedReading(spec, boom, now), FailedReading(spec, nil, now)}}
	if !failed.AllFailed() || failed.Failures() != 2 || !errors.Is(failed.FirstError(), boom) {
		t.Errorf("failed pass: all=%v failures=%d first=%v", failed.AllFailed(), failed.Failures(), failed.FirstError())
	}

	partial := PassResult{Readings: []RegisterReading{FailedReading(spec, boom, now), NewReading(spec, []uint16{7}, now)}}
	if partial.AllFailed() || partial.Failures() != 1 {
		t.Errorf("partial pass: all=%v failures=%d", partial.AllFailed(), partial.Failures())
	}
}
