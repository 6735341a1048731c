package report

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/KevinKickass/ModbusMonitor/internal/types"
)

func TestComputeStats(t *testing.T) {
	st := ComputeStats([]uint16{0x3C3A, 10, 20})
	if st.Min != 10 || st.Max != 0x3C3A {
		t.Fatalf("stats=%+v", st)
	}
	want := float64(0x3C3A+30) / 3
	if st.Average != want {
		t.Fatalf("avg=%v want %v", st.Average, want)
	}
	if (ComputeStats(nil) != Stats{}) {
		t.Fatal("empty input should give zero stats")
	}
}

func TestActiveBits(t *testing.T) {
	got := ActiveBits(100, []uint16{1, 0, 0, 1, 1})
	if !reflect.DeepEqual(got, []int{100, 103, 104}) {
		t.Fatalf("active=%v", got)
	}
}

func TestConsoleSink_Publish(t *testing.T) {
	var buf bytes.Buffer
	sink := NewConsoleSink(&buf)

	now := time.Now()
	pass := types.PassResult{
		DeviceID:  "press",
		Timestamp: now,
		Readings: []types.RegisterReading{
			types.NewReading(types.RegisterSpec{Name: "Holding_1-2", Kind: types.RegisterHolding, Address: 1, Count: 2}, []uint16{0x3C3A, 7}, now),
			types.NewReading(types.RegisterSpec{Kind: types.RegisterCoil, Address: 0, Count: 4}, []uint16{0, 1, 0, 1}, now),
			types.FailedReading(types.RegisterSpec{Kind: types.RegisterInput, Address: 30, Count: 1}, errors.New("timeout"), now),
		},
	}
	if err := sink.Publish(context.Background(), pass); err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	for _, want := range []string{
		"press",
		"3 readings, 1 failed",
		"Holding_1-2 (holding @ 1 / 0x0001)",
		"0x3C3A",
		"15418",
		"min 7 (0x0007)",
		"max 15418 (0x3C3A)",
		"active: [1 3]",
		"input_30",
		"error: timeout",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
