// Package report renders pass results for humans.
package report

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/KevinKickass/ModbusMonitor/internal/types"
)

// ConsoleSink prints every pass as a table. Word registers show address,
// hex and decimal value plus statistics; bit kinds list the set addresses.
type ConsoleSink struct {
	mu  sync.Mutex
	out io.Writer
}

func NewConsoleSink(out io.Writer) *ConsoleSink {
	return &ConsoleSink{out: out}
}

// Stats summarizes the values of one word reading.
type Stats struct {
	Average float64
	Min     uint16
	Max     uint16
}

func ComputeStats(values []uint16) Stats {
	if len(values) == 0 {
		return Stats{}
	}
	st := Stats{Min: values[0], Max: values[0]}
	var sum float64
	for _, v := range values {
		sum += float64(v)
		if v < st.Min {
			st.Min = v
		}
		if v > st.Max {
			st.Max = v
		}
	}
	st.Average = sum / float64(len(values))
	return st
}

// ActiveBits returns the addresses whose bit is set.
func ActiveBits(start uint16, values []uint16) []int {
	var active []int
	for i, v := range values {
		if v != 0 {
			active = append(active, int(start)+i)
		}
	}
	return active
}

func (s *ConsoleSink) Publish(_ context.Context, pass types.PassResult) error {
	var b strings.Builder
	rule := strings.Repeat("=", 72)

	fmt.Fprintf(&b, "\n%s\n%s  %s  %d readings, %d failed\n%s\n",
		rule, pass.DeviceID, pass.Timestamp.Format("2006-01-02 15:04:05.000"),
		len(pass.Readings), pass.Failures(), rule)

	for _, r := range pass.Readings {
		writeReading(&b, r)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := io.WriteString(s.out, b.String())
	return err
}

func writeReading(b *strings.Builder, r types.RegisterReading) {
	fmt.Fprintf(b, "\n%s (%s @ %d / 0x%04X)\n", r.Name, r.Kind, r.Address, r.Address)

	if !r.OK() {
		fmt.Fprintf(b, "   error: %v\n", r.Err)
		return
	}

	if r.Kind.IsBit() {
		fmt.Fprintf(b, "   active: %v\n", ActiveBits(r.Address, r.Values))
		return
	}

	tw := tabwriter.NewWriter(b, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "   Address\tHex\tDecimal\t")
	for i, v := range r.Values {
		fmt.Fprintf(tw, "   %d\t0x%04X\t%d\t\n", int(r.Address)+i, v, v)
	}
	tw.Flush()

	st := ComputeStats(r.Values)
	fmt.Fprintf(b, "   avg %.2f (0x%04X)  min %d (0x%04X)  max %d (0x%04X)\n",
		st.Average, int(st.Average), st.Min, st.Min, st.Max, st.Max)
}
