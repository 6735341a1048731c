package modbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/ModbusMonitor/internal/types"
	"go.uber.org/zap/zaptest"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// fakeTransport is an in-memory register bank that answers like the
// goburrow client (payloads without the byte count prefix).
type fakeTransport struct {
	mu sync.Mutex

	holding  map[uint16]uint16
	input    map[uint16]uint16
	coils    map[uint16]bool
	discrete map[uint16]bool

	connectErr error
	readErr    error
	writeErr   error
	failAddr   map[uint16]error
	delay      time.Duration
	timeouts   int // the next reads fail with timeoutError

	// gate, when set, holds every read and write until it is closed.
	// reached receives once per held call.
	gate    chan struct{}
	reached chan struct{}

	connects int
	closes   int
	reads    int
	writes   int

	inFlight    int
	maxInFlight int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		holding:  make(map[uint16]uint16),
		input:    make(map[uint16]uint16),
		coils:    make(map[uint16]bool),
		discrete: make(map[uint16]bool),
		failAddr: make(map[uint16]error),
	}
}

func (f *fakeTransport) dialer() Dialer {
	return func(types.ConnectionConfig) Transport { return f }
}

func (f *fakeTransport) enter() {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	delay := f.delay
	gate, reached := f.gate, f.reached
	f.mu.Unlock()

	if gate != nil {
		if reached != nil {
			reached <- struct{}{}
		}
		<-gate
	}
	if delay > 0 {
		time.Sleep(delay)
	}
}

func (f *fakeTransport) leave() {
	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
}

func (f *fakeTransport) set(fn func(*fakeTransport)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeTransport) counts() (connects, reads, writes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.reads, f.writes
}

func (f *fakeTransport) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

func (f *fakeTransport) Connect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return f.connectErr
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeTransport) readWords(bank map[uint16]uint16, address, quantity uint16) ([]byte, error) {
	f.enter()
	defer f.leave()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.timeouts > 0 {
		f.timeouts--
		return nil, timeoutError{}
	}
	if f.readErr != nil {
		return nil, f.readErr
	}
	if err := f.failAddr[address]; err != nil {
		return nil, err
	}
	words := make([]uint16, quantity)
	for i := range words {
		words[i] = bank[address+uint16(i)]
	}
	return encodeRegisters(words), nil
}

func (f *fakeTransport) readBits(bank map[uint16]bool, address, quantity uint16) ([]byte, error) {
	f.enter()
	defer f.leave()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.timeouts > 0 {
		f.timeouts--
		return nil, timeoutError{}
	}
	if f.readErr != nil {
		return nil, f.readErr
	}
	if err := f.failAddr[address]; err != nil {
		return nil, err
	}
	bits := make([]uint16, quantity)
	for i := range bits {
		if bank[address+uint16(i)] {
			bits[i] = 1
		}
	}
	return encodeBits(bits), nil
}

func (f *fakeTransport) ReadCoils(address, quantity uint16) ([]byte, error) {
	return f.readBits(f.coils, address, quantity)
}

func (f *fakeTransport) ReadDiscreteInputs(address, quantity uint16) ([]byte, error) {
	return f.readBits(f.discrete, address, quantity)
}

func (f *fakeTransport) ReadHoldingRegisters(address, quantity uint16) ([]byte, error) {
	return f.readWords(f.holding, address, quantity)
}

func (f *fakeTransport) ReadInputRegisters(address, quantity uint16) ([]byte, error) {
	return f.readWords(f.input, address, quantity)
}

func (f *fakeTransport) write(fn func()) ([]byte, error) {
	f.enter()
	defer f.leave()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	if f.writeErr != nil {
		return nil, f.writeErr
	}
	fn()
	return []byte{}, nil
}

func (f *fakeTransport) WriteSingleCoil(address, value uint16) ([]byte, error) {
	return f.write(func() { f.coils[address] = value == coilOn })
}

func (f *fakeTransport) WriteMultipleCoils(address, quantity uint16, value []byte) ([]byte, error) {
	return f.write(func() {
		bits, _ := decodeBits(value, quantity)
		for i, b := range bits {
			f.coils[address+uint16(i)] = b == 1
		}
	})
}

func (f *fakeTransport) WriteSingleRegister(address, value uint16) ([]byte, error) {
	return f.write(func() { f.holding[address] = value })
}

func (f *fakeTransport) WriteMultipleRegisters(address, quantity uint16, value []byte) ([]byte, error) {
	return f.write(func() {
		words, _ := decodeRegisters(value, quantity)
		for i, w := range words {
			f.holding[address+uint16(i)] = w
		}
	})
}

func testConfig() types.ConnectionConfig {
	return types.ConnectionConfig{
		Host:         "127.0.0.1",
		Port:         502,
		UnitID:       1,
		Timeout:      time.Second,
		MaxRetries:   0,
		PollInterval: 5 * time.Millisecond,
	}
}

func newTestConnection(t *testing.T, fake *fakeTransport, cfg types.ConnectionConfig) *Connection {
	t.Helper()
	conn, err := NewConnection(cfg, fake.dialer(), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewConnection() err=%v", err)
	}
	return conn
}

func connected(t *testing.T, fake *fakeTransport) *Connection {
	t.Helper()
	conn := newTestConnection(t, fake, testConfig())
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() err=%v", err)
	}
	return conn
}
