package modbus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/KevinKickass/ModbusMonitor/internal/types"
	"go.uber.org/zap"
)

// Connection owns the transport to one device. All transport operations are
// serialized through opMu; the state can be read from any goroutine.
type Connection struct {
	cfg    types.ConnectionConfig
	dial   Dialer
	logger *zap.Logger

	stateMu sync.RWMutex
	state   types.ConnectionState

	opMu      sync.Mutex
	transport Transport
}

func NewConnection(cfg types.ConnectionConfig, dial Dialer, logger *zap.Logger) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid connection config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if dial == nil {
		dial = TCPDialer(logger)
	}

	return &Connection{
		cfg:    cfg,
		dial:   dial,
		logger: logger.With(zap.String("endpoint", cfg.Address())),
		state:  types.Disconnected,
	}, nil
}

func (c *Connection) Config() types.ConnectionConfig {
	return c.cfg
}

func (c *Connection) Endpoint() string {
	return c.cfg.Address()
}

func (c *Connection) State() types.ConnectionState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

func (c *Connection) Connected() bool {
	return c.State() == types.Connected
}

func (c *Connection) setState(s types.ConnectionState) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

// Connect opens the transport. Calling it while connected is a no-op.
func (c *Connection) Connect(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.Connected() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return &ConnectError{Kind: KindTimeout, Endpoint: c.Endpoint(), Err: err}
	}

	c.setState(types.Connecting)
	if c.transport == nil {
		c.transport = c.dial(c.cfg)
	}

	if err := c.transport.Connect(); err != nil {
		c.setState(types.Disconnected)
		return &ConnectError{Kind: classifyConnect(err), Endpoint: c.Endpoint(), Err: err}
	}

	c.setState(types.Connected)
	c.logger.Info("Connected to Modbus device", zap.Int("unit_id", c.cfg.UnitID))
	return nil
}

// Disconnect closes the transport on a best effort basis. Safe to call
// repeatedly.
func (c *Connection) Disconnect() {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	wasConnected := c.Connected()
	c.closeTransport()
	if wasConnected {
		c.logger.Info("Disconnected from Modbus device")
	}
}

// closeTransport expects opMu to be held.
func (c *Connection) closeTransport() {
	if c.transport != nil {
		if err := c.transport.Close(); err != nil {
			c.logger.Warn("Error closing Modbus transport", zap.Error(err))
		}
	}
	c.setState(types.Disconnected)
}

// do runs fn against the transport under the op lock. Timeouts are retried
// up to MaxRetries times on a fresh socket; anything else fails immediately.
// A timeout that is not retried leaves the connection Disconnected. A kind of
// 0 means success.
func (c *Connection) do(ctx context.Context, fn func(Transport) error) (ErrorKind, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if !c.Connected() || c.transport == nil {
		return KindNotConnected, nil
	}

	var err error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err == nil {
				err = ctxErr
			}
			return KindTimeout, err
		}
		if attempt > 0 {
			c.logger.Debug("Retrying Modbus request", zap.Int("attempt", attempt), zap.Error(err))
		}

		if err = fn(c.transport); err == nil {
			return 0, nil
		}

		kind, closed := classify(err)
		if closed {
			c.logger.Warn("Modbus transport closed", zap.Error(err))
			c.closeTransport()
			return kind, err
		}
		if kind != KindTimeout {
			return kind, err
		}

		// Eine verspätete Antwort bleibt im Socket liegen und würde der
		// nächsten Anfrage zugeordnet. Deshalb wird neu verbunden.
		c.closeTransport()
		if attempt == c.cfg.MaxRetries {
			break
		}
		if connErr := c.transport.Connect(); connErr != nil {
			c.logger.Warn("Reconnect after timeout failed", zap.Error(connErr))
			return classifyConnect(connErr), fmt.Errorf("reconnect after timeout: %w", connErr)
		}
		c.setState(types.Connected)
	}
	return KindTimeout, err
}

// ReadRegisters reads count addresses of the given kind. count is passed to
// the device unchanged.
func (c *Connection) ReadRegisters(ctx context.Context, kind types.RegisterKind, address, count uint16) ([]uint16, error) {
	if !kind.Valid() {
		return nil, &ReadError{Kind: KindProtocol, Register: kind, Address: address, Count: count, Err: types.ErrUnknownRegisterKind}
	}

	var values []uint16
	errKind, err := c.do(ctx, func(t Transport) error {
		raw, err := readFunc(t, kind)(address, count)
		if err != nil {
			return err
		}
		if kind.IsBit() {
			values, err = decodeBits(raw, count)
		} else {
			values, err = decodeRegisters(raw, count)
		}
		return err
	})
	if errKind != 0 {
		return nil, &ReadError{Kind: errKind, Register: kind, Address: address, Count: count, Err: err}
	}
	return values, nil
}

func readFunc(t Transport, kind types.RegisterKind) func(address, quantity uint16) ([]byte, error) {
	switch kind {
	case types.RegisterCoil:
		return t.ReadCoils
	case types.RegisterDiscrete:
		return t.ReadDiscreteInputs
	case types.RegisterInput:
		return t.ReadInputRegisters
	default:
		return t.ReadHoldingRegisters
	}
}

// checkWrite validates kind and values before any transport I/O.
func checkWrite(kind types.RegisterKind, address uint16, values []int) ([]uint16, *WriteError) {
	if !kind.Writable() {
		return nil, &WriteError{Kind: KindUnsupported, Register: kind, Address: address}
	}
	if len(values) == 0 {
		return nil, &WriteError{Kind: KindInvalidValue, Register: kind, Address: address, Err: errors.New("no values")}
	}
	if int(address)+len(values) > 0x10000 {
		return nil, &WriteError{Kind: KindInvalidValue, Register: kind, Address: address,
			Err: fmt.Errorf("%d values exceed address space", len(values))}
	}

	words := make([]uint16, len(values))
	for i, v := range values {
		if v < 0 || v > kind.MaxValue() {
			return nil, &WriteError{Kind: KindInvalidValue, Register: kind, Address: address,
				Err: fmt.Errorf("value %d at offset %d outside 0-%d", v, i, kind.MaxValue())}
		}
		words[i] = uint16(v)
	}
	return words, nil
}

// WriteSingle writes one holding register or coil.
func (c *Connection) WriteSingle(ctx context.Context, kind types.RegisterKind, address uint16, value int) error {
	words, werr := checkWrite(kind, address, []int{value})
	if werr != nil {
		return werr
	}

	errKind, err := c.do(ctx, func(t Transport) error {
		if kind == types.RegisterCoil {
			_, err := t.WriteSingleCoil(address, coilWord(words[0]))
			return err
		}
		_, err := t.WriteSingleRegister(address, words[0])
		return err
	})
	if errKind != 0 {
		return &WriteError{Kind: errKind, Register: kind, Address: address, Err: err}
	}
	return nil
}

// WriteMultiple writes consecutive holding registers or coils starting at address.
func (c *Connection) WriteMultiple(ctx context.Context, kind types.RegisterKind, address uint16, values []int) error {
	words, werr := checkWrite(kind, address, values)
	if werr != nil {
		return werr
	}

	quantity := uint16(len(words))
	errKind, err := c.do(ctx, func(t Transport) error {
		if kind == types.RegisterCoil {
			_, err := t.WriteMultipleCoils(address, quantity, encodeBits(words))
			return err
		}
		_, err := t.WriteMultipleRegisters(address, quantity, encodeRegisters(words))
		return err
	})
	if errKind != 0 {
		return &WriteError{Kind: errKind, Register: kind, Address: address, Err: err}
	}
	return nil
}
