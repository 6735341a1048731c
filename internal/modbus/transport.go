package modbus

import (
	"github.com/KevinKickass/ModbusMonitor/internal/types"
	"github.com/goburrow/modbus"
	"go.uber.org/zap"
)

// Transport is the wire-level capability a Connection drives. It matches the
// goburrow client functions plus explicit connect/close, so the TCP handler
// satisfies it directly. Implementations need not be safe for concurrent use.
type Transport interface {
	Connect() error
	Close() error

	ReadCoils(address, quantity uint16) ([]byte, error)
	ReadDiscreteInputs(address, quantity uint16) ([]byte, error)
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
	ReadInputRegisters(address, quantity uint16) ([]byte, error)

	WriteSingleCoil(address, value uint16) ([]byte, error)
	WriteMultipleCoils(address, quantity uint16, value []byte) ([]byte, error)
	WriteSingleRegister(address, value uint16) ([]byte, error)
	WriteMultipleRegisters(address, quantity uint16, value []byte) ([]byte, error)
}

// Dialer builds a fresh, unconnected Transport for a config.
type Dialer func(cfg types.ConnectionConfig) Transport

type tcpTransport struct {
	modbus.Client
	handler *modbus.TCPClientHandler
}

// NewTCPTransport wraps a goburrow TCP handler. Timeout applies to dialing
// and to every request round trip.
func NewTCPTransport(cfg types.ConnectionConfig, logger *zap.Logger) Transport {
	handler := modbus.NewTCPClientHandler(cfg.Address())
	handler.Timeout = cfg.Timeout
	handler.SlaveId = byte(cfg.UnitID)
	if cfg.Debug && logger != nil {
		handler.Logger = zap.NewStdLog(logger.Named("frames").With(zap.String("endpoint", cfg.Address())))
	}

	return &tcpTransport{
		Client:  modbus.NewClient(handler),
		handler: handler,
	}
}

func (t *tcpTransport) Connect() error {
	return t.handler.Connect()
}

func (t *tcpTransport) Close() error {
	return t.handler.Close()
}

// TCPDialer returns a Dialer producing Modbus TCP transports.
func TCPDialer(logger *zap.Logger) Dialer {
	return func(cfg types.ConnectionConfig) Transport {
		return NewTCPTransport(cfg, logger)
	}
}
