package modbus

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"syscall"

	"github.com/KevinKickass/ModbusMonitor/internal/types"
	"github.com/goburrow/modbus"
)

// ErrorKind classifies connection, read and write failures.
type ErrorKind int

const (
	KindUnreachable ErrorKind = iota + 1
	KindRefused
	KindTimeout
	KindNotConnected
	KindProtocol
	KindUnsupported
	KindInvalidValue
)

var (
	ErrUnreachable  = errors.New("device unreachable")
	ErrRefused      = errors.New("connection refused")
	ErrTimeout      = errors.New("timeout")
	ErrNotConnected = errors.New("not connected")
	ErrProtocol     = errors.New("protocol error")
	ErrUnsupported  = errors.New("operation not supported for register kind")
	ErrInvalidValue = errors.New("invalid value")

	// ErrMonitoringAborted marks a loop that stopped itself after too many
	// consecutive failed cycles.
	ErrMonitoringAborted = errors.New("monitoring aborted: max consecutive errors reached")
	ErrAlreadyRunning    = errors.New("monitoring already running")
	ErrNoRegisters       = errors.New("no registers configured")
)

var kindSentinels = map[ErrorKind]error{
	KindUnreachable:  ErrUnreachable,
	KindRefused:      ErrRefused,
	KindTimeout:      ErrTimeout,
	KindNotConnected: ErrNotConnected,
	KindProtocol:     ErrProtocol,
	KindUnsupported:  ErrUnsupported,
	KindInvalidValue: ErrInvalidValue,
}

func (k ErrorKind) sentinel() error {
	if err, ok := kindSentinels[k]; ok {
		return err
	}
	return ErrProtocol
}

func (k ErrorKind) String() string {
	return k.sentinel().Error()
}

func joinCause(kind ErrorKind, err error) []error {
	if err == nil {
		return []error{kind.sentinel()}
	}
	return []error{kind.sentinel(), err}
}

func describe(kind ErrorKind, err error) string {
	if err == nil {
		return kind.String()
	}
	return fmt.Sprintf("%s: %v", kind, err)
}

// ConnectError is returned by Connection.Connect.
type ConnectError struct {
	Kind     ErrorKind
	Endpoint string
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %s", e.Endpoint, describe(e.Kind, e.Err))
}

func (e *ConnectError) Unwrap() []error {
	return joinCause(e.Kind, e.Err)
}

// ReadError is returned by register reads.
type ReadError struct {
	Kind     ErrorKind
	Register types.RegisterKind
	Address  uint16
	Count    uint16
	Err      error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read %s %d+%d: %s", e.Register, e.Address, e.Count, describe(e.Kind, e.Err))
}

func (e *ReadError) Unwrap() []error {
	return joinCause(e.Kind, e.Err)
}

// WriteError is returned by register writes.
type WriteError struct {
	Kind     ErrorKind
	Register types.RegisterKind
	Address  uint16
	Err      error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s %d: %s", e.Register, e.Address, describe(e.Kind, e.Err))
}

func (e *WriteError) Unwrap() []error {
	return joinCause(e.Kind, e.Err)
}

// KindOf extracts the ErrorKind from any error produced by this package.
func KindOf(err error) (ErrorKind, bool) {
	var connErr *ConnectError
	if errors.As(err, &connErr) {
		return connErr.Kind, true
	}
	var readErr *ReadError
	if errors.As(err, &readErr) {
		return readErr.Kind, true
	}
	var writeErr *WriteError
	if errors.As(err, &writeErr) {
		return writeErr.Kind, true
	}
	return 0, false
}

func classifyConnect(err error) ErrorKind {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return KindRefused
	}
	if isTimeout(err) {
		return KindTimeout
	}
	return KindUnreachable
}

// classify maps a transport failure to a kind and reports whether the
// transport signaled the connection as gone.
func classify(err error) (ErrorKind, bool) {
	var mbErr *modbus.ModbusError
	if errors.As(err, &mbErr) {
		return KindProtocol, false
	}
	if isTimeout(err) {
		return KindTimeout, false
	}
	if isClosed(err) || isDesynced(err) {
		return KindProtocol, true
	}
	return KindProtocol, false
}

// isDesynced matches goburrow's header verification errors. Once a response
// belongs to another request the stream cannot be trusted anymore.
func isDesynced(err error) bool {
	return strings.Contains(err.Error(), "does not match request")
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isClosed(err error) bool {
	if errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	// goburrow redials inside Send; a failed redial surfaces as a dial OpError
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}
