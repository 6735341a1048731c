package rest

import (
	"errors"
	"net/http"

	"github.com/KevinKickass/ModbusMonitor/internal/devices"
	"github.com/KevinKickass/ModbusMonitor/internal/modbus"
	"github.com/KevinKickass/ModbusMonitor/internal/storage"
	"github.com/KevinKickass/ModbusMonitor/internal/types"
	"github.com/gin-gonic/gin"
)

// statusFor maps core errors to an HTTP status and API error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, devices.ErrDeviceNotFound):
		return http.StatusNotFound, types.CodeNotFound
	case errors.Is(err, devices.ErrRegistryClosed):
		return http.StatusServiceUnavailable, types.CodeUnavailable
	case errors.Is(err, storage.ErrNoData):
		return http.StatusNotFound, types.CodeNoData
	case errors.Is(err, modbus.ErrAlreadyRunning):
		return http.StatusConflict, types.CodeAlreadyRunning
	case errors.Is(err, modbus.ErrNoRegisters):
		return http.StatusBadRequest, types.CodeNoRegisters
	}

	kind, ok := modbus.KindOf(err)
	if !ok {
		return http.StatusInternalServerError, types.CodeInternal
	}
	switch kind {
	case modbus.KindNotConnected:
		return http.StatusConflict, types.CodeNotConnected
	case modbus.KindTimeout:
		return http.StatusGatewayTimeout, types.CodeTimeout
	case modbus.KindUnsupported, modbus.KindInvalidValue:
		return http.StatusBadRequest, types.CodeBadRequest
	default:
		// unreachable, refused, protocol
		return http.StatusBadGateway, types.CodeDeviceFailure
	}
}

func (s *Server) respondError(c *gin.Context, message string, err error) {
	status, code := statusFor(err)
	_ = c.Error(err)
	c.JSON(status, types.NewErrorResponse(code, message, err.Error()))
}

func badRequest(c *gin.Context, message string, err error) {
	c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeBadRequest, message, err.Error()))
}
