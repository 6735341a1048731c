package rest

import (
	"errors"
	"net/http"
	"time"

	"github.com/KevinKickass/ModbusMonitor/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GET /api/v1/devices
func (s *Server) listDevices(c *gin.Context) {
	devices := s.lm.Registry().List()

	c.JSON(http.StatusOK, gin.H{
		"devices": devices,
		"count":   len(devices),
	})
}

// GET /api/v1/devices/:name
func (s *Server) getDevice(c *gin.Context) {
	device, err := s.lm.Registry().Get(c.Param("name"))
	if err != nil {
		s.respondError(c, "device not found", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     device.Status(),
		"definition": device.Definition(),
	})
}

// POST /api/v1/devices
func (s *Server) configureDevice(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	def, err := s.lm.Validator().Decode(body)
	if err != nil {
		badRequest(c, "Invalid device definition", err)
		return
	}

	device, err := s.lm.Registry().Configure(c.Request.Context(), def)
	if err != nil {
		if device != nil {
			// registered, but not persisted
			s.logger.Error("Failed to persist device", zap.String("device", def.Name), zap.Error(err))
			s.respondError(c, "Device configured but not persisted", err)
			return
		}
		status, code := statusFor(err)
		if status == http.StatusInternalServerError {
			status, code = http.StatusBadRequest, types.CodeBadRequest
		}
		c.JSON(status, types.NewErrorResponse(code, "Failed to configure device", err.Error()))
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":      device.ID,
		"name":    device.Name(),
		"message": "Device configured successfully",
	})
}

// DELETE /api/v1/devices/:name
func (s *Server) deleteDevice(c *gin.Context) {
	if err := s.lm.Registry().Remove(c.Request.Context(), c.Param("name")); err != nil {
		s.respondError(c, "Failed to delete device", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Device deleted successfully",
	})
}

// POST /api/v1/devices/:name/connect
func (s *Server) connectDevice(c *gin.Context) {
	name := c.Param("name")
	if err := s.lm.Registry().Connect(c.Request.Context(), name); err != nil {
		s.respondError(c, "Failed to connect", err)
		return
	}
	s.respondStatus(c, name)
}

// POST /api/v1/devices/:name/disconnect
func (s *Server) disconnectDevice(c *gin.Context) {
	name := c.Param("name")
	if err := s.lm.Registry().Disconnect(name); err != nil {
		s.respondError(c, "Failed to disconnect", err)
		return
	}
	s.respondStatus(c, name)
}

// POST /api/v1/devices/:name/start
func (s *Server) startMonitoring(c *gin.Context) {
	name := c.Param("name")
	if err := s.lm.Registry().StartMonitoring(name); err != nil {
		s.respondError(c, "Failed to start monitoring", err)
		return
	}
	s.respondStatus(c, name)
}

// POST /api/v1/devices/:name/stop
func (s *Server) stopMonitoring(c *gin.Context) {
	name := c.Param("name")
	if err := s.lm.Registry().StopMonitoring(name); err != nil {
		s.respondError(c, "Failed to stop monitoring", err)
		return
	}
	s.respondStatus(c, name)
}

// GET /api/v1/devices/:name/status
func (s *Server) deviceStatus(c *gin.Context) {
	s.respondStatus(c, c.Param("name"))
}

func (s *Server) respondStatus(c *gin.Context, name string) {
	status, err := s.lm.Registry().Status(name)
	if err != nil {
		s.respondError(c, "device not found", err)
		return
	}
	c.JSON(http.StatusOK, status)
}

type readQuery struct {
	Kind    string `form:"kind" binding:"required"`
	Address uint16 `form:"address"`
	Count   uint16 `form:"count"`
}

// GET /api/v1/devices/:name/read?kind=holding&address=0&count=10
func (s *Server) readRegisters(c *gin.Context) {
	var q readQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, "Invalid query", err)
		return
	}
	kind, err := types.ParseRegisterKind(q.Kind)
	if err != nil {
		badRequest(c, "Invalid register kind", err)
		return
	}
	if q.Count == 0 {
		q.Count = 1
	}

	name := c.Param("name")
	values, err := s.lm.Registry().ReadOnDemand(c.Request.Context(), name, kind, q.Address, q.Count)
	if err != nil {
		s.respondError(c, "Read failed", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"device":    name,
		"kind":      kind,
		"address":   q.Address,
		"count":     q.Count,
		"values":    values,
		"timestamp": time.Now().Unix(),
	})
}

type writeRequest struct {
	Kind    string  `json:"kind" binding:"required"`
	Address *uint16 `json:"address" binding:"required"`
	Value   *int    `json:"value"`
	Values  []int   `json:"values"`
}

// POST /api/v1/devices/:name/write
func (s *Server) writeRegisters(c *gin.Context) {
	var req writeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	kind, err := types.ParseRegisterKind(req.Kind)
	if err != nil {
		badRequest(c, "Invalid register kind", err)
		return
	}

	values := req.Values
	switch {
	case req.Value != nil && len(values) > 0:
		badRequest(c, "Invalid request body", errors.New("set either value or values"))
		return
	case req.Value != nil:
		values = []int{*req.Value}
	case len(values) == 0:
		badRequest(c, "Invalid request body", errors.New("value or values is required"))
		return
	}

	name := c.Param("name")
	if err := s.lm.Registry().WriteOnDemand(c.Request.Context(), name, kind, *req.Address, values); err != nil {
		s.respondError(c, "Write failed", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Registers written successfully",
		"kind":    kind,
		"address": *req.Address,
		"values":  values,
	})
}

// POST /api/v1/devices/:name/registers
func (s *Server) addRegister(c *gin.Context) {
	var spec types.RegisterSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		badRequest(c, "Invalid register", err)
		return
	}
	if err := spec.Validate(); err != nil {
		badRequest(c, "Invalid register", err)
		return
	}

	name := c.Param("name")
	if err := s.lm.Registry().AddRegister(c.Request.Context(), name, spec); err != nil {
		s.respondError(c, "Failed to add register", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"device":   name,
		"register": spec,
		"name":     spec.DisplayName(),
	})
}
