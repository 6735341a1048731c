package rest

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// GET /api/v1/devices/:name/data/latest
func (s *Server) latestData(c *gin.Context) {
	pass, err := s.lm.Store().Latest(c.Request.Context(), c.Param("name"))
	if err != nil {
		s.respondError(c, "No data available", err)
		return
	}
	c.JSON(http.StatusOK, pass)
}

// GET /api/v1/devices/:name/data/history?limit=100
func (s *Server) dataHistory(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			badRequest(c, "Invalid limit", errors.New("limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	name := c.Param("name")
	passes, err := s.lm.Store().History(c.Request.Context(), name, limit)
	if err != nil {
		s.respondError(c, "Failed to load history", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"device":  name,
		"count":   len(passes),
		"history": passes,
	})
}
