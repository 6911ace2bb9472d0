package rest

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// GET /health
func (s *Server) healthCheck(c *gin.Context) {
	gw := s.lm.Gateway()
	transport := gw.TransportConnected()
	broker := gw.BrokerConnected()

	status := "ok"
	if !transport || !broker {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":              status,
		"timestamp":           time.Now().Unix(),
		"transport_connected": transport,
		"broker_connected":    broker,
	})
}

// GET /api/v1/status
func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.lm.GetCurrentStatus())
}
