package rest

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenRVCore/internal/command"
	"github.com/KevinKickass/OpenRVCore/internal/types"
)

const maxCommandBody = 64 << 10

// POST /api/v1/commands
//
// The body is a command request: {"command_type", "entity_id", "action",
// "value"}. It runs through the same pipeline as broker commands.
func (s *Server) sendCommand(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCommandBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("bad_request", "failed to read body", err.Error()))
		return
	}

	result := s.lm.Gateway().Execute(c.Request.Context(), command.SourceREST, body)
	if result.OK() {
		c.JSON(http.StatusOK, result)
		return
	}

	s.logger.Debug("REST command rejected",
		zap.String("entity_id", result.EntityID),
		zap.String("error_code", result.ErrorCode))
	c.JSON(commandStatus(result.ErrorCode), types.NewErrorResponse(result.ErrorCode, result.ErrorMessage, result))
}

// commandStatus maps a command error code to an HTTP status.
func commandStatus(code string) int {
	switch code {
	case types.CodeUnparseableRequest:
		return http.StatusBadRequest
	case types.CodeEntityDenied, types.CodeEntityNotAllowed, types.CodeCommandTypeDenied:
		return http.StatusForbidden
	case types.CodeGlobalRateLimit, types.CodeEntityRateLimit, types.CodeEntityCooldown:
		return http.StatusTooManyRequests
	case types.CodeEntityNotFound:
		return http.StatusNotFound
	case types.CodeTransmissionFailed:
		return http.StatusBadGateway
	case types.CodeUnexpectedException:
		return http.StatusInternalServerError
	}
	return http.StatusUnprocessableEntity
}

// GET /api/v1/audit?entity_id=&limit=
func (s *Server) listAudit(c *gin.Context) {
	history := s.lm.AuditHistory()
	if history == nil {
		c.JSON(http.StatusServiceUnavailable, types.NewErrorResponse("unavailable", "audit history needs a database", nil))
		return
	}

	limit := 100
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, types.NewErrorResponse("bad_request", "limit must be a positive integer", nil))
			return
		}
		limit = n
	}

	entries, err := history.RecentAudit(c.Request.Context(), c.Query("entity_id"), limit)
	if err != nil {
		s.logger.Error("Audit query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("internal", "failed to read audit history", nil))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}
