package safety

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/LeeeWayyy/execution-core/pkg/response"
)

// GinHandlers contains HTTP handlers for kill-switch control endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// EngageHandler handles POST requests to engage the kill switch
func (h *GinHandlers) EngageHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req EngageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		state, err := h.service.Engage(req.Operator, req.Reason)
		if err != nil {
			if isValidation(err) {
				response.ValidationFailed(c, err.Error())
				return
			}
			response.InternalError(c, err.Error())
			return
		}

		response.Success(c, state)
	}
}

// DisengageHandler handles POST requests to disengage the kill switch.
// The route is additionally protected by elevated-role middleware.
func (h *GinHandlers) DisengageHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req DisengageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		state, err := h.service.Disengage(req.Operator, req.Reason, req.Confirmation)
		if err != nil {
			if isValidation(err) {
				response.ValidationFailed(c, err.Error())
				return
			}
			response.InternalError(c, err.Error())
			return
		}

		response.Success(c, state)
	}
}

// StatusHandler handles GET requests for the current safety state
func (h *GinHandlers) StatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		state, err := h.service.Status()
		response.Handle(c, state, err)
	}
}

// AuditHandler handles GET requests for the kill-switch audit log
func (h *GinHandlers) AuditHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
		events, err := h.service.Audit(limit)
		response.Handle(c, events, err)
	}
}

// HeartbeatHandler handles POST requests reporting circuit-breaker state
// from the market-data pipeline. Internal route.
func (h *GinHandlers) HeartbeatHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req HeartbeatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		if err := h.service.RecordHeartbeat(req.State); err != nil {
			response.ValidationFailed(c, err.Error())
			return
		}

		response.Success(c, gin.H{"state": req.State})
	}
}

func isValidation(err error) bool {
	return errors.Is(err, ErrReasonTooShort) ||
		errors.Is(err, ErrOperatorRequired) ||
		errors.Is(err, ErrConfirmationMissing)
}
