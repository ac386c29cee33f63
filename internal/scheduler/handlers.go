package scheduler

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/LeeeWayyy/execution-core/internal/execution"
	"github.com/LeeeWayyy/execution-core/internal/safety"
	"github.com/LeeeWayyy/execution-core/internal/types"
	"github.com/LeeeWayyy/execution-core/pkg/response"
)

// GinHandlers provides HTTP handlers for sliced order submission
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

type slicedOrderResponse struct {
	Parent *types.Order `json:"parent"`
	Run    *SliceRun    `json:"run"`
}

// SubmitSlicedHandler handles POST /api/v1/orders/sliced.
func (h *GinHandlers) SubmitSlicedHandler(c *gin.Context) {
	var req types.SlicedOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationFailed(c, "Invalid request: "+err.Error())
		return
	}

	parent, run, err := h.service.SubmitSliced(c.Request.Context(), c.GetString("client_id"), &req)
	if err != nil {
		var denial *safety.DenialError
		var validation *execution.ValidationError
		switch {
		case errors.As(err, &denial):
			response.SafetyDenied(c, denial.Reason)
		case errors.As(err, &validation):
			response.ValidationFailed(c, validation.Message)
		case errors.Is(err, ErrTooManySlices), errors.Is(err, ErrBadWindow):
			response.ValidationFailed(c, err.Error())
		default:
			log.Error().Err(err).Str("component", "scheduler").Msg("sliced submission failed")
			response.InternalError(c, "An unexpected error occurred")
		}
		return
	}

	response.Success(c, slicedOrderResponse{Parent: parent, Run: run})
}

// GetRunHandler handles GET /api/v1/orders/sliced/:run_id.
func (h *GinHandlers) GetRunHandler(c *gin.Context) {
	run, err := h.service.GetRun(c.Param("run_id"))
	if err != nil {
		response.NotFound(c, "Run not found")
		return
	}
	response.Success(c, run)
}
