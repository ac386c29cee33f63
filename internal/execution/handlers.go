package execution

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/LeeeWayyy/execution-core/internal/safety"
	"github.com/LeeeWayyy/execution-core/internal/types"
	"github.com/LeeeWayyy/execution-core/pkg/response"
)

// GinHandlers provides HTTP handlers for order submission and cancellation
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// SubmitOrderHandler handles POST /api/v1/orders. A request whose
// idempotency key matches an existing order returns that order with 200
// instead of 201; the broker is never called twice for the same intent.
func (h *GinHandlers) SubmitOrderHandler(c *gin.Context) {
	var req types.OrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationFailed(c, "Invalid request: "+err.Error())
		return
	}

	order, created, err := h.service.Submit(c.Request.Context(), clientID(c), &req)
	if err != nil {
		h.renderError(c, err)
		return
	}

	if !created {
		response.SuccessExisting(c, order)
		return
	}
	response.Success(c, order)
}

// CancelOrderHandler handles POST /api/v1/orders/:order_id/cancel.
func (h *GinHandlers) CancelOrderHandler(c *gin.Context) {
	order, err := h.service.Cancel(c.Request.Context(), clientID(c), c.Param("order_id"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	response.Success(c, order)
}

// GetOrderHandler handles GET /api/v1/orders/:order_id.
func (h *GinHandlers) GetOrderHandler(c *gin.Context) {
	order, err := h.service.GetOrder(clientID(c), c.Param("order_id"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	response.Success(c, order)
}

// ListChildOrdersHandler handles GET /api/v1/orders/:order_id/children.
func (h *GinHandlers) ListChildOrdersHandler(c *gin.Context) {
	if _, err := h.service.GetOrder(clientID(c), c.Param("order_id")); err != nil {
		h.renderError(c, err)
		return
	}
	children, err := h.service.Store().ListByParent(c.Param("order_id"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	response.Success(c, children)
}

func (h *GinHandlers) renderError(c *gin.Context, err error) {
	var denial *safety.DenialError
	var validation *ValidationError

	switch {
	case errors.As(err, &denial):
		response.SafetyDenied(c, denial.Reason)
	case errors.As(err, &validation):
		response.ValidationFailed(c, validation.Message)
	case errors.Is(err, ErrOrderNotFound):
		response.NotFound(c, "Order not found")
	default:
		log.Error().Err(err).Str("component", "execution").Msg("order request failed")
		response.InternalError(c, "An unexpected error occurred")
	}
}

func clientID(c *gin.Context) string {
	return c.GetString("client_id")
}
