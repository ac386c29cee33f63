package reconcile

import (
	"encoding/json"
	"io"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/LeeeWayyy/execution-core/internal/types"
	"github.com/LeeeWayyy/execution-core/pkg/response"
)

// signatureHeader carries the hex HMAC of the raw request body.
const signatureHeader = "X-Broker-Signature"

// maxWebhookBody bounds how much of a webhook request is read.
const maxWebhookBody = 1 << 20

// GinHandlers provides the broker webhook endpoint
type GinHandlers struct {
	service  *Service
	verifier *Verifier
}

func NewGinHandlers(service *Service, verifier *Verifier) *GinHandlers {
	return &GinHandlers{service: service, verifier: verifier}
}

// WebhookHandler handles POST /api/v1/webhooks/broker. The signature is
// checked over the raw body before any parsing; events the service chooses
// to drop still return 200 so the broker stops redelivering them.
func (h *GinHandlers) WebhookHandler(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		response.BadRequest(c, "Unreadable request body")
		return
	}

	if err := h.verifier.Verify(body, c.GetHeader(signatureHeader)); err != nil {
		log.Warn().Err(err).Str("component", "reconcile").Msg("rejected webhook delivery")
		response.Unauthorized(c, "Invalid webhook signature")
		return
	}

	var event types.WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		response.BadRequest(c, "Malformed event payload")
		return
	}
	if event.BrokerOrderID == "" || event.EventType == "" {
		response.ValidationFailed(c, "broker_order_id and event_type are required")
		return
	}

	if err := h.service.Apply(&event); err != nil {
		log.Error().Err(err).Str("component", "reconcile").Msg("failed to apply broker event")
		response.InternalError(c, "Failed to process event")
		return
	}

	response.SuccessExisting(c, gin.H{"received": true})
}
