package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lojatextil/erp/internal/application/reconciliation"
	"github.com/lojatextil/erp/internal/interfaces/http/dto"
)

// MaxWebhookBodySize bounds the notification body read from the gateway
const MaxWebhookBodySize = 64 << 10

// WebhookProcessor handles a received gateway notification
type WebhookProcessor interface {
	Handle(ctx context.Context, d reconciliation.WebhookDelivery) (*reconciliation.WebhookResult, error)
}

// WebhookHandler receives Mercado Pago notifications. The endpoint is
// public; authenticity comes from the x-signature header.
type WebhookHandler struct {
	BaseHandler
	processor WebhookProcessor
	now       func() time.Time
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(processor WebhookProcessor) *WebhookHandler {
	return &WebhookHandler{processor: processor, now: time.Now}
}

// HandleMercadoPago acknowledges every notification it could process,
// including duplicates, non-payment topics and deliveries deferred to the
// sweep. Only a bad signature, a malformed body or an internal failure make
// the gateway retry.
//
//	POST /api/v1/webhooks/mercadopago
func (h *WebhookHandler) HandleMercadoPago(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, MaxWebhookBodySize+1))
	if err != nil {
		h.BadRequest(c, "Failed to read request body")
		return
	}
	if len(body) > MaxWebhookBodySize {
		h.Error(c, http.StatusRequestEntityTooLarge, dto.ErrCodeBadRequest, "Notification body too large")
		return
	}

	notification, err := dto.ParseWebhookNotification(body, c.Request.URL.Query())
	if err != nil {
		h.Error(c, http.StatusBadRequest, dto.ErrCodeInvalidJSON, "Malformed notification body")
		return
	}

	result, err := h.processor.Handle(c.Request.Context(), reconciliation.WebhookDelivery{
		Notification:    notification,
		Payload:         body,
		SignatureHeader: c.GetHeader("x-signature"),
		RequestID:       c.GetHeader("x-request-id"),
		ReceivedAt:      h.now(),
	})
	if err != nil {
		if errors.Is(err, reconciliation.ErrInvalidNotification) {
			h.BadRequest(c, "Notification does not identify a resource")
			return
		}
		h.HandleError(c, err)
		return
	}

	h.Success(c, dto.NewWebhookAckResponse(result))
}
