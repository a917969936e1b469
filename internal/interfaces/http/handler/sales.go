package handler

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lojatextil/erp/internal/application/checkout"
	"github.com/lojatextil/erp/internal/domain/payment"
	"github.com/lojatextil/erp/internal/domain/sales"
	"github.com/lojatextil/erp/internal/interfaces/http/dto"
)

// CheckoutService is the sale checkout use case
type CheckoutService interface {
	CreateSale(ctx context.Context, in sales.NewSaleInput) (*sales.Sale, error)
	GetSale(ctx context.Context, saleID uuid.UUID) (*sales.Sale, error)
	StartGatewayCheckout(ctx context.Context, saleID uuid.UUID, backURLs payment.BackURLs) (*checkout.Session, error)
	ChargeCard(ctx context.Context, in checkout.ChargeCardInput) (*checkout.ChargeResult, error)
}

// SalesHandler opens sales and takes them to payment
type SalesHandler struct {
	BaseHandler
	checkout CheckoutService
	now      func() time.Time
}

// NewSalesHandler creates a new SalesHandler
func NewSalesHandler(checkout CheckoutService) *SalesHandler {
	return &SalesHandler{checkout: checkout, now: time.Now}
}

// Create opens a sale.
//
//	POST /api/v1/sales
func (h *SalesHandler) Create(c *gin.Context) {
	var req dto.CreateSaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.ValidationError(c, err)
		return
	}

	sale, err := h.checkout.CreateSale(c.Request.Context(), req.ToDomainInput(h.now()))
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Created(c, dto.NewSaleResponse(sale))
}

// Get returns a sale with its payment linkage.
//
//	GET /api/v1/sales/:id
func (h *SalesHandler) Get(c *gin.Context) {
	saleID, ok := h.parseIDParam(c)
	if !ok {
		return
	}

	sale, err := h.checkout.GetSale(c.Request.Context(), saleID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, dto.NewSaleResponse(sale))
}

// StartCheckout opens a hosted checkout for a gateway sale. The body is
// optional; without back URLs the configured ones apply.
//
//	POST /api/v1/sales/:id/checkout
func (h *SalesHandler) StartCheckout(c *gin.Context) {
	saleID, ok := h.parseIDParam(c)
	if !ok {
		return
	}

	var req dto.StartCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		h.ValidationError(c, err)
		return
	}

	session, err := h.checkout.StartGatewayCheckout(c.Request.Context(), saleID, req.ToBackURLs())
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Created(c, session)
}

// Charge charges a tokenized card for the sale total.
//
//	POST /api/v1/sales/:id/charge
func (h *SalesHandler) Charge(c *gin.Context) {
	saleID, ok := h.parseIDParam(c)
	if !ok {
		return
	}

	var req dto.ChargeCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.ValidationError(c, err)
		return
	}

	result, err := h.checkout.ChargeCard(c.Request.Context(), req.ToInput(saleID))
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, dto.NewChargeResponse(result))
}
