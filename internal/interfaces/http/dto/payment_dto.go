package dto

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lojatextil/erp/internal/application/checkout"
	"github.com/lojatextil/erp/internal/application/reconciliation"
	"github.com/lojatextil/erp/internal/domain/payment"
	"github.com/lojatextil/erp/internal/domain/sales"
	"github.com/shopspring/decimal"
)

// ErrMalformedNotification is returned when a webhook body is not valid JSON
var ErrMalformedNotification = errors.New("malformed notification body")

// ---------------------------------------------------------------------------
// Webhook
// ---------------------------------------------------------------------------

// resourceID accepts ids sent either as JSON strings or numbers
type resourceID string

func (r *resourceID) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*r = resourceID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*r = resourceID(n.String())
	return nil
}

// WebhookNotificationRequest is the Mercado Pago notification body
type WebhookNotificationRequest struct {
	Type   string `json:"type"`
	Topic  string `json:"topic"`
	Action string `json:"action"`
	Data   struct {
		ID resourceID `json:"id"`
	} `json:"data"`
	// Resource is used by the older feed format, either an id or a URL
	Resource string `json:"resource"`
	LiveMode bool   `json:"live_mode"`
}

// ParseWebhookNotification reads a notification from its body and the legacy
// query forms ?topic=payment&id=<id> and ?type=payment&data.id=<id>. Body
// fields win over query fields. An empty body is allowed.
func ParseWebhookNotification(body []byte, query url.Values) (payment.Notification, error) {
	var req WebhookNotificationRequest
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			return payment.Notification{}, ErrMalformedNotification
		}
	}

	n := payment.Notification{
		Type:       firstNonEmpty(req.Type, req.Topic, query.Get("type"), query.Get("topic")),
		Action:     req.Action,
		ResourceID: firstNonEmpty(string(req.Data.ID), resourceFromURL(req.Resource), query.Get("data.id"), query.Get("id")),
		LiveMode:   req.LiveMode,
	}
	return n, nil
}

// resourceFromURL takes the last path segment of a resource URL such as
// https://api.mercadolibre.com/collections/notifications/123
func resourceFromURL(resource string) string {
	resource = strings.TrimSpace(resource)
	if resource == "" {
		return ""
	}
	if i := strings.LastIndex(resource, "/"); i >= 0 {
		resource = resource[i+1:]
	}
	if _, err := strconv.ParseInt(resource, 10, 64); err != nil {
		return ""
	}
	return resource
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// WebhookAckResponse acknowledges a notification
type WebhookAckResponse struct {
	Status     reconciliation.WebhookStatus `json:"status"`
	Outcome    reconciliation.Outcome       `json:"outcome,omitempty"`
	SaleID     string                       `json:"sale_id,omitempty"`
	Strategy   string                       `json:"strategy,omitempty"`
	ArchiveKey string                       `json:"archive_key,omitempty"`
}

// NewWebhookAckResponse builds the acknowledgement of a handled notification
func NewWebhookAckResponse(r *reconciliation.WebhookResult) WebhookAckResponse {
	resp := WebhookAckResponse{Status: r.Status, ArchiveKey: r.ArchiveKey}
	if r.Result != nil {
		resp.Outcome = r.Result.Outcome
		resp.Strategy = r.Result.Strategy
		if r.Result.SaleID != uuid.Nil {
			resp.SaleID = r.Result.SaleID.String()
		}
	}
	return resp
}

// ---------------------------------------------------------------------------
// Reconciliation
// ---------------------------------------------------------------------------

// RefreshPaymentRequest is the optional body of a manual refresh
type RefreshPaymentRequest struct {
	PaymentID    string `json:"payment_id" binding:"omitempty,max=64,gateway_id"`
	PreferenceID string `json:"preference_id" binding:"omitempty,max=128,gateway_id"`
	Force        bool   `json:"force"`
}

// ReconciliationResultResponse is a reconciliation result as returned by the API
type ReconciliationResultResponse struct {
	Matched        bool                      `json:"matched"`
	Outcome        reconciliation.Outcome    `json:"outcome"`
	SaleID         string                    `json:"sale_id,omitempty"`
	SaleNumber     string                    `json:"sale_number,omitempty"`
	PreviousStatus sales.PaymentStatus       `json:"previous_status,omitempty"`
	Status         sales.PaymentStatus       `json:"status,omitempty"`
	PaymentID      string                    `json:"payment_id,omitempty"`
	Strategy       string                    `json:"strategy,omitempty"`
	Confidence     reconciliation.Confidence `json:"confidence,omitempty"`
	Message        string                    `json:"message,omitempty"`
}

// NewReconciliationResultResponse converts a reconciliation result; nil stays nil
func NewReconciliationResultResponse(r *reconciliation.Result) *ReconciliationResultResponse {
	if r == nil {
		return nil
	}
	resp := &ReconciliationResultResponse{
		Matched:        r.Matched(),
		Outcome:        r.Outcome,
		SaleNumber:     r.SaleNumber,
		PreviousStatus: r.PreviousStatus,
		Status:         r.NewStatus,
		PaymentID:      r.PaymentID,
		Strategy:       r.Strategy,
		Confidence:     r.Confidence,
		Message:        r.Message,
	}
	if r.SaleID != uuid.Nil {
		resp.SaleID = r.SaleID.String()
	}
	return resp
}

// ListSweepJobsRequest holds the query of the sweep job listing
type ListSweepJobsRequest struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=50"`
}

// ---------------------------------------------------------------------------
// Sales & checkout
// ---------------------------------------------------------------------------

// SaleLineRequest is one line of a new sale
type SaleLineRequest struct {
	ProductID   string          `json:"product_id" binding:"required,uuid"`
	VariantID   string          `json:"variant_id" binding:"omitempty,uuid"`
	Description string          `json:"description" binding:"max=200"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// CreateSaleRequest opens a sale
type CreateSaleRequest struct {
	SaleDate      *time.Time        `json:"sale_date"`
	Discount      decimal.Decimal   `json:"discount"`
	Tax           decimal.Decimal   `json:"tax"`
	PaymentMethod string            `json:"payment_method" binding:"required,oneof=cash card pix gateway"`
	Installments  int               `json:"installments" binding:"omitempty,min=1,max=24"`
	Lines         []SaleLineRequest `json:"lines" binding:"required,min=1,dive"`
}

// ToDomainInput converts the request. IDs were validated by binding.
func (r *CreateSaleRequest) ToDomainInput(now time.Time) sales.NewSaleInput {
	in := sales.NewSaleInput{
		SaleDate:      now,
		Discount:      r.Discount,
		Tax:           r.Tax,
		PaymentMethod: sales.PaymentMethod(r.PaymentMethod),
		Installments:  r.Installments,
		Lines:         make([]sales.LineInput, len(r.Lines)),
	}
	if r.SaleDate != nil {
		in.SaleDate = *r.SaleDate
	}
	for i, l := range r.Lines {
		line := sales.LineInput{
			ProductID:   uuid.MustParse(l.ProductID),
			Description: l.Description,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
		}
		if l.VariantID != "" {
			v := uuid.MustParse(l.VariantID)
			line.VariantID = &v
		}
		in.Lines[i] = line
	}
	return in
}

// SaleLineResponse is one line of a sale
type SaleLineResponse struct {
	ID          string          `json:"id"`
	ProductID   string          `json:"product_id"`
	VariantID   string          `json:"variant_id,omitempty"`
	Description string          `json:"description,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

// SaleResponse is a sale as returned by the API
type SaleResponse struct {
	ID                   string              `json:"id"`
	SaleNumber           string              `json:"sale_number"`
	SaleDate             time.Time           `json:"sale_date"`
	Subtotal             decimal.Decimal     `json:"subtotal"`
	Discount             decimal.Decimal     `json:"discount"`
	Tax                  decimal.Decimal     `json:"tax"`
	Total                decimal.Decimal     `json:"total"`
	PaymentMethod        sales.PaymentMethod `json:"payment_method"`
	PaymentStatus        sales.PaymentStatus `json:"payment_status"`
	ExternalPaymentID    string              `json:"external_payment_id,omitempty"`
	ExternalPreferenceID string              `json:"external_preference_id,omitempty"`
	Installments         int                 `json:"installments"`
	Lines                []SaleLineResponse  `json:"lines"`
	CreatedAt            time.Time           `json:"created_at"`
	UpdatedAt            time.Time           `json:"updated_at"`
}

// NewSaleResponse converts a domain sale
func NewSaleResponse(s *sales.Sale) SaleResponse {
	resp := SaleResponse{
		ID:                   s.ID.String(),
		SaleNumber:           s.SaleNumber,
		SaleDate:             s.SaleDate,
		Subtotal:             s.Subtotal,
		Discount:             s.Discount,
		Tax:                  s.Tax,
		Total:                s.Total,
		PaymentMethod:        s.PaymentMethod,
		PaymentStatus:        s.PaymentStatus,
		ExternalPaymentID:    s.PaymentID(),
		ExternalPreferenceID: s.PreferenceID(),
		Installments:         s.Installments,
		Lines:                make([]SaleLineResponse, len(s.Lines)),
		CreatedAt:            s.CreatedAt,
		UpdatedAt:            s.UpdatedAt,
	}
	for i, l := range s.Lines {
		line := SaleLineResponse{
			ID:          l.ID.String(),
			ProductID:   l.ProductID.String(),
			Description: l.Description,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			Subtotal:    l.Subtotal,
		}
		if l.VariantID != nil {
			line.VariantID = l.VariantID.String()
		}
		resp.Lines[i] = line
	}
	return resp
}

// StartCheckoutRequest holds optional redirect URLs for the hosted checkout
type StartCheckoutRequest struct {
	BackURLs struct {
		Success string `json:"success" binding:"omitempty,url"`
		Failure string `json:"failure" binding:"omitempty,url"`
		Pending string `json:"pending" binding:"omitempty,url"`
	} `json:"back_urls"`
}

// ToBackURLs converts the request
func (r *StartCheckoutRequest) ToBackURLs() payment.BackURLs {
	return payment.BackURLs{
		Success: r.BackURLs.Success,
		Failure: r.BackURLs.Failure,
		Pending: r.BackURLs.Pending,
	}
}

// ChargeCardRequest charges a tokenized card
type ChargeCardRequest struct {
	Token           string `json:"token" binding:"required,max=128"`
	PaymentMethodID string `json:"payment_method_id" binding:"required,max=32"`
	Installments    int    `json:"installments" binding:"omitempty,min=1,max=24"`
	PayerEmail      string `json:"payer_email" binding:"required,email"`
}

// ToInput converts the request. Zero installments keep the sale's own.
func (r *ChargeCardRequest) ToInput(saleID uuid.UUID) checkout.ChargeCardInput {
	return checkout.ChargeCardInput{
		SaleID:          saleID,
		Token:           r.Token,
		PaymentMethodID: r.PaymentMethodID,
		Installments:    r.Installments,
		PayerEmail:      r.PayerEmail,
	}
}

// ChargeResponse is the outcome of a card charge
type ChargeResponse struct {
	PaymentID      string                        `json:"payment_id"`
	GatewayStatus  payment.Status                `json:"gateway_status"`
	StatusDetail   string                        `json:"status_detail,omitempty"`
	Reconciliation *ReconciliationResultResponse `json:"reconciliation,omitempty"`
}

// NewChargeResponse converts a charge result
func NewChargeResponse(r *checkout.ChargeResult) ChargeResponse {
	return ChargeResponse{
		PaymentID:      r.PaymentID,
		GatewayStatus:  r.GatewayStatus,
		StatusDetail:   r.StatusDetail,
		Reconciliation: NewReconciliationResultResponse(r.Reconciliation),
	}
}
