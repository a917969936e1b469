package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Gateway Errors
// ---------------------------------------------------------------------------

var (
	ErrGatewayNotFound        = errors.New("payment: gateway object not found")
	ErrGatewayUnavailable     = errors.New("payment: gateway temporarily unavailable")
	ErrGatewayAuth            = errors.New("payment: gateway rejected credentials")
	ErrGatewayRequestFailed   = errors.New("payment: gateway request failed")
	ErrGatewayInvalidResponse = errors.New("payment: invalid gateway response")
	ErrGatewayNotConfigured   = errors.New("payment: gateway not configured")
	ErrInvalidSignature       = errors.New("payment: invalid notification signature")

	ErrInvalidPaymentID    = errors.New("payment: payment id is required")
	ErrInvalidPreferenceID = errors.New("payment: preference id is required")
	ErrInvalidAmount       = errors.New("payment: amount must be positive")
	ErrInvalidItems        = errors.New("payment: at least one item is required")
	ErrInvalidInstallments = errors.New("payment: installments must be at least 1")
	ErrInvalidToken        = errors.New("payment: card token is required")
)

// IsRetryable reports whether err is a transient gateway failure that a later
// attempt may resolve.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrGatewayUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}

// IsFatal reports whether err points at broken credentials or configuration.
func IsFatal(err error) bool {
	return errors.Is(err, ErrGatewayAuth) || errors.Is(err, ErrGatewayNotConfigured)
}

// ---------------------------------------------------------------------------
// Status
// ---------------------------------------------------------------------------

// Status is the raw payment status reported by the gateway.
type Status string

const (
	StatusPending     Status = "pending"
	StatusApproved    Status = "approved"
	StatusAuthorized  Status = "authorized"
	StatusInProcess   Status = "in_process"
	StatusInMediation Status = "in_mediation"
	StatusRejected    Status = "rejected"
	StatusCancelled   Status = "cancelled"
	StatusRefunded    Status = "refunded"
	StatusChargedBack Status = "charged_back"
)

// String returns the string representation of Status
func (s Status) String() string {
	return string(s)
}

// ---------------------------------------------------------------------------
// Gateway objects
// ---------------------------------------------------------------------------

// PaymentInfo is the gateway's view of a single payment.
type PaymentInfo struct {
	ID                string
	Status            Status
	StatusDetail      string
	TransactionAmount decimal.Decimal
	Installments      int
	PaymentMethodID   string
	ExternalReference string
	Metadata          map[string]any
	DateCreated       time.Time
	DateApproved      *time.Time
}

// SaleID returns the sale id the payment was tagged with at checkout, if any.
func (p *PaymentInfo) SaleID() (uuid.UUID, bool) {
	return MetadataSaleID(p.Metadata, p.ExternalReference)
}

// PreferenceInfo is the gateway's view of a checkout preference. PaymentIDs
// lists payments the gateway has associated with it so far and may be empty
// for a while after the buyer pays.
type PreferenceInfo struct {
	ID                string
	ExternalReference string
	Metadata          map[string]any
	PaymentIDs        []string
	DateCreated       time.Time
}

// SaleID returns the sale id carried by the preference, if any.
func (p *PreferenceInfo) SaleID() (uuid.UUID, bool) {
	return MetadataSaleID(p.Metadata, p.ExternalReference)
}

var saleIDMetadataKeys = []string{"sale_id", "saleId", "venda_id", "vendaId"}

// MetadataSaleID extracts a sale id from gateway metadata, falling back to the
// external reference.
func MetadataSaleID(metadata map[string]any, externalReference string) (uuid.UUID, bool) {
	for _, key := range saleIDMetadataKeys {
		raw, ok := metadata[key]
		if !ok || raw == nil {
			continue
		}
		if id, err := uuid.Parse(strings.TrimSpace(fmt.Sprint(raw))); err == nil {
			return id, true
		}
	}
	if externalReference != "" {
		if id, err := uuid.Parse(strings.TrimSpace(externalReference)); err == nil {
			return id, true
		}
	}
	return uuid.Nil, false
}

// ---------------------------------------------------------------------------
// Requests
// ---------------------------------------------------------------------------

// Item is one line of a checkout preference.
type Item struct {
	ID        string
	Title     string
	Quantity  int
	UnitPrice decimal.Decimal
}

// BackURLs are the pages the buyer returns to after checkout.
type BackURLs struct {
	Success string
	Failure string
	Pending string
}

// CreatePreferenceRequest opens a hosted checkout session.
type CreatePreferenceRequest struct {
	Items               []Item
	BackURLs            BackURLs
	Metadata            map[string]any
	ExternalReference   string
	NotificationURL     string
	StatementDescriptor string
}

// Validate validates the request
func (r *CreatePreferenceRequest) Validate() error {
	if len(r.Items) == 0 {
		return ErrInvalidItems
	}
	for _, item := range r.Items {
		if item.Quantity <= 0 || item.UnitPrice.IsNegative() {
			return ErrInvalidAmount
		}
	}
	return nil
}

// CreatePreferenceResponse is the result of a preference creation.
type CreatePreferenceResponse struct {
	PreferenceID string
	CheckoutURL  string
}

// CreatePaymentRequest charges a tokenized card directly.
type CreatePaymentRequest struct {
	Amount            decimal.Decimal
	Token             string
	PaymentMethodID   string
	Installments      int
	Description       string
	PayerEmail        string
	Metadata          map[string]any
	ExternalReference string
	IdempotencyKey    string
}

// Validate validates the request
func (r *CreatePaymentRequest) Validate() error {
	if !r.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if r.Token == "" {
		return ErrInvalidToken
	}
	if r.Installments < 1 {
		return ErrInvalidInstallments
	}
	return nil
}

// ---------------------------------------------------------------------------
// Port
// ---------------------------------------------------------------------------

// Gateway is the port to the external payment provider.
type Gateway interface {
	// FetchPayment returns ErrGatewayNotFound when the id is unknown.
	FetchPayment(ctx context.Context, paymentID string) (*PaymentInfo, error)
	// FetchPreference returns ErrGatewayNotFound when the id is unknown.
	FetchPreference(ctx context.Context, preferenceID string) (*PreferenceInfo, error)
	CreatePreference(ctx context.Context, req *CreatePreferenceRequest) (*CreatePreferenceResponse, error)
	CreatePayment(ctx context.Context, req *CreatePaymentRequest) (*PaymentInfo, error)
}

// Notification is a gateway webhook reduced to what reconciliation needs.
type Notification struct {
	// Type is the topic, e.g. "payment" or "merchant_order"
	Type   string
	Action string
	// ResourceID is the id of the affected object (data.id)
	ResourceID string
	LiveMode   bool
}

// IsPayment reports whether the notification concerns a payment.
func (n *Notification) IsPayment() bool {
	return n.Type == "payment"
}

// DeduplicationKey identifies redeliveries of one notification. Each gateway
// state change is a new notification with its own x-request-id, so the key
// includes it; without a request id there is nothing to tell a redelivery
// from a new change and the key is empty.
func (n *Notification) DeduplicationKey(requestID string) string {
	if requestID == "" {
		return ""
	}
	return fmt.Sprintf("mercadopago:%s:%s:%s:%s", n.Type, n.ResourceID, n.Action, requestID)
}
