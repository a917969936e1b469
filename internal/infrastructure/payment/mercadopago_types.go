package payment

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Wire formats of the Mercado Pago REST API. Only the fields reconciliation
// and checkout read are declared.

type mpPayment struct {
	ID                json.Number     `json:"id"`
	Status            string          `json:"status"`
	StatusDetail      string          `json:"status_detail"`
	TransactionAmount decimal.Decimal `json:"transaction_amount"`
	Installments      int             `json:"installments"`
	PaymentMethodID   string          `json:"payment_method_id"`
	ExternalReference string          `json:"external_reference"`
	Metadata          map[string]any  `json:"metadata"`
	DateCreated       time.Time       `json:"date_created"`
	DateApproved      *time.Time      `json:"date_approved"`
}

type mpPreference struct {
	ID                string         `json:"id"`
	InitPoint         string         `json:"init_point"`
	SandboxInitPoint  string         `json:"sandbox_init_point"`
	ExternalReference string         `json:"external_reference"`
	Metadata          map[string]any `json:"metadata"`
	DateCreated       time.Time      `json:"date_created"`
}

type mpMerchantOrderSearch struct {
	Elements []mpMerchantOrder `json:"elements"`
}

type mpMerchantOrder struct {
	ID           json.Number              `json:"id"`
	PreferenceID string                   `json:"preference_id"`
	Payments     []mpMerchantOrderPayment `json:"payments"`
}

type mpMerchantOrderPayment struct {
	ID     json.Number `json:"id"`
	Status string      `json:"status"`
}

type mpItem struct {
	ID         string      `json:"id,omitempty"`
	Title      string      `json:"title"`
	Quantity   int         `json:"quantity"`
	UnitPrice  json.Number `json:"unit_price"`
	CurrencyID string      `json:"currency_id"`
}

type mpBackURLs struct {
	Success string `json:"success,omitempty"`
	Failure string `json:"failure,omitempty"`
	Pending string `json:"pending,omitempty"`
}

type mpCreatePreferenceRequest struct {
	Items               []mpItem       `json:"items"`
	BackURLs            *mpBackURLs    `json:"back_urls,omitempty"`
	AutoReturn          string         `json:"auto_return,omitempty"`
	Metadata            map[string]any `json:"metadata,omitempty"`
	ExternalReference   string         `json:"external_reference,omitempty"`
	NotificationURL     string         `json:"notification_url,omitempty"`
	StatementDescriptor string         `json:"statement_descriptor,omitempty"`
}

type mpPayer struct {
	Email string `json:"email"`
}

type mpCreatePaymentRequest struct {
	TransactionAmount   json.Number    `json:"transaction_amount"`
	Token               string         `json:"token"`
	PaymentMethodID     string         `json:"payment_method_id,omitempty"`
	Installments        int            `json:"installments"`
	Description         string         `json:"description,omitempty"`
	Payer               *mpPayer       `json:"payer,omitempty"`
	Metadata            map[string]any `json:"metadata,omitempty"`
	ExternalReference   string         `json:"external_reference,omitempty"`
	NotificationURL     string         `json:"notification_url,omitempty"`
	StatementDescriptor string         `json:"statement_descriptor,omitempty"`
}

type mpErrorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Status  int    `json:"status"`
}
