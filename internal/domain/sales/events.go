package sales

import (
	"github.com/google/uuid"
	"github.com/lojatextil/erp/internal/domain/shared"
)

const (
	AggregateTypeSale = "Sale"

	EventTypeSalePaymentStatusChanged = "SalePaymentStatusChanged"
)

// SalePaymentStatusChanged is raised when reconciliation moves a sale's
// payment status or binds a gateway payment to it.
type SalePaymentStatusChanged struct {
	shared.BaseDomainEvent
	SaleNumber     string        `json:"sale_number"`
	PreviousStatus PaymentStatus `json:"previous_status"`
	NewStatus      PaymentStatus `json:"new_status"`
	PaymentID      string        `json:"payment_id,omitempty"`
	Strategy       string        `json:"strategy"`
	LowConfidence  bool          `json:"low_confidence"`
}

// NewSalePaymentStatusChanged creates the event
func NewSalePaymentStatusChanged(saleID uuid.UUID, saleNumber string, previous, next PaymentStatus, paymentID, strategy string, lowConfidence bool) *SalePaymentStatusChanged {
	return &SalePaymentStatusChanged{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeSalePaymentStatusChanged, AggregateTypeSale, saleID),
		SaleNumber:      saleNumber,
		PreviousStatus:  previous,
		NewStatus:       next,
		PaymentID:       paymentID,
		Strategy:        strategy,
		LowConfidence:   lowConfidence,
	}
}
