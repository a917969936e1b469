package sales

import (
	"time"

	"github.com/google/uuid"
	"github.com/lojatextil/erp/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// SaleLine is one product line of a sale
type SaleLine struct {
	ID          uuid.UUID
	SaleID      uuid.UUID
	ProductID   uuid.UUID
	VariantID   *uuid.UUID
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	Subtotal    decimal.Decimal // Quantity * UnitPrice
}

// LineInput describes a line to be added to a new sale
type LineInput struct {
	ProductID   uuid.UUID
	VariantID   *uuid.UUID
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
}

// NewSaleLine creates a sale line and computes its subtotal
func NewSaleLine(saleID uuid.UUID, in LineInput) (*SaleLine, error) {
	if in.ProductID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_PRODUCT", "Product ID cannot be empty")
	}
	if in.Quantity.LessThanOrEqual(decimal.Zero) {
		return nil, shared.NewDomainError("INVALID_QUANTITY", "Quantity must be positive")
	}
	if in.UnitPrice.IsNegative() {
		return nil, shared.NewDomainError("INVALID_PRICE", "Unit price cannot be negative")
	}
	return &SaleLine{
		ID:          uuid.New(),
		SaleID:      saleID,
		ProductID:   in.ProductID,
		VariantID:   in.VariantID,
		Description: in.Description,
		Quantity:    in.Quantity,
		UnitPrice:   in.UnitPrice,
		Subtotal:    in.Quantity.Mul(in.UnitPrice).Round(2),
	}, nil
}

// Sale is a completed or in-progress commercial transaction. Money fields are
// fixed at creation; after that only the payment linkage moves, and only
// through reconciliation.
type Sale struct {
	shared.BaseEntity
	SaleNumber           string
	SaleDate             time.Time
	Subtotal             decimal.Decimal
	Discount             decimal.Decimal
	Tax                  decimal.Decimal
	Total                decimal.Decimal
	PaymentMethod        PaymentMethod
	PaymentStatus        PaymentStatus
	ExternalPaymentID    *string
	ExternalPreferenceID *string
	Installments         int
	Lines                []SaleLine
}

// NewSaleInput holds the data needed to open a sale
type NewSaleInput struct {
	SaleDate      time.Time
	Discount      decimal.Decimal
	Tax           decimal.Decimal
	PaymentMethod PaymentMethod
	Installments  int
	Lines         []LineInput
}

// NewSale validates input and builds a sale with computed totals. The sale
// number is assigned by the repository when the sale is stored.
func NewSale(in NewSaleInput) (*Sale, error) {
	if !in.PaymentMethod.IsValid() {
		return nil, shared.NewDomainError("INVALID_PAYMENT_METHOD", "Payment method is not supported")
	}
	if in.Installments == 0 {
		in.Installments = 1
	}
	if in.Installments < 1 {
		return nil, shared.NewDomainError("INVALID_INSTALLMENTS", "Installments must be at least 1")
	}

	sale := &Sale{
		BaseEntity:    shared.NewBaseEntity(),
		SaleDate:      in.SaleDate,
		PaymentMethod: in.PaymentMethod,
		PaymentStatus: PaymentStatusPending,
		Installments:  in.Installments,
	}
	if sale.SaleDate.IsZero() {
		sale.SaleDate = sale.CreatedAt
	}
	if in.PaymentMethod.IsImmediate() {
		sale.PaymentStatus = PaymentStatusApproved
	}
	if err := sale.setAmounts(in.Lines, in.Discount, in.Tax); err != nil {
		return nil, err
	}
	return sale, nil
}

func (s *Sale) setAmounts(inputs []LineInput, discount, tax decimal.Decimal) error {
	if len(inputs) == 0 {
		return shared.NewDomainError("EMPTY_SALE", "A sale needs at least one line")
	}
	if discount.IsNegative() {
		return shared.NewDomainError("INVALID_DISCOUNT", "Discount cannot be negative")
	}
	if tax.IsNegative() {
		return shared.NewDomainError("INVALID_TAX", "Tax cannot be negative")
	}

	lines := make([]SaleLine, 0, len(inputs))
	subtotal := decimal.Zero
	for _, in := range inputs {
		line, err := NewSaleLine(s.ID, in)
		if err != nil {
			return err
		}
		subtotal = subtotal.Add(line.Subtotal)
		lines = append(lines, *line)
	}
	if discount.GreaterThan(subtotal) {
		return shared.NewDomainError("INVALID_DISCOUNT", "Discount cannot exceed subtotal")
	}

	s.Lines = lines
	s.Subtotal = subtotal
	s.Discount = discount
	s.Tax = tax
	s.Total = subtotal.Sub(discount).Add(tax)
	return nil
}

// ReplaceLines rewrites every line of a sale still awaiting payment and
// recomputes its money fields.
func (s *Sale) ReplaceLines(inputs []LineInput, discount, tax decimal.Decimal) error {
	if s.PaymentStatus != PaymentStatusPending {
		return shared.NewDomainError("SALE_NOT_EDITABLE", "Only pending sales can be corrected")
	}
	if err := s.setAmounts(inputs, discount, tax); err != nil {
		return err
	}
	s.UpdatedAt = time.Now()
	return nil
}

// PaymentID returns the linked gateway payment id or an empty string
func (s *Sale) PaymentID() string {
	if s.ExternalPaymentID == nil {
		return ""
	}
	return *s.ExternalPaymentID
}

// PreferenceID returns the linked gateway preference id or an empty string
func (s *Sale) PreferenceID() string {
	if s.ExternalPreferenceID == nil {
		return ""
	}
	return *s.ExternalPreferenceID
}

// IsLinkedTo reports whether the sale already reflects the given payment
// state, so writing it again would change nothing.
func (s *Sale) IsLinkedTo(status PaymentStatus, paymentID string, installments int) bool {
	if s.PaymentStatus != status {
		return false
	}
	if paymentID != "" && s.PaymentID() != paymentID {
		return false
	}
	if installments > 0 && s.Installments != installments {
		return false
	}
	return true
}

// AmountMatches reports whether amount is within tolerance of the sale total.
func (s *Sale) AmountMatches(amount, tolerance decimal.Decimal) bool {
	return s.Total.Sub(amount).Abs().LessThanOrEqual(tolerance)
}
