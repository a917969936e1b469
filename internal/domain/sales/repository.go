package sales

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lojatextil/erp/internal/domain/shared"
	"github.com/shopspring/decimal"
)

var (
	ErrSaleNotFound      = shared.NewDomainError("SALE_NOT_FOUND", "Sale not found")
	ErrInvalidSaleNumber = shared.NewDomainError("INVALID_SALE_NUMBER", "Sale number must look like YYYYMMDD-NNN")

	ErrPreferenceAlreadyLinked = shared.NewDomainError("PREFERENCE_ALREADY_LINKED", "Sale already has a checkout preference")
)

// AmountTolerance is the largest difference at which two amounts are treated
// as equal when matching payments to sales.
var AmountTolerance = decimal.New(1, -2)

// StatusUpdate is a conditional write of a sale's payment linkage.
type StatusUpdate struct {
	SaleID    uuid.UUID
	NewStatus PaymentStatus
	// PaymentID is written when non-empty
	PaymentID string
	// Installments is written when positive
	Installments int
	// Force skips the transition guard (operator override)
	Force bool
}

// StatusUpdateResult reports what ApplyStatusUpdate did. When Applied is
// false the sale was in a state the update may not leave, and Sale holds the
// state that won.
type StatusUpdateResult struct {
	Sale    *Sale
	Applied bool
}

// Repository is the persistence port for sales.
type Repository interface {
	Create(ctx context.Context, sale *Sale) error
	GetByID(ctx context.Context, id uuid.UUID) (*Sale, error)
	FindByExternalPaymentID(ctx context.Context, paymentID string) (*Sale, error)
	// FindByExternalPreferenceID returns matches most recent first.
	FindByExternalPreferenceID(ctx context.Context, preferenceID string) ([]Sale, error)
	// FindPendingCandidates returns unlinked pending sales whose total is within
	// AmountTolerance of amount, created in [since, until], most recent first.
	FindPendingCandidates(ctx context.Context, amount decimal.Decimal, since, until time.Time, limit int) ([]Sale, error)
	// FindPendingSince returns pending sales created at or after since, most recent first.
	FindPendingSince(ctx context.Context, since time.Time, limit int) ([]Sale, error)
	// ApplyStatusUpdate is a single atomic compare-and-swap on the payment status.
	ApplyStatusUpdate(ctx context.Context, update StatusUpdate) (*StatusUpdateResult, error)
	// LinkPreference stores the checkout preference of a sale that has none yet.
	LinkPreference(ctx context.Context, saleID uuid.UUID, preferenceID string) error
}
