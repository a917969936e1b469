package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lojatextil/erp/internal/domain/sales"
	"github.com/lojatextil/erp/internal/infrastructure/persistence/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const allocateSaleSequenceSQL = `INSERT INTO sale_sequences (day, last_value) VALUES (?, 1)
ON CONFLICT (day) DO UPDATE SET last_value = sale_sequences.last_value + 1
RETURNING last_value`

// GormSaleRepository implements sales.Repository using GORM
type GormSaleRepository struct {
	db       *gorm.DB
	location *time.Location
}

// SaleRepositoryOption configures a GormSaleRepository
type SaleRepositoryOption func(*GormSaleRepository)

// WithSequenceLocation sets the time zone whose calendar day keys sale numbers
func WithSequenceLocation(loc *time.Location) SaleRepositoryOption {
	return func(r *GormSaleRepository) {
		if loc != nil {
			r.location = loc
		}
	}
}

// NewGormSaleRepository creates a new GormSaleRepository
func NewGormSaleRepository(db *gorm.DB, opts ...SaleRepositoryOption) *GormSaleRepository {
	r := &GormSaleRepository{db: db, location: time.Local}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create allocates the daily sale number and stores the sale with its lines
// in one transaction.
func (r *GormSaleRepository) Create(ctx context.Context, sale *sales.Sale) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		day := sales.SequenceDay(sale.CreatedAt.In(r.location))

		var seq models.SaleSequenceModel
		if err := tx.Raw(allocateSaleSequenceSQL, day).Scan(&seq).Error; err != nil {
			return fmt.Errorf("failed to allocate sale number: %w", err)
		}
		sale.SaleNumber = sales.FormatSaleNumber(day, seq.LastValue)

		model := models.SaleModelFromDomain(sale)
		if err := tx.Create(model).Error; err != nil {
			return fmt.Errorf("failed to create sale: %w", err)
		}
		return nil
	})
}

// GetByID finds a sale by its ID
func (r *GormSaleRepository) GetByID(ctx context.Context, id uuid.UUID) (*sales.Sale, error) {
	var model models.SaleModel
	if err := r.db.WithContext(ctx).
		Preload("Lines").
		Where("id = ?", id).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, sales.ErrSaleNotFound.Because(err)
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByExternalPaymentID finds the sale linked to a gateway payment
func (r *GormSaleRepository) FindByExternalPaymentID(ctx context.Context, paymentID string) (*sales.Sale, error) {
	var model models.SaleModel
	if err := r.db.WithContext(ctx).
		Preload("Lines").
		Where("external_payment_id = ?", paymentID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, sales.ErrSaleNotFound.Because(err)
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByExternalPreferenceID returns every sale opened with the preference,
// most recent first
func (r *GormSaleRepository) FindByExternalPreferenceID(ctx context.Context, preferenceID string) ([]sales.Sale, error) {
	var list []models.SaleModel
	if err := r.db.WithContext(ctx).
		Preload("Lines").
		Where("external_preference_id = ?", preferenceID).
		Order("created_at DESC").
		Find(&list).Error; err != nil {
		return nil, err
	}
	return toDomainSales(list), nil
}

// FindPendingCandidates returns unlinked pending sales whose total is within
// tolerance of amount and that were created inside the window
func (r *GormSaleRepository) FindPendingCandidates(ctx context.Context, amount decimal.Decimal, since, until time.Time, limit int) ([]sales.Sale, error) {
	var list []models.SaleModel
	if err := r.db.WithContext(ctx).
		Where("payment_status = ?", sales.PaymentStatusPending.String()).
		Where("external_payment_id IS NULL").
		Where("total BETWEEN ? AND ?", amount.Sub(sales.AmountTolerance), amount.Add(sales.AmountTolerance)).
		Where("created_at BETWEEN ? AND ?", since.UTC(), until.UTC()).
		Order("created_at DESC").
		Limit(limit).
		Find(&list).Error; err != nil {
		return nil, err
	}
	return toDomainSales(list), nil
}

// FindPendingSince returns pending sales created at or after since
func (r *GormSaleRepository) FindPendingSince(ctx context.Context, since time.Time, limit int) ([]sales.Sale, error) {
	var list []models.SaleModel
	if err := r.db.WithContext(ctx).
		Where("payment_status = ?", sales.PaymentStatusPending.String()).
		Where("created_at >= ?", since.UTC()).
		Order("created_at DESC").
		Limit(limit).
		Find(&list).Error; err != nil {
		return nil, err
	}
	return toDomainSales(list), nil
}

// ApplyStatusUpdate writes the new payment linkage with a single conditional
// UPDATE. Unless forced, the row only changes while its current status may
// still move to the target; otherwise the stored sale is returned unapplied.
func (r *GormSaleRepository) ApplyStatusUpdate(ctx context.Context, update sales.StatusUpdate) (*sales.StatusUpdateResult, error) {
	if !update.NewStatus.IsValid() {
		return nil, fmt.Errorf("invalid payment status %q", update.NewStatus)
	}

	values := map[string]any{
		"payment_status": update.NewStatus.String(),
		"updated_at":     time.Now().UTC(),
	}
	if update.PaymentID != "" {
		values["external_payment_id"] = update.PaymentID
	}
	if update.Installments > 0 {
		values["installments"] = update.Installments
	}

	query := r.db.WithContext(ctx).
		Model(&models.SaleModel{}).
		Where("id = ?", update.SaleID)
	if !update.Force {
		query = query.Where("payment_status IN ?", statusStrings(sales.StatusesAllowingTransitionTo(update.NewStatus)))
	}

	result := query.Updates(values)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to update sale payment status: %w", result.Error)
	}

	sale, err := r.GetByID(ctx, update.SaleID)
	if err != nil {
		return nil, err
	}
	return &sales.StatusUpdateResult{Sale: sale, Applied: result.RowsAffected > 0}, nil
}

// LinkPreference stores a checkout preference on a sale that has none yet
func (r *GormSaleRepository) LinkPreference(ctx context.Context, saleID uuid.UUID, preferenceID string) error {
	result := r.db.WithContext(ctx).
		Model(&models.SaleModel{}).
		Where("id = ? AND external_preference_id IS NULL", saleID).
		Updates(map[string]any{
			"external_preference_id": preferenceID,
			"updated_at":             time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to link preference: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		sale, err := r.GetByID(ctx, saleID)
		if err != nil {
			return err
		}
		if sale.PreferenceID() != preferenceID {
			return sales.ErrPreferenceAlreadyLinked
		}
	}
	return nil
}

func statusStrings(statuses []sales.PaymentStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = s.String()
	}
	return out
}

func toDomainSales(list []models.SaleModel) []sales.Sale {
	out := make([]sales.Sale, len(list))
	for i := range list {
		out[i] = *list[i].ToDomain()
	}
	return out
}

// Ensure GormSaleRepository implements sales.Repository
var _ sales.Repository = (*GormSaleRepository)(nil)
