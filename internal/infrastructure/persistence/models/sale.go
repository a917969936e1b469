package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lojatextil/erp/internal/domain/sales"
	"github.com/shopspring/decimal"
)

// SaleModel is the persistence model for the Sale aggregate root.
type SaleModel struct {
	BaseModel
	SaleNumber           string              `gorm:"type:varchar(20);not null;uniqueIndex"`
	SaleDate             time.Time           `gorm:"not null"`
	Subtotal             decimal.Decimal     `gorm:"type:decimal(12,2);not null"`
	Discount             decimal.Decimal     `gorm:"type:decimal(12,2);not null;default:0"`
	Tax                  decimal.Decimal     `gorm:"type:decimal(12,2);not null;default:0"`
	Total                decimal.Decimal     `gorm:"type:decimal(12,2);not null;index"`
	PaymentMethod        sales.PaymentMethod `gorm:"type:varchar(20);not null"`
	PaymentStatus        sales.PaymentStatus `gorm:"type:varchar(20);not null;default:'pending';index"`
	ExternalPaymentID    *string             `gorm:"type:varchar(64);uniqueIndex"`
	ExternalPreferenceID *string             `gorm:"type:varchar(128);index"`
	Installments         int                 `gorm:"not null;default:1"`
	Lines                []SaleLineModel     `gorm:"foreignKey:SaleID;references:ID"`
}

// TableName returns the table name for GORM
func (SaleModel) TableName() string {
	return "sales"
}

// ToDomain converts the persistence model to a domain Sale.
func (m *SaleModel) ToDomain() *sales.Sale {
	sale := &sales.Sale{
		BaseEntity:           m.BaseModel.ToDomain(),
		SaleNumber:           m.SaleNumber,
		SaleDate:             m.SaleDate,
		Subtotal:             m.Subtotal,
		Discount:             m.Discount,
		Tax:                  m.Tax,
		Total:                m.Total,
		PaymentMethod:        m.PaymentMethod,
		PaymentStatus:        m.PaymentStatus,
		ExternalPaymentID:    m.ExternalPaymentID,
		ExternalPreferenceID: m.ExternalPreferenceID,
		Installments:         m.Installments,
		Lines:                make([]sales.SaleLine, len(m.Lines)),
	}
	for i, line := range m.Lines {
		sale.Lines[i] = *line.ToDomain()
	}
	return sale
}

// SaleModelFromDomain creates a persistence model from a domain Sale.
func SaleModelFromDomain(s *sales.Sale) *SaleModel {
	m := &SaleModel{
		SaleNumber:           s.SaleNumber,
		SaleDate:             s.SaleDate.UTC(),
		Subtotal:             s.Subtotal,
		Discount:             s.Discount,
		Tax:                  s.Tax,
		Total:                s.Total,
		PaymentMethod:        s.PaymentMethod,
		PaymentStatus:        s.PaymentStatus,
		ExternalPaymentID:    s.ExternalPaymentID,
		ExternalPreferenceID: s.ExternalPreferenceID,
		Installments:         s.Installments,
		Lines:                make([]SaleLineModel, len(s.Lines)),
	}
	m.FromDomainBaseEntity(s.BaseEntity)
	for i := range s.Lines {
		m.Lines[i] = *SaleLineModelFromDomain(&s.Lines[i])
	}
	return m
}

// SaleLineModel is the persistence model for a SaleLine.
type SaleLineModel struct {
	ID          uuid.UUID       `gorm:"type:uuid;primary_key"`
	SaleID      uuid.UUID       `gorm:"type:uuid;not null;index"`
	ProductID   uuid.UUID       `gorm:"type:uuid;not null"`
	VariantID   *uuid.UUID      `gorm:"type:uuid"`
	Description string          `gorm:"type:varchar(200)"`
	Quantity    decimal.Decimal `gorm:"type:decimal(12,3);not null"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	Subtotal    decimal.Decimal `gorm:"type:decimal(12,2);not null"`
}

// TableName returns the table name for GORM
func (SaleLineModel) TableName() string {
	return "sale_lines"
}

// ToDomain converts the persistence model to a domain SaleLine.
func (m *SaleLineModel) ToDomain() *sales.SaleLine {
	return &sales.SaleLine{
		ID:          m.ID,
		SaleID:      m.SaleID,
		ProductID:   m.ProductID,
		VariantID:   m.VariantID,
		Description: m.Description,
		Quantity:    m.Quantity,
		UnitPrice:   m.UnitPrice,
		Subtotal:    m.Subtotal,
	}
}

// SaleLineModelFromDomain creates a persistence model from a domain SaleLine.
func SaleLineModelFromDomain(l *sales.SaleLine) *SaleLineModel {
	return &SaleLineModel{
		ID:          l.ID,
		SaleID:      l.SaleID,
		ProductID:   l.ProductID,
		VariantID:   l.VariantID,
		Description: l.Description,
		Quantity:    l.Quantity,
		UnitPrice:   l.UnitPrice,
		Subtotal:    l.Subtotal,
	}
}

// SaleSequenceModel holds the last sale number issued per day.
type SaleSequenceModel struct {
	Day       string `gorm:"type:varchar(8);primary_key"`
	LastValue int    `gorm:"not null"`
}

// TableName returns the table name for GORM
func (SaleSequenceModel) TableName() string {
	return "sale_sequences"
}
