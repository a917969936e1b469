// Package checkout opens sales and hands them to the payment gateway, either
// through a hosted checkout preference or a direct card charge.
package checkout

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/lojatextil/erp/internal/application/reconciliation"
	"github.com/lojatextil/erp/internal/domain/payment"
	"github.com/lojatextil/erp/internal/domain/sales"
	"github.com/lojatextil/erp/internal/domain/shared"
	"github.com/lojatextil/erp/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

var (
	ErrSaleNotPayable = shared.NewDomainError("SALE_NOT_PAYABLE", "Sale is not awaiting payment")
	ErrNotGatewaySale = shared.NewDomainError("NOT_GATEWAY_SALE", "Sale is not paid through the payment gateway")
)

// ServiceConfig holds the dependencies of a Service
type ServiceConfig struct {
	Sales   sales.Repository
	Gateway payment.Gateway
	Engine  reconciliation.Reconciler
	Logger  *zap.Logger

	NotificationURL     string
	StatementDescriptor string
	// DefaultBackURLs are used when a checkout request carries none
	DefaultBackURLs payment.BackURLs
}

// Service implements the sale checkout use cases
type Service struct {
	sales      sales.Repository
	gateway    payment.Gateway
	engine     reconciliation.Reconciler
	logger     *zap.Logger
	notifyURL  string
	descriptor string
	backURLs   payment.BackURLs
}

// NewService creates a new checkout Service
func NewService(cfg ServiceConfig) *Service {
	l := cfg.Logger
	if l == nil {
		l = zap.NewNop()
	}
	return &Service{
		sales:      cfg.Sales,
		gateway:    cfg.Gateway,
		engine:     cfg.Engine,
		logger:     l.Named("checkout"),
		notifyURL:  cfg.NotificationURL,
		descriptor: cfg.StatementDescriptor,
		backURLs:   cfg.DefaultBackURLs,
	}
}

// CreateSale validates the input, computes the sale totals and stores the
// sale with its daily sale number.
func (s *Service) CreateSale(ctx context.Context, in sales.NewSaleInput) (*sales.Sale, error) {
	sale, err := sales.NewSale(in)
	if err != nil {
		return nil, err
	}
	if err := s.sales.Create(ctx, sale); err != nil {
		return nil, fmt.Errorf("failed to create sale: %w", err)
	}

	s.logger.Info("Sale created",
		zap.String("sale_id", sale.ID.String()),
		zap.String("sale_number", sale.SaleNumber),
		zap.String("total", sale.Total.StringFixed(2)),
		zap.String("payment_method", sale.PaymentMethod.String()),
		zap.String("payment_status", sale.PaymentStatus.String()))
	return sale, nil
}

// GetSale returns a sale with its lines
func (s *Service) GetSale(ctx context.Context, saleID uuid.UUID) (*sales.Sale, error) {
	return s.sales.GetByID(ctx, saleID)
}

// Session is an opened hosted checkout
type Session struct {
	SaleID       uuid.UUID `json:"sale_id"`
	SaleNumber   string    `json:"sale_number"`
	PreferenceID string    `json:"preference_id"`
	CheckoutURL  string    `json:"checkout_url"`
}

// StartGatewayCheckout creates a checkout preference tagged with the sale id
// and stores it on the sale. Zero back URLs fall back to the configured ones.
func (s *Service) StartGatewayCheckout(ctx context.Context, saleID uuid.UUID, backURLs payment.BackURLs) (*Session, error) {
	ctx, span := telemetry.StartSpan(ctx, "checkout.start_gateway_checkout",
		telemetry.WithAttribute("sale.id", saleID.String()))
	defer span.End()

	sale, err := s.payableSale(ctx, saleID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if sale.PaymentMethod != sales.PaymentMethodGateway {
		return nil, ErrNotGatewaySale
	}
	if sale.PreferenceID() != "" {
		return nil, sales.ErrPreferenceAlreadyLinked
	}
	if backURLs == (payment.BackURLs{}) {
		backURLs = s.backURLs
	}

	resp, err := s.gateway.CreatePreference(ctx, &payment.CreatePreferenceRequest{
		Items: []payment.Item{{
			ID:        sale.ID.String(),
			Title:     saleTitle(sale),
			Quantity:  1,
			UnitPrice: sale.Total,
		}},
		BackURLs:            backURLs,
		Metadata:            saleMetadata(sale),
		ExternalReference:   sale.ID.String(),
		NotificationURL:     s.notifyURL,
		StatementDescriptor: s.descriptor,
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to create checkout preference: %w", err)
	}

	if err := s.sales.LinkPreference(ctx, sale.ID, resp.PreferenceID); err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to store checkout preference: %w", err)
	}

	s.logger.Info("Gateway checkout started",
		zap.String("sale_id", sale.ID.String()),
		zap.String("sale_number", sale.SaleNumber),
		zap.String("preference_id", resp.PreferenceID))
	telemetry.SetOK(span)
	return &Session{
		SaleID:       sale.ID,
		SaleNumber:   sale.SaleNumber,
		PreferenceID: resp.PreferenceID,
		CheckoutURL:  resp.CheckoutURL,
	}, nil
}

// ChargeCardInput is a direct charge of a tokenized card
type ChargeCardInput struct {
	SaleID          uuid.UUID
	Token           string
	PaymentMethodID string
	Installments    int
	PayerEmail      string
}

// ChargeResult is the outcome of a card charge. Reconciliation is nil when
// the payment was created but could not be reconciled yet; a webhook or the
// sweep picks it up later.
type ChargeResult struct {
	PaymentID      string
	GatewayStatus  payment.Status
	StatusDetail   string
	Reconciliation *reconciliation.Result
}

// ChargeCard charges the sale total to a tokenized card and reconciles the
// sale with the returned payment. Retrying with the same token reuses the
// gateway's idempotency key.
func (s *Service) ChargeCard(ctx context.Context, in ChargeCardInput) (*ChargeResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "checkout.charge_card",
		telemetry.WithAttribute("sale.id", in.SaleID.String()))
	defer span.End()

	sale, err := s.payableSale(ctx, in.SaleID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	installments := in.Installments
	if installments == 0 {
		installments = sale.Installments
	}

	p, err := s.gateway.CreatePayment(ctx, &payment.CreatePaymentRequest{
		Amount:            sale.Total,
		Token:             in.Token,
		PaymentMethodID:   in.PaymentMethodID,
		Installments:      installments,
		Description:       saleTitle(sale),
		PayerEmail:        in.PayerEmail,
		Metadata:          saleMetadata(sale),
		ExternalReference: sale.ID.String(),
		IdempotencyKey:    fmt.Sprintf("sale:%s:charge:%s", sale.ID, in.Token),
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to charge card: %w", err)
	}

	out := &ChargeResult{PaymentID: p.ID, GatewayStatus: p.Status, StatusDetail: p.StatusDetail}
	l := s.logger.With(
		zap.String("sale_id", sale.ID.String()),
		zap.String("payment_id", p.ID),
		zap.String("gateway_status", p.Status.String()))

	result, err := s.engine.Reconcile(ctx, reconciliation.Request{
		SaleID:            sale.ID,
		ExternalPaymentID: p.ID,
		Source:            reconciliation.SourceCheckout,
	})
	if err != nil {
		l.Warn("Card charged but reconciliation deferred", zap.Error(err))
		telemetry.SetOK(span)
		return out, nil
	}
	out.Reconciliation = result
	l.Info("Card charged", zap.String("outcome", string(result.Outcome)))
	telemetry.SetOK(span)
	return out, nil
}

func (s *Service) payableSale(ctx context.Context, saleID uuid.UUID) (*sales.Sale, error) {
	sale, err := s.sales.GetByID(ctx, saleID)
	if err != nil {
		return nil, err
	}
	if sale.PaymentStatus == sales.PaymentStatusApproved {
		return nil, ErrSaleNotPayable
	}
	return sale, nil
}

func saleTitle(sale *sales.Sale) string {
	return "Venda " + sale.SaleNumber
}

func saleMetadata(sale *sales.Sale) map[string]any {
	return map[string]any{
		"sale_id":     sale.ID.String(),
		"sale_number": sale.SaleNumber,
	}
}
