package handler

import (
	"context"

	"github.com/google/uuid"
	"github.com/lojatextil/erp/internal/application/checkout"
	"github.com/lojatextil/erp/internal/application/reconciliation"
	"github.com/lojatextil/erp/internal/domain/payment"
	"github.com/lojatextil/erp/internal/domain/sales"
	"github.com/stretchr/testify/mock"
)

type MockWebhookProcessor struct {
	mock.Mock
}

func (m *MockWebhookProcessor) Handle(ctx context.Context, d reconciliation.WebhookDelivery) (*reconciliation.WebhookResult, error) {
	args := m.Called(ctx, d)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*reconciliation.WebhookResult), args.Error(1)
}

type MockPaymentRefresher struct {
	mock.Mock
}

func (m *MockPaymentRefresher) Refresh(ctx context.Context, in reconciliation.RefreshInput) (*reconciliation.RefreshResult, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*reconciliation.RefreshResult), args.Error(1)
}

type MockSweepRunner struct {
	mock.Mock
}

func (m *MockSweepRunner) Start(ctx context.Context, trigger string) (*reconciliation.SweepJob, error) {
	args := m.Called(ctx, trigger)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*reconciliation.SweepJob), args.Error(1)
}

func (m *MockSweepRunner) Job(ctx context.Context, id uuid.UUID) (*reconciliation.SweepJob, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*reconciliation.SweepJob), args.Error(1)
}

func (m *MockSweepRunner) RecentJobs(ctx context.Context, limit int) ([]*reconciliation.SweepJob, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*reconciliation.SweepJob), args.Error(1)
}

type MockCheckoutService struct {
	mock.Mock
}

func (m *MockCheckoutService) CreateSale(ctx context.Context, in sales.NewSaleInput) (*sales.Sale, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sales.Sale), args.Error(1)
}

func (m *MockCheckoutService) GetSale(ctx context.Context, saleID uuid.UUID) (*sales.Sale, error) {
	args := m.Called(ctx, saleID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sales.Sale), args.Error(1)
}

func (m *MockCheckoutService) StartGatewayCheckout(ctx context.Context, saleID uuid.UUID, backURLs payment.BackURLs) (*checkout.Session, error) {
	args := m.Called(ctx, saleID, backURLs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*checkout.Session), args.Error(1)
}

func (m *MockCheckoutService) ChargeCard(ctx context.Context, in checkout.ChargeCardInput) (*checkout.ChargeResult, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*checkout.ChargeResult), args.Error(1)
}
