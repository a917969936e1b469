package checkout

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lojatextil/erp/internal/application/reconciliation"
	"github.com/lojatextil/erp/internal/domain/payment"
	"github.com/lojatextil/erp/internal/domain/sales"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

// =============================================================================
// Sale repository
// =============================================================================

type MockSaleRepository struct {
	mock.Mock
}

func (m *MockSaleRepository) Create(ctx context.Context, sale *sales.Sale) error {
	args := m.Called(ctx, sale)
	return args.Error(0)
}

func (m *MockSaleRepository) GetByID(ctx context.Context, id uuid.UUID) (*sales.Sale, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sales.Sale), args.Error(1)
}

func (m *MockSaleRepository) FindByExternalPaymentID(ctx context.Context, paymentID string) (*sales.Sale, error) {
	args := m.Called(ctx, paymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sales.Sale), args.Error(1)
}

func (m *MockSaleRepository) FindByExternalPreferenceID(ctx context.Context, preferenceID string) ([]sales.Sale, error) {
	args := m.Called(ctx, preferenceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]sales.Sale), args.Error(1)
}

func (m *MockSaleRepository) FindPendingCandidates(ctx context.Context, amount decimal.Decimal, since, until time.Time, limit int) ([]sales.Sale, error) {
	args := m.Called(ctx, amount, since, until, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]sales.Sale), args.Error(1)
}

func (m *MockSaleRepository) FindPendingSince(ctx context.Context, since time.Time, limit int) ([]sales.Sale, error) {
	args := m.Called(ctx, since, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]sales.Sale), args.Error(1)
}

func (m *MockSaleRepository) ApplyStatusUpdate(ctx context.Context, update sales.StatusUpdate) (*sales.StatusUpdateResult, error) {
	args := m.Called(ctx, update)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sales.StatusUpdateResult), args.Error(1)
}

func (m *MockSaleRepository) LinkPreference(ctx context.Context, saleID uuid.UUID, preferenceID string) error {
	args := m.Called(ctx, saleID, preferenceID)
	return args.Error(0)
}

// =============================================================================
// Gateway
// =============================================================================

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) FetchPayment(ctx context.Context, paymentID string) (*payment.PaymentInfo, error) {
	args := m.Called(ctx, paymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.PaymentInfo), args.Error(1)
}

func (m *MockGateway) FetchPreference(ctx context.Context, preferenceID string) (*payment.PreferenceInfo, error) {
	args := m.Called(ctx, preferenceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.PreferenceInfo), args.Error(1)
}

func (m *MockGateway) CreatePreference(ctx context.Context, req *payment.CreatePreferenceRequest) (*payment.CreatePreferenceResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.CreatePreferenceResponse), args.Error(1)
}

func (m *MockGateway) CreatePayment(ctx context.Context, req *payment.CreatePaymentRequest) (*payment.PaymentInfo, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.PaymentInfo), args.Error(1)
}

// =============================================================================
// Reconciler
// =============================================================================

type MockReconciler struct {
	mock.Mock
}

func (m *MockReconciler) Reconcile(ctx context.Context, req reconciliation.Request) (*reconciliation.Result, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*reconciliation.Result), args.Error(1)
}
