package reconciliation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lojatextil/erp/internal/domain/payment"
	"github.com/lojatextil/erp/internal/domain/sales"
	"github.com/lojatextil/erp/internal/domain/shared"
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
// Event publisher, reconciler and webhook collaborators
// =============================================================================

type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	args := m.Called(ctx, events)
	return args.Error(0)
}

type MockReconciler struct {
	mock.Mock
}

func (m *MockReconciler) Reconcile(ctx context.Context, req Request) (*Result, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Result), args.Error(1)
}

type MockIdempotencyStore struct {
	mock.Mock
}

func (m *MockIdempotencyStore) MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *MockIdempotencyStore) IsProcessed(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *MockIdempotencyStore) Release(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockIdempotencyStore) Close() error {
	return nil
}

type MockVerifier struct {
	mock.Mock
}

func (m *MockVerifier) Enabled() bool {
	return m.Called().Bool(0)
}

func (m *MockVerifier) Verify(header, requestID, dataID string) error {
	return m.Called(header, requestID, dataID).Error(0)
}

type MockArchive struct {
	mock.Mock
}

func (m *MockArchive) Archive(ctx context.Context, requestID string, receivedAt time.Time, payload []byte) (string, error) {
	args := m.Called(ctx, requestID, receivedAt, payload)
	return args.String(0), args.Error(1)
}

// recordingMetrics captures observations for assertions
type recordingMetrics struct {
	mu       sync.Mutex
	attempts []observedAttempt
	sweeps   []map[string]int
}

type observedAttempt struct {
	source, outcome, strategy string
}

func (r *recordingMetrics) ObserveReconciliation(_ context.Context, source, outcome, strategy string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, observedAttempt{source, outcome, strategy})
}

func (r *recordingMetrics) ObserveSweep(_ context.Context, counts map[string]int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweeps = append(r.sweeps, counts)
}

// =============================================================================
// Fixtures
// =============================================================================

func newTestSale(total string, status sales.PaymentStatus, createdAt time.Time) *sales.Sale {
	amount := decimal.RequireFromString(total)
	sale, err := sales.NewSale(sales.NewSaleInput{
		PaymentMethod: sales.PaymentMethodGateway,
		Lines: []sales.LineInput{{
			ProductID: uuid.New(),
			Quantity:  decimal.NewFromInt(1),
			UnitPrice: amount,
		}},
	})
	if err != nil {
		panic(err)
	}
	sale.SaleNumber = createdAt.Format("20060102") + "-001"
	sale.CreatedAt = createdAt
	sale.PaymentStatus = status
	return sale
}

func linked(sale *sales.Sale, paymentID string) *sales.Sale {
	sale.ExternalPaymentID = &paymentID
	return sale
}

func withPreference(sale *sales.Sale, preferenceID string) *sales.Sale {
	sale.ExternalPreferenceID = &preferenceID
	return sale
}

func withStatus(sale *sales.Sale, status sales.PaymentStatus, paymentID string) *sales.Sale {
	c := *sale
	c.PaymentStatus = status
	if paymentID != "" {
		c.ExternalPaymentID = &paymentID
	}
	return &c
}

func gatewayPayment(id string, status payment.Status, amount string, createdAt time.Time, metadata map[string]any) *payment.PaymentInfo {
	return &payment.PaymentInfo{
		ID:                id,
		Status:            status,
		TransactionAmount: decimal.RequireFromString(amount),
		Installments:      1,
		Metadata:          metadata,
		DateCreated:       createdAt,
	}
}
