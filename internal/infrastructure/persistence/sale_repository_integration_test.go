//go:build integration

package persistence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lojatextil/erp/internal/domain/sales"
	"github.com/lojatextil/erp/internal/infrastructure/migration"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newPostgresSaleRepository starts a disposable PostgreSQL, applies the
// embedded migrations and returns a repository over it.
func newPostgresSaleRepository(t *testing.T) *GormSaleRepository {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("erp_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Warning: Failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := gorm.Open(gormpostgres.Open(dsn), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(10)
	t.Cleanup(func() { _ = sqlDB.Close() })

	m, err := migration.New(sqlDB, nil)
	require.NoError(t, err)
	require.NoError(t, m.Up())

	loc, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)
	return NewGormSaleRepository(db, WithSequenceLocation(loc))
}

func TestIntegration_SaleNumbersAreUniqueUnderConcurrency(t *testing.T) {
	repo := newPostgresSaleRepository(t)
	ctx := context.Background()

	const n = 20
	numbers := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sale := newTestSale(t, 10, sales.PaymentMethodCash)
			if assert.NoError(t, repo.Create(ctx, sale)) {
				numbers <- sale.SaleNumber
			}
		}()
	}
	wg.Wait()
	close(numbers)

	seen := map[string]bool{}
	for number := range numbers {
		assert.False(t, seen[number], "duplicate sale number %s", number)
		seen[number] = true
	}
	assert.Len(t, seen, n)
}

func TestIntegration_ConcurrentStatusUpdatesHaveOneWinner(t *testing.T) {
	repo := newPostgresSaleRepository(t)
	ctx := context.Background()

	sale := newTestSale(t, 80, sales.PaymentMethodGateway)
	require.NoError(t, repo.Create(ctx, sale))

	targets := []sales.PaymentStatus{sales.PaymentStatusRejected, sales.PaymentStatusCancelled}
	results := make([]*sales.StatusUpdateResult, len(targets))
	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func(i int, target sales.PaymentStatus) {
			defer wg.Done()
			result, err := repo.ApplyStatusUpdate(ctx, sales.StatusUpdate{SaleID: sale.ID, NewStatus: target})
			if assert.NoError(t, err) {
				results[i] = result
			}
		}(i, target)
	}
	wg.Wait()

	require.NotNil(t, results[0])
	require.NotNil(t, results[1])
	assert.NotEqual(t, results[0].Applied, results[1].Applied)
}

func TestIntegration_PaymentIDIsUnique(t *testing.T) {
	repo := newPostgresSaleRepository(t)
	ctx := context.Background()

	first := newTestSale(t, 80, sales.PaymentMethodGateway)
	second := newTestSale(t, 80, sales.PaymentMethodGateway)
	require.NoError(t, repo.Create(ctx, first))
	require.NoError(t, repo.Create(ctx, second))

	_, err := repo.ApplyStatusUpdate(ctx, sales.StatusUpdate{SaleID: first.ID, NewStatus: sales.PaymentStatusApproved, PaymentID: "MP-1"})
	require.NoError(t, err)

	_, err = repo.ApplyStatusUpdate(ctx, sales.StatusUpdate{SaleID: second.ID, NewStatus: sales.PaymentStatusApproved, PaymentID: "MP-1"})
	assert.Error(t, err)
}
