package payment

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestMetadataSaleID(t *testing.T) {
	id := uuid.New()

	t.Run("snake case key", func(t *testing.T) {
		got, ok := MetadataSaleID(map[string]any{"sale_id": id.String()}, "")
		assert.True(t, ok)
		assert.Equal(t, id, got)
	})

	t.Run("camel case key", func(t *testing.T) {
		got, ok := MetadataSaleID(map[string]any{"saleId": id.String()}, "")
		assert.True(t, ok)
		assert.Equal(t, id, got)
	})

	t.Run("external reference fallback", func(t *testing.T) {
		got, ok := MetadataSaleID(nil, id.String())
		assert.True(t, ok)
		assert.Equal(t, id, got)
	})

	t.Run("garbage is ignored", func(t *testing.T) {
		_, ok := MetadataSaleID(map[string]any{"sale_id": "not-a-uuid", "other": 1}, "ref-123")
		assert.False(t, ok)
	})

	t.Run("nil value is skipped", func(t *testing.T) {
		got, ok := MetadataSaleID(map[string]any{"sale_id": nil, "venda_id": id.String()}, "")
		assert.True(t, ok)
		assert.Equal(t, id, got)
	})
}

func TestErrorClassification(t *testing.T) {
	assert.True(t, IsRetryable(fmt.Errorf("%w: timeout", ErrGatewayUnavailable)))
	assert.True(t, IsRetryable(context.DeadlineExceeded))
	assert.False(t, IsRetryable(ErrGatewayNotFound))

	assert.True(t, IsFatal(fmt.Errorf("%w: HTTP 401", ErrGatewayAuth)))
	assert.True(t, IsFatal(ErrGatewayNotConfigured))
	assert.False(t, IsFatal(ErrGatewayUnavailable))
}

func TestCreatePreferenceRequest_Validate(t *testing.T) {
	req := &CreatePreferenceRequest{}
	assert.ErrorIs(t, req.Validate(), ErrInvalidItems)

	req.Items = []Item{{Title: "Camiseta", Quantity: 0, UnitPrice: decimal.NewFromInt(10)}}
	assert.ErrorIs(t, req.Validate(), ErrInvalidAmount)

	req.Items[0].Quantity = 2
	assert.NoError(t, req.Validate())
}

func TestCreatePaymentRequest_Validate(t *testing.T) {
	req := &CreatePaymentRequest{Amount: decimal.Zero, Token: "tok", Installments: 1}
	assert.ErrorIs(t, req.Validate(), ErrInvalidAmount)

	req.Amount = decimal.NewFromInt(100)
	req.Token = ""
	assert.ErrorIs(t, req.Validate(), ErrInvalidToken)

	req.Token = "tok"
	req.Installments = 0
	assert.ErrorIs(t, req.Validate(), ErrInvalidInstallments)

	req.Installments = 3
	assert.NoError(t, req.Validate())
}

func TestNotification_DeduplicationKey(t *testing.T) {
	n := &Notification{Type: "payment", Action: "payment.updated", ResourceID: "123"}
	assert.True(t, n.IsPayment())
	assert.Equal(t, "mercadopago:payment:123:payment.updated:req-a", n.DeduplicationKey("req-a"))
	assert.NotEqual(t, n.DeduplicationKey("req-a"), n.DeduplicationKey("req-b"))
	assert.Empty(t, n.DeduplicationKey(""))
}
