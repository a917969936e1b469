package reconciliation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lojatextil/erp/internal/domain/payment"
	"github.com/lojatextil/erp/internal/domain/sales"
	"go.uber.org/zap"
)

// maxPreferencePayments caps how many payments of one preference are fetched
const maxPreferencePayments = 10

type strategy struct {
	name string
	// run returns a nil match when the strategy does not apply
	run func(ctx context.Context, a *attempt) (*match, error)
}

type match struct {
	sale       *sales.Sale
	payment    *payment.PaymentInfo
	strategy   string
	confidence Confidence
}

// attempt is the state of a single Reconcile call. Gateway lookups are
// memoised here so that later strategies reuse what earlier ones fetched.
type attempt struct {
	req          Request
	sale         *sales.Sale
	paymentID    string
	preferenceID string

	payments          map[string]*payment.PaymentInfo
	preference        *payment.PreferenceInfo
	preferenceFetched bool

	// linkedElsewhere is the sale already bound to the payment when it is
	// not the requested one; resolution stops there
	linkedElsewhere *sales.Sale
}

func newAttempt(req Request) *attempt {
	return &attempt{
		req:          req,
		paymentID:    trimmed(req.ExternalPaymentID),
		preferenceID: trimmed(req.ExternalPreferenceID),
		payments:     make(map[string]*payment.PaymentInfo),
	}
}

// ---------------------------------------------------------------------------
// Strategies
// ---------------------------------------------------------------------------

// matchDirectPaymentID finds the sale already linked to the payment
func (e *Engine) matchDirectPaymentID(ctx context.Context, a *attempt) (*match, error) {
	if a.paymentID == "" {
		return nil, nil
	}
	p, err := e.fetchPayment(ctx, a, a.paymentID)
	if err != nil || p == nil {
		return nil, err
	}

	sale, err := e.sales.FindByExternalPaymentID(ctx, p.ID)
	if errors.Is(err, sales.ErrSaleNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find sale by payment: %w", err)
	}
	if a.req.SaleID != uuid.Nil && sale.ID != a.req.SaleID {
		// the payment belongs elsewhere; neither sale is touched
		e.log(ctx).Warn("Payment is linked to another sale",
			zap.String("payment_id", p.ID),
			zap.String("requested_sale_id", a.req.SaleID.String()),
			zap.String("linked_sale_id", sale.ID.String()))
		a.linkedElsewhere = sale
		return nil, nil
	}
	return &match{sale: sale, payment: p, confidence: ConfidenceHigh}, nil
}

// matchPaymentMetadata follows the sale id the payment was tagged with
func (e *Engine) matchPaymentMetadata(ctx context.Context, a *attempt) (*match, error) {
	if a.paymentID == "" {
		return nil, nil
	}
	p, err := e.fetchPayment(ctx, a, a.paymentID)
	if err != nil || p == nil {
		return nil, err
	}
	saleID, ok := p.SaleID()
	if !ok || !e.agreesWithRequest(ctx, a, saleID, "payment") {
		return nil, nil
	}

	sale, err := e.loadSale(ctx, a, saleID)
	if err != nil || sale == nil {
		return nil, err
	}
	return &match{sale: sale, payment: p, confidence: ConfidenceHigh}, nil
}

// matchPreferenceLink finds the sale the checkout preference was stored on
// and picks one of the preference's payments for it
func (e *Engine) matchPreferenceLink(ctx context.Context, a *attempt) (*match, error) {
	if a.preferenceID == "" {
		return nil, nil
	}
	list, err := e.sales.FindByExternalPreferenceID(ctx, a.preferenceID)
	if err != nil {
		return nil, fmt.Errorf("failed to find sales by preference: %w", err)
	}
	if len(list) == 0 {
		return nil, nil
	}

	sale := &list[0]
	for i := range list {
		if list[i].ID == a.req.SaleID {
			sale = &list[i]
			break
		}
	}
	if len(list) > 1 {
		e.log(ctx).Warn("Preference is linked to several sales",
			zap.String("preference_id", a.preferenceID),
			zap.Int("sales", len(list)),
			zap.String("chosen_sale_id", sale.ID.String()))
	}

	p, err := e.choosePreferencePayment(ctx, a, sale)
	if err != nil || p == nil {
		return nil, err
	}
	return &match{sale: sale, payment: p, confidence: ConfidenceHigh}, nil
}

// matchPreferenceMetadata follows the sale id carried by the preference when
// no stored sale references it
func (e *Engine) matchPreferenceMetadata(ctx context.Context, a *attempt) (*match, error) {
	if a.preferenceID == "" {
		return nil, nil
	}
	pref, err := e.fetchPreference(ctx, a)
	if err != nil || pref == nil {
		return nil, err
	}
	saleID, ok := pref.SaleID()
	if !ok || !e.agreesWithRequest(ctx, a, saleID, "preference") {
		return nil, nil
	}

	sale, err := e.loadSale(ctx, a, saleID)
	if err != nil || sale == nil {
		return nil, err
	}
	p, err := e.choosePreferencePayment(ctx, a, sale)
	if err != nil || p == nil {
		return nil, err
	}
	return &match{sale: sale, payment: p, confidence: ConfidenceHigh}, nil
}

// matchAmountWindow pairs the payment with the most recent unlinked pending
// sale of the same amount created near the payment time
func (e *Engine) matchAmountWindow(ctx context.Context, a *attempt) (*match, error) {
	if !a.req.AllowHeuristic || a.paymentID == "" {
		return nil, nil
	}
	p, err := e.fetchPayment(ctx, a, a.paymentID)
	if err != nil || p == nil {
		return nil, err
	}

	amount := a.req.DeclaredAmount
	if amount.IsZero() {
		amount = p.TransactionAmount
	}
	if !amount.IsPositive() {
		return nil, nil
	}
	at := a.req.EventTime
	if at.IsZero() {
		at = p.DateCreated
	}
	if at.IsZero() {
		return nil, nil
	}

	candidates, err := e.sales.FindPendingCandidates(ctx, amount, at.Add(-e.window), at.Add(e.window), e.limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find candidate sales: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	chosen := &candidates[0]
	if a.req.SaleID != uuid.Nil {
		chosen = nil
		for i := range candidates {
			if candidates[i].ID == a.req.SaleID {
				chosen = &candidates[i]
				break
			}
		}
		if chosen == nil {
			return nil, nil
		}
	}
	if len(candidates) > 1 {
		e.log(ctx).Warn("Ambiguous amount match",
			zap.String("payment_id", p.ID),
			zap.String("amount", amount.StringFixed(2)),
			zap.Int("candidates", len(candidates)),
			zap.String("chosen_sale_id", chosen.ID.String()),
			zap.String("confidence", string(ConfidenceLow)))
	}
	return &match{sale: chosen, payment: p, confidence: ConfidenceLow}, nil
}

// ---------------------------------------------------------------------------
// Lookups
// ---------------------------------------------------------------------------

// fetchPayment returns the gateway payment, or nil when the gateway does not
// know the id
func (e *Engine) fetchPayment(ctx context.Context, a *attempt, id string) (*payment.PaymentInfo, error) {
	if p, ok := a.payments[id]; ok {
		return p, nil
	}
	p, err := e.gateway.FetchPayment(ctx, id)
	if errors.Is(err, payment.ErrGatewayNotFound) {
		e.log(ctx).Info("Payment not found at gateway", zap.String("payment_id", id))
		a.payments[id] = nil
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch payment %s: %w", id, err)
	}
	a.payments[id] = p
	return p, nil
}

func (e *Engine) fetchPreference(ctx context.Context, a *attempt) (*payment.PreferenceInfo, error) {
	if a.preferenceFetched {
		return a.preference, nil
	}
	pref, err := e.gateway.FetchPreference(ctx, a.preferenceID)
	if errors.Is(err, payment.ErrGatewayNotFound) {
		e.log(ctx).Info("Preference not found at gateway", zap.String("preference_id", a.preferenceID))
		a.preferenceFetched = true
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch preference %s: %w", a.preferenceID, err)
	}
	a.preference = pref
	a.preferenceFetched = true
	return pref, nil
}

// choosePreferencePayment picks among the preference's payments: one tagged
// with the sale, then one matching the sale total, then the most recent.
func (e *Engine) choosePreferencePayment(ctx context.Context, a *attempt, sale *sales.Sale) (*payment.PaymentInfo, error) {
	pref, err := e.fetchPreference(ctx, a)
	if err != nil || pref == nil {
		return nil, err
	}
	ids := pref.PaymentIDs
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > maxPreferencePayments {
		ids = ids[:maxPreferencePayments]
	}

	candidates := make([]*payment.PaymentInfo, 0, len(ids))
	for _, id := range ids {
		p, err := e.fetchPayment(ctx, a, id)
		if err != nil {
			return nil, err
		}
		if p != nil {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	for _, p := range candidates {
		if id, ok := p.SaleID(); ok && id == sale.ID {
			return p, nil
		}
	}
	for _, p := range candidates {
		if sale.AmountMatches(p.TransactionAmount, sales.AmountTolerance) {
			return p, nil
		}
	}
	latest := candidates[0]
	for _, p := range candidates[1:] {
		if p.DateCreated.After(latest.DateCreated) {
			latest = p
		}
	}
	return latest, nil
}

// loadSale returns the sale with the given id, or nil when it does not exist
func (e *Engine) loadSale(ctx context.Context, a *attempt, id uuid.UUID) (*sales.Sale, error) {
	if a.sale != nil && a.sale.ID == id {
		return a.sale, nil
	}
	sale, err := e.sales.GetByID(ctx, id)
	if errors.Is(err, sales.ErrSaleNotFound) {
		e.log(ctx).Warn("Gateway references an unknown sale", zap.String("sale_id", id.String()))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load sale: %w", err)
	}
	return sale, nil
}

// agreesWithRequest rejects a gateway sale id that contradicts the sale the
// caller asked about
func (e *Engine) agreesWithRequest(ctx context.Context, a *attempt, saleID uuid.UUID, origin string) bool {
	if a.req.SaleID == uuid.Nil || a.req.SaleID == saleID {
		return true
	}
	e.log(ctx).Warn("Gateway sale id differs from requested sale",
		zap.String("origin", origin),
		zap.String("requested_sale_id", a.req.SaleID.String()),
		zap.String("gateway_sale_id", saleID.String()))
	return false
}
