package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	paymentdomain "github.com/lojatextil/erp/internal/domain/payment"
	"github.com/lojatextil/erp/internal/infrastructure/telemetry"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	mpPaymentPath             = "/v1/payments/%s"
	mpCreatePaymentPath       = "/v1/payments"
	mpPreferencePath          = "/checkout/preferences/%s"
	mpCreatePreferencePath    = "/checkout/preferences"
	mpMerchantOrderSearchPath = "/merchant_orders/search"
	mpCurrencyBRL             = "BRL"
	mpMaxResponseBytes        = 1 << 20
	mpIdempotencyKeyHeader    = "X-Idempotency-Key"
	mpAutoReturnOnApproved    = "approved"
)

// CallObserver receives the outcome of every gateway call
type CallObserver interface {
	ObserveGatewayCall(ctx context.Context, operation string, duration time.Duration, err error)
}

// MercadoPagoAdapter implements payment.Gateway against the Mercado Pago REST API
type MercadoPagoAdapter struct {
	config     MercadoPagoConfig
	httpClient *http.Client
	breaker    *CircuitBreaker
	observer   CallObserver
	logger     *zap.Logger
}

// MercadoPagoOption configures a MercadoPagoAdapter
type MercadoPagoOption func(*MercadoPagoAdapter)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(client *http.Client) MercadoPagoOption {
	return func(a *MercadoPagoAdapter) {
		if client != nil {
			a.httpClient = client
		}
	}
}

// WithCallObserver reports call latency and errors, e.g. to metrics
func WithCallObserver(observer CallObserver) MercadoPagoOption {
	return func(a *MercadoPagoAdapter) {
		a.observer = observer
	}
}

// WithLogger sets the adapter logger
func WithLogger(logger *zap.Logger) MercadoPagoOption {
	return func(a *MercadoPagoAdapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewMercadoPagoAdapter creates a new Mercado Pago adapter
func NewMercadoPagoAdapter(config MercadoPagoConfig, opts ...MercadoPagoOption) (*MercadoPagoAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", paymentdomain.ErrGatewayNotConfigured, err)
	}
	config.applyDefaults()

	breakerCfg := config.Breaker
	breakerCfg.IsFailure = func(err error) bool {
		return errors.Is(err, paymentdomain.ErrGatewayUnavailable)
	}

	a := &MercadoPagoAdapter{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		breaker:    NewCircuitBreaker(breakerCfg),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// BreakerState exposes the circuit breaker state for health checks
func (a *MercadoPagoAdapter) BreakerState() BreakerState {
	return a.breaker.State()
}

// FetchPayment loads a payment by id
func (a *MercadoPagoAdapter) FetchPayment(ctx context.Context, paymentID string) (*paymentdomain.PaymentInfo, error) {
	if paymentID == "" {
		return nil, paymentdomain.ErrInvalidPaymentID
	}

	var resp mpPayment
	path := fmt.Sprintf(mpPaymentPath, url.PathEscape(paymentID))
	if err := a.do(ctx, "fetch_payment", http.MethodGet, path, nil, nil, "", &resp); err != nil {
		return nil, err
	}
	return toPaymentInfo(&resp), nil
}

// FetchPreference loads a checkout preference together with the ids of the
// payments made against it. Payment ids come from the merchant orders the
// gateway opened for the preference.
func (a *MercadoPagoAdapter) FetchPreference(ctx context.Context, preferenceID string) (*paymentdomain.PreferenceInfo, error) {
	if preferenceID == "" {
		return nil, paymentdomain.ErrInvalidPreferenceID
	}

	var pref mpPreference
	path := fmt.Sprintf(mpPreferencePath, url.PathEscape(preferenceID))
	if err := a.do(ctx, "fetch_preference", http.MethodGet, path, nil, nil, "", &pref); err != nil {
		return nil, err
	}

	var orders mpMerchantOrderSearch
	query := url.Values{"preference_id": []string{preferenceID}}
	err := a.do(ctx, "search_merchant_orders", http.MethodGet, mpMerchantOrderSearchPath, query, nil, "", &orders)
	if err != nil && !errors.Is(err, paymentdomain.ErrGatewayNotFound) {
		return nil, err
	}

	info := &paymentdomain.PreferenceInfo{
		ID:                pref.ID,
		ExternalReference: pref.ExternalReference,
		Metadata:          pref.Metadata,
		DateCreated:       pref.DateCreated,
	}
	seen := make(map[string]bool)
	for _, order := range orders.Elements {
		for _, p := range order.Payments {
			id := p.ID.String()
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			info.PaymentIDs = append(info.PaymentIDs, id)
		}
	}
	return info, nil
}

// CreatePreference opens a hosted checkout
func (a *MercadoPagoAdapter) CreatePreference(ctx context.Context, req *paymentdomain.CreatePreferenceRequest) (*paymentdomain.CreatePreferenceResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	body := mpCreatePreferenceRequest{
		Items:               make([]mpItem, len(req.Items)),
		Metadata:            req.Metadata,
		ExternalReference:   req.ExternalReference,
		NotificationURL:     firstNonEmpty(req.NotificationURL, a.config.NotificationURL),
		StatementDescriptor: SanitizeStatementDescriptor(firstNonEmpty(req.StatementDescriptor, a.config.StatementDescriptor)),
	}
	for i, item := range req.Items {
		body.Items[i] = mpItem{
			ID:         item.ID,
			Title:      item.Title,
			Quantity:   item.Quantity,
			UnitPrice:  json.Number(item.UnitPrice.StringFixed(2)),
			CurrencyID: mpCurrencyBRL,
		}
	}
	if req.BackURLs != (paymentdomain.BackURLs{}) {
		body.BackURLs = &mpBackURLs{
			Success: req.BackURLs.Success,
			Failure: req.BackURLs.Failure,
			Pending: req.BackURLs.Pending,
		}
		if req.BackURLs.Success != "" {
			body.AutoReturn = mpAutoReturnOnApproved
		}
	}

	var resp mpPreference
	if err := a.do(ctx, "create_preference", http.MethodPost, mpCreatePreferencePath, nil, body, "", &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, fmt.Errorf("%w: preference without id", paymentdomain.ErrGatewayInvalidResponse)
	}

	return &paymentdomain.CreatePreferenceResponse{
		PreferenceID: resp.ID,
		CheckoutURL:  firstNonEmpty(resp.InitPoint, resp.SandboxInitPoint),
	}, nil
}

// CreatePayment charges a card token. The idempotency key makes retries of
// the same charge safe.
func (a *MercadoPagoAdapter) CreatePayment(ctx context.Context, req *paymentdomain.CreatePaymentRequest) (*paymentdomain.PaymentInfo, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	body := mpCreatePaymentRequest{
		TransactionAmount:   json.Number(req.Amount.StringFixed(2)),
		Token:               req.Token,
		PaymentMethodID:     req.PaymentMethodID,
		Installments:        req.Installments,
		Description:         req.Description,
		Metadata:            req.Metadata,
		ExternalReference:   req.ExternalReference,
		NotificationURL:     a.config.NotificationURL,
		StatementDescriptor: SanitizeStatementDescriptor(a.config.StatementDescriptor),
	}
	if req.PayerEmail != "" {
		body.Payer = &mpPayer{Email: req.PayerEmail}
	}

	var resp mpPayment
	if err := a.do(ctx, "create_payment", http.MethodPost, mpCreatePaymentPath, nil, body, req.IdempotencyKey, &resp); err != nil {
		return nil, err
	}
	if resp.ID.String() == "" {
		return nil, fmt.Errorf("%w: payment without id", paymentdomain.ErrGatewayInvalidResponse)
	}
	return toPaymentInfo(&resp), nil
}

// do runs one API call through the circuit breaker and records its outcome
func (a *MercadoPagoAdapter) do(ctx context.Context, operation, method, path string, query url.Values, body any, idempotencyKey string, out any) error {
	ctx, span := telemetry.StartSpan(ctx, "mercadopago."+operation,
		telemetry.WithSpanKind(trace.SpanKindClient),
		telemetry.WithAttribute("http.method", method),
		telemetry.WithAttribute("payment.gateway", "mercadopago"),
	)
	defer span.End()

	start := time.Now()
	err := a.breaker.Execute(func() error {
		return a.roundTrip(ctx, method, path, query, body, idempotencyKey, out)
	})
	if errors.Is(err, ErrCircuitOpen) {
		err = fmt.Errorf("%w: %w", paymentdomain.ErrGatewayUnavailable, err)
	}
	elapsed := time.Since(start)

	if a.observer != nil {
		a.observer.ObserveGatewayCall(ctx, operation, elapsed, err)
	}
	if err != nil {
		telemetry.RecordError(span, err)
		a.logger.Debug("Mercado Pago call failed",
			zap.String("operation", operation),
			zap.Duration("duration", elapsed),
			zap.Error(err),
		)
		return err
	}
	telemetry.SetOK(span)
	return nil
}

func (a *MercadoPagoAdapter) roundTrip(ctx context.Context, method, path string, query url.Values, body any, idempotencyKey string, out any) error {
	endpoint := a.config.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("mercadopago: failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("mercadopago: failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.config.AccessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set(mpIdempotencyKeyHeader, idempotencyKey)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", paymentdomain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, mpMaxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %v", paymentdomain.ErrGatewayUnavailable, err)
	}

	if err := classifyStatus(resp.StatusCode, respBody); err != nil {
		return err
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("%w: %v", paymentdomain.ErrGatewayInvalidResponse, err)
		}
	}
	return nil
}

// classifyStatus maps an HTTP status to the gateway error taxonomy
func classifyStatus(status int, body []byte) error {
	if status < 300 {
		return nil
	}

	detail := fmt.Sprintf("HTTP %d", status)
	var errResp mpErrorResponse
	if json.Unmarshal(body, &errResp) == nil && errResp.Message != "" {
		detail = fmt.Sprintf("HTTP %d: %s", status, errResp.Message)
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %s", paymentdomain.ErrGatewayAuth, detail)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", paymentdomain.ErrGatewayNotFound, detail)
	case status == http.StatusTooManyRequests || status >= 500:
		return fmt.Errorf("%w: %s", paymentdomain.ErrGatewayUnavailable, detail)
	default:
		return fmt.Errorf("%w: %s", paymentdomain.ErrGatewayRequestFailed, detail)
	}
}

func toPaymentInfo(p *mpPayment) *paymentdomain.PaymentInfo {
	return &paymentdomain.PaymentInfo{
		ID:                p.ID.String(),
		Status:            paymentdomain.Status(p.Status),
		StatusDetail:      p.StatusDetail,
		TransactionAmount: p.TransactionAmount,
		Installments:      p.Installments,
		PaymentMethodID:   p.PaymentMethodID,
		ExternalReference: p.ExternalReference,
		Metadata:          p.Metadata,
		DateCreated:       p.DateCreated,
		DateApproved:      p.DateApproved,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Ensure MercadoPagoAdapter implements payment.Gateway
var _ paymentdomain.Gateway = (*MercadoPagoAdapter)(nil)
