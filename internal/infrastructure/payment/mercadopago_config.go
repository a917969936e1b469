package payment

import (
	"errors"
	"net/url"
	"time"
)

const (
	defaultMercadoPagoBaseURL = "https://api.mercadopago.com"
	defaultMercadoPagoTimeout = 5 * time.Second
)

// MercadoPagoConfig contains configuration for the Mercado Pago REST API
type MercadoPagoConfig struct {
	// BaseURL is the API root, overridable for tests and sandboxes
	BaseURL string
	// AccessToken is the seller's private access token
	AccessToken string
	// Timeout bounds each HTTP request
	Timeout time.Duration
	// NotificationURL is the webhook target sent with new preferences
	NotificationURL string
	// StatementDescriptor is shown on the buyer's card bill
	StatementDescriptor string
	// Breaker tunes the circuit breaker around every call
	Breaker CircuitBreakerConfig
}

var (
	ErrMercadoPagoMissingToken   = errors.New("mercadopago: missing access token")
	ErrMercadoPagoInvalidBaseURL = errors.New("mercadopago: invalid base URL")
)

// Validate validates the configuration
func (c *MercadoPagoConfig) Validate() error {
	if c.AccessToken == "" {
		return ErrMercadoPagoMissingToken
	}
	if c.BaseURL != "" {
		u, err := url.Parse(c.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return ErrMercadoPagoInvalidBaseURL
		}
	}
	return nil
}

func (c *MercadoPagoConfig) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = defaultMercadoPagoBaseURL
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultMercadoPagoTimeout
	}
}
