package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	paymentdomain "github.com/lojatextil/erp/internal/domain/payment"
)

// DefaultSignatureTolerance bounds the age of a signed notification
const DefaultSignatureTolerance = 5 * time.Minute

// SignatureVerifier checks the x-signature header Mercado Pago attaches to
// webhooks. The header looks like "ts=1704908010,v1=<hex hmac>" and the HMAC
// covers "id:<data.id>;request-id:<x-request-id>;ts:<ts>;", leaving out
// parts that are absent.
type SignatureVerifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewSignatureVerifier creates a verifier. An empty secret disables checks.
func NewSignatureVerifier(secret string, tolerance time.Duration) *SignatureVerifier {
	if tolerance <= 0 {
		tolerance = DefaultSignatureTolerance
	}
	return &SignatureVerifier{
		secret:    []byte(secret),
		tolerance: tolerance,
		now:       time.Now,
	}
}

// Enabled reports whether a secret is configured
func (v *SignatureVerifier) Enabled() bool {
	return v != nil && len(v.secret) > 0
}

// Verify validates the signature header for the given notification.
// It returns nil when verification is disabled.
func (v *SignatureVerifier) Verify(header, requestID, dataID string) error {
	if !v.Enabled() {
		return nil
	}

	ts, sig := parseSignatureHeader(header)
	if ts == "" || sig == "" {
		return fmt.Errorf("%w: malformed x-signature header", paymentdomain.ErrInvalidSignature)
	}

	signedAt, err := parseSignatureTimestamp(ts)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", paymentdomain.ErrInvalidSignature)
	}
	if age := v.now().Sub(signedAt); age > v.tolerance || age < -v.tolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", paymentdomain.ErrInvalidSignature)
	}

	expected, err := hex.DecodeString(sig)
	if err != nil {
		return fmt.Errorf("%w: signature is not hex", paymentdomain.ErrInvalidSignature)
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(SignatureManifest(dataID, requestID, ts)))
	if !hmac.Equal(mac.Sum(nil), expected) {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

// Sign produces a header value for the given notification, used by tests and
// local tooling that replays webhooks.
func (v *SignatureVerifier) Sign(requestID, dataID string, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(SignatureManifest(dataID, requestID, ts)))
	return fmt.Sprintf("ts=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

// SignatureManifest builds the string the webhook HMAC is computed over.
// Alphanumeric data ids are signed in lower case.
func SignatureManifest(dataID, requestID, ts string) string {
	var b strings.Builder
	if dataID != "" {
		b.WriteString("id:" + strings.ToLower(dataID) + ";")
	}
	if requestID != "" {
		b.WriteString("request-id:" + requestID + ";")
	}
	if ts != "" {
		b.WriteString("ts:" + ts + ";")
	}
	return b.String()
}

func parseSignatureHeader(header string) (ts, v1 string) {
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "ts":
			ts = strings.TrimSpace(value)
		case "v1":
			v1 = strings.TrimSpace(value)
		}
	}
	return ts, v1
}

// parseSignatureTimestamp accepts unix seconds or milliseconds
func parseSignatureTimestamp(ts string) (time.Time, error) {
	n, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	if n > 1e12 {
		return time.UnixMilli(n), nil
	}
	return time.Unix(n, 0), nil
}
