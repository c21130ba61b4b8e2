package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"net/http"
	"strings"
	"time"

	stripewebhook "github.com/stripe/stripe-go/v74/webhook"
)

// Signature schemes accepted in configuration
const (
	SchemeHMACSHA256 = "hmac-sha256"
	SchemeHMACSHA512 = "hmac-sha512"
	SchemeStripe     = "stripe"
)

// Verifier authenticates a raw request body against its signature header.
// Implementations must work on the exact bytes received.
type Verifier interface {
	Verify(body []byte, headers http.Header) error
	HeaderName() string
}

// HMACVerifier checks a hex encoded keyed hash of the raw body.
// The header may carry the bare digest or an "<algo>=" prefix.
type HMACVerifier struct {
	secret  []byte
	header  string
	prefix  string
	newHash func() hash.Hash
}

// NewHMACVerifier creates a verifier for the hmac-sha256 or hmac-sha512 scheme
func NewHMACVerifier(scheme, secret, header string) (*HMACVerifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("webhook secret is required")
	}
	v := &HMACVerifier{secret: []byte(secret), header: header}
	switch scheme {
	case SchemeHMACSHA256, "":
		v.newHash, v.prefix = sha256.New, "sha256="
	case SchemeHMACSHA512:
		v.newHash, v.prefix = sha512.New, "sha512="
	default:
		return nil, fmt.Errorf("unsupported hmac scheme: %s", scheme)
	}
	if v.header == "" {
		v.header = "X-Signature"
	}
	return v, nil
}

func (v *HMACVerifier) HeaderName() string { return v.header }

// Verify compares the expected digest with hmac.Equal, which runs in constant time
func (v *HMACVerifier) Verify(body []byte, headers http.Header) error {
	sig := strings.TrimSpace(headers.Get(v.header))
	if sig == "" {
		return fmt.Errorf("%w: missing %s header", ErrAuthenticationFailed, v.header)
	}
	sig = strings.TrimPrefix(strings.ToLower(sig), v.prefix)

	provided, err := hex.DecodeString(sig)
	if err != nil {
		return fmt.Errorf("%w: signature is not hex encoded", ErrAuthenticationFailed)
	}
	if !hmac.Equal(v.Sign(body), provided) {
		return fmt.Errorf("%w: signature mismatch", ErrAuthenticationFailed)
	}
	return nil
}

// Sign returns the raw digest of body under the configured secret
func (v *HMACVerifier) Sign(body []byte) []byte {
	mac := hmac.New(v.newHash, v.secret)
	mac.Write(body)
	return mac.Sum(nil)
}

// StripeVerifier validates Stripe-style "t=...,v1=..." headers, which sign
// the timestamp together with the raw body and bound replay by a tolerance.
type StripeVerifier struct {
	secret    string
	header    string
	tolerance time.Duration
}

func NewStripeVerifier(secret, header string, tolerance time.Duration) (*StripeVerifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("webhook secret is required")
	}
	if header == "" {
		header = "Stripe-Signature"
	}
	if tolerance <= 0 {
		tolerance = stripewebhook.DefaultTolerance
	}
	return &StripeVerifier{secret: secret, header: header, tolerance: tolerance}, nil
}

func (v *StripeVerifier) HeaderName() string { return v.header }

func (v *StripeVerifier) Verify(body []byte, headers http.Header) error {
	sig := headers.Get(v.header)
	if sig == "" {
		return fmt.Errorf("%w: missing %s header", ErrAuthenticationFailed, v.header)
	}
	if err := stripewebhook.ValidatePayloadWithTolerance(body, sig, v.secret, v.tolerance); err != nil {
		return fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}
	return nil
}

// NewVerifier builds the verifier for a configured scheme
func NewVerifier(scheme, secret, header string, tolerance time.Duration) (Verifier, error) {
	switch scheme {
	case SchemeStripe:
		return NewStripeVerifier(secret, header, tolerance)
	case SchemeHMACSHA256, SchemeHMACSHA512, "":
		return NewHMACVerifier(scheme, secret, header)
	default:
		return nil, fmt.Errorf("unsupported signature scheme: %s", scheme)
	}
}
