package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_test_secret"

var testBody = []byte(`{"id":"evt_1","event":"payment.success","data":{"reference":"don_1","amount":10000,"currency":"ZMW","status":"successful"}}`)

func hmacHex(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func headerWith(name, value string) http.Header {
	h := http.Header{}
	h.Set(name, value)
	return h
}

func TestHMACVerifier_Valid(t *testing.T) {
	v, err := NewHMACVerifier(SchemeHMACSHA256, testSecret, "")
	require.NoError(t, err)
	assert.Equal(t, "X-Signature", v.HeaderName())

	assert.NoError(t, v.Verify(testBody, headerWith("X-Signature", hmacHex(testSecret, testBody))))
	assert.NoError(t, v.Verify(testBody, headerWith("X-Signature", "sha256="+hmacHex(testSecret, testBody))))
}

func TestHMACVerifier_UppercaseHexAccepted(t *testing.T) {
	v, err := NewHMACVerifier(SchemeHMACSHA256, testSecret, "X-Gateway-Signature")
	require.NoError(t, err)

	sig := fmt.Sprintf("%X", v.Sign(testBody))
	assert.NoError(t, v.Verify(testBody, headerWith("X-Gateway-Signature", sig)))
}

func TestHMACVerifier_SHA512(t *testing.T) {
	v, err := NewHMACVerifier(SchemeHMACSHA512, testSecret, "")
	require.NoError(t, err)

	mac := hmac.New(sha512.New, []byte(testSecret))
	mac.Write(testBody)
	assert.NoError(t, v.Verify(testBody, headerWith("X-Signature", hex.EncodeToString(mac.Sum(nil)))))
	assert.Error(t, v.Verify(testBody, headerWith("X-Signature", hmacHex(testSecret, testBody))))
}

func TestHMACVerifier_Rejections(t *testing.T) {
	v, err := NewHMACVerifier(SchemeHMACSHA256, testSecret, "")
	require.NoError(t, err)

	flipped := append([]byte(nil), testBody...)
	flipped[10] ^= 0x01

	testCases := []struct {
		description string
		body        []byte
		headers     http.Header
	}{
		{"missing header", testBody, http.Header{}},
		{"different secret", testBody, headerWith("X-Signature", hmacHex("another_secret", testBody))},
		{"single flipped bit in body", flipped, headerWith("X-Signature", hmacHex(testSecret, testBody))},
		{"not hex", testBody, headerWith("X-Signature", "not-a-signature")},
		{"truncated digest", testBody, headerWith("X-Signature", hmacHex(testSecret, testBody)[:32])},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			err := v.Verify(tc.body, tc.headers)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrAuthenticationFailed)
		})
	}
}

func TestHMACVerifier_ReserializedBodyFails(t *testing.T) {
	v, err := NewHMACVerifier(SchemeHMACSHA256, testSecret, "")
	require.NoError(t, err)

	// Same JSON document, different bytes
	reformatted := []byte(`{"id": "evt_1", "event": "payment.success", "data": {"reference": "don_1", "amount": 10000, "currency": "ZMW", "status": "successful"}}`)
	err = v.Verify(reformatted, headerWith("X-Signature", hmacHex(testSecret, testBody)))
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestNewHMACVerifier_RequiresSecret(t *testing.T) {
	_, err := NewHMACVerifier(SchemeHMACSHA256, "", "")
	assert.Error(t, err)

	_, err = NewHMACVerifier("md5", testSecret, "")
	assert.Error(t, err)
}

func stripeHeader(secret string, body []byte, ts time.Time) string {
	unix := strconv.FormatInt(ts.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(unix))
	mac.Write([]byte("."))
	mac.Write(body)
	return fmt.Sprintf("t=%s,v1=%s", unix, hex.EncodeToString(mac.Sum(nil)))
}

func TestStripeVerifier(t *testing.T) {
	v, err := NewStripeVerifier(testSecret, "", 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "Stripe-Signature", v.HeaderName())

	t.Run("valid", func(t *testing.T) {
		h := headerWith("Stripe-Signature", stripeHeader(testSecret, testBody, time.Now()))
		assert.NoError(t, v.Verify(testBody, h))
	})

	t.Run("wrong secret", func(t *testing.T) {
		h := headerWith("Stripe-Signature", stripeHeader("other", testBody, time.Now()))
		assert.ErrorIs(t, v.Verify(testBody, h), ErrAuthenticationFailed)
	})

	t.Run("outside tolerance", func(t *testing.T) {
		h := headerWith("Stripe-Signature", stripeHeader(testSecret, testBody, time.Now().Add(-time.Hour)))
		assert.ErrorIs(t, v.Verify(testBody, h), ErrAuthenticationFailed)
	})

	t.Run("missing header", func(t *testing.T) {
		assert.ErrorIs(t, v.Verify(testBody, http.Header{}), ErrAuthenticationFailed)
	})
}

func TestNewVerifier(t *testing.T) {
	v, err := NewVerifier(SchemeStripe, testSecret, "", 0)
	require.NoError(t, err)
	assert.IsType(t, &StripeVerifier{}, v)

	v, err = NewVerifier(SchemeHMACSHA512, testSecret, "X-Sig", 0)
	require.NoError(t, err)
	assert.IsType(t, &HMACVerifier{}, v)
	assert.Equal(t, "X-Sig", v.HeaderName())

	_, err = NewVerifier("rsa", testSecret, "", 0)
	assert.Error(t, err)
}
