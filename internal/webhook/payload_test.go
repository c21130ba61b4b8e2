package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sambitmohanty1/payment-callbacks/internal/payments"
)

func TestParsePayload_Valid(t *testing.T) {
	body := []byte(`{
		"id": "evt_123",
		"event": "payment.success",
		"data": {
			"reference": "don_42",
			"amount": 10000,
			"currency": "zmw",
			"status": "successful",
			"customer": {"email": "donor@example.com"},
			"channel": "mobile_money"
		},
		"sent_at": "2024-01-01T00:00:00Z"
	}`)

	event, err := ParsePayload(body)
	require.NoError(t, err)

	assert.Equal(t, payments.EventPaymentSuccess, event.Type)
	assert.Equal(t, "payment.success", event.RawType)
	assert.Equal(t, "evt_123", event.GatewayEventID)
	assert.Equal(t, "don_42", event.Reference)
	assert.Equal(t, int64(10000), event.AmountCents)
	assert.Equal(t, "ZMW", event.Currency)
	assert.Equal(t, "successful", event.Status)

	// Unknown fields are kept, known ones are not duplicated
	assert.Contains(t, event.Extra, "customer")
	assert.Contains(t, event.Extra, "channel")
	assert.NotContains(t, event.Extra, "amount")
	assert.JSONEq(t, `"2024-01-01T00:00:00Z"`, string(event.Extra["sent_at"]))
	assert.NotContains(t, event.Extra, "id")
	assert.NotContains(t, event.Extra, "event")
	assert.NotContains(t, event.Extra, "data")
}

func TestParsePayload_DataExtraWinsOverEnvelope(t *testing.T) {
	body := []byte(`{"event":"payment.success","channel":"card","data":{"reference":"r","amount":5,"currency":"USD","status":"ok","channel":"mobile_money"}}`)

	event, err := ParsePayload(body)
	require.NoError(t, err)
	assert.JSONEq(t, `"mobile_money"`, string(event.Extra["channel"]))
}

func TestParsePayload_AlternateKeys(t *testing.T) {
	body := []byte(`{"event_type":"payment.failed","data":{"transaction_id":"tx_9","amount":0,"currency":"USD","status":"failed"}}`)

	event, err := ParsePayload(body)
	require.NoError(t, err)
	assert.Equal(t, payments.EventPaymentFailed, event.Type)
	assert.Equal(t, "tx_9", event.Reference)
	assert.Empty(t, event.GatewayEventID)
}

func TestParsePayload_UnknownEventTypeIsNotMalformed(t *testing.T) {
	body := []byte(`{"event":"payment.refunded","data":{"reference":"r","amount":5,"currency":"USD","status":"refunded"}}`)

	event, err := ParsePayload(body)
	require.NoError(t, err)
	assert.Equal(t, payments.EventUnsupported, event.Type)
	assert.Equal(t, "payment.refunded", event.RawType)
}

func TestParsePayload_Malformed(t *testing.T) {
	testCases := []struct {
		description string
		body        string
	}{
		{"not json", `event=payment.success`},
		{"json array", `[1,2,3]`},
		{"json null", `null`},
		{"missing event", `{"data":{"reference":"r","amount":1,"currency":"USD","status":"s"}}`},
		{"event not a string", `{"event":7,"data":{"reference":"r","amount":1,"currency":"USD","status":"s"}}`},
		{"missing data", `{"event":"payment.success"}`},
		{"data not an object", `{"event":"payment.success","data":"x"}`},
		{"missing reference", `{"event":"payment.success","data":{"amount":1,"currency":"USD","status":"s"}}`},
		{"empty reference", `{"event":"payment.success","data":{"reference":"  ","amount":1,"currency":"USD","status":"s"}}`},
		{"missing amount", `{"event":"payment.success","data":{"reference":"r","currency":"USD","status":"s"}}`},
		{"amount as string", `{"event":"payment.success","data":{"reference":"r","amount":"100","currency":"USD","status":"s"}}`},
		{"fractional amount", `{"event":"payment.success","data":{"reference":"r","amount":10.5,"currency":"USD","status":"s"}}`},
		{"exponent amount", `{"event":"payment.success","data":{"reference":"r","amount":1e3,"currency":"USD","status":"s"}}`},
		{"negative amount", `{"event":"payment.success","data":{"reference":"r","amount":-100,"currency":"USD","status":"s"}}`},
		{"amount overflows", `{"event":"payment.success","data":{"reference":"r","amount":99999999999999999999,"currency":"USD","status":"s"}}`},
		{"missing currency", `{"event":"payment.success","data":{"reference":"r","amount":1,"status":"s"}}`},
		{"invalid currency", `{"event":"payment.success","data":{"reference":"r","amount":1,"currency":"XXXX","status":"s"}}`},
		{"missing status", `{"event":"payment.success","data":{"reference":"r","amount":1,"currency":"USD"}}`},
		{"gateway id not a string", `{"id":12,"event":"payment.success","data":{"reference":"r","amount":1,"currency":"USD","status":"s"}}`},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			event, err := ParsePayload([]byte(tc.body))
			require.Error(t, err)
			assert.Nil(t, event)
			assert.ErrorIs(t, err, ErrMalformedPayload)
		})
	}
}
