package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/sambitmohanty1/payment-callbacks/internal/payments"
)

var validate = validator.New()

// Event is the decoded gateway envelope:
//
//	{"id": "evt_..", "event": "payment.success", "data": {"reference": "..", "amount": 1000, "currency": "ZMW", "status": ".."}}
type Event struct {
	Type           payments.EventType `json:"-"`
	RawType        string             `json:"event_type" validate:"required,max=100"`
	GatewayEventID string             `json:"gateway_event_id,omitempty" validate:"max=255"`
	Reference      string             `json:"reference" validate:"required,max=255"`
	AmountCents    int64              `json:"amount" validate:"gte=0"`
	Currency       string             `json:"currency" validate:"required,iso4217"`
	Status         string             `json:"status" validate:"required,max=64"`

	// Unknown envelope and data fields, kept for forward compatibility and ignored
	// by business logic. A data field wins over an envelope field of the same name.
	Extra map[string]json.RawMessage `json:"-"`
}

var knownEnvelopeFields = map[string]bool{
	"id": true, "event": true, "event_type": true, "data": true,
}

var knownDataFields = map[string]bool{
	"reference": true, "transaction_id": true, "amount": true, "currency": true, "status": true,
}

// ParsePayload decodes and structurally validates a raw webhook body.
// Every failure wraps ErrMalformedPayload.
func ParsePayload(body []byte) (*Event, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, malformed("body is not a JSON object: %v", err)
	}

	rawType, err := firstString(envelope, "event", "event_type")
	if err != nil {
		return nil, err
	}
	gatewayID, err := optionalString(envelope, "id")
	if err != nil {
		return nil, err
	}

	rawData, ok := envelope["data"]
	if !ok {
		return nil, malformed("missing field: data")
	}
	var data map[string]json.RawMessage
	if err := json.Unmarshal(rawData, &data); err != nil || data == nil {
		return nil, malformed("field data must be an object")
	}

	reference, err := firstString(data, "reference", "transaction_id")
	if err != nil {
		return nil, err
	}
	amount, err := integerField(data, "amount")
	if err != nil {
		return nil, err
	}
	currency, err := firstString(data, "currency")
	if err != nil {
		return nil, err
	}
	status, err := firstString(data, "status")
	if err != nil {
		return nil, err
	}

	event := &Event{
		Type:           payments.ParseEventType(rawType),
		RawType:        rawType,
		GatewayEventID: gatewayID,
		Reference:      strings.TrimSpace(reference),
		AmountCents:    amount,
		Currency:       strings.ToUpper(strings.TrimSpace(currency)),
		Status:         status,
		Extra:          make(map[string]json.RawMessage),
	}
	for key, value := range envelope {
		if !knownEnvelopeFields[key] {
			event.Extra[key] = value
		}
	}
	for key, value := range data {
		if !knownDataFields[key] {
			event.Extra[key] = value
		}
	}

	if err := validate.Struct(event); err != nil {
		return nil, malformed("%v", err)
	}
	return event, nil
}

// firstString returns the first present key, which must be a JSON string
func firstString(m map[string]json.RawMessage, keys ...string) (string, error) {
	for _, key := range keys {
		raw, ok := m[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", malformed("field %s must be a string", key)
		}
		return s, nil
	}
	return "", malformed("missing field: %s", keys[0])
}

func optionalString(m map[string]json.RawMessage, key string) (string, error) {
	raw, ok := m[key]
	if !ok || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", malformed("field %s must be a string", key)
	}
	return s, nil
}

// integerField accepts only JSON integers; floats, exponents and strings are rejected
func integerField(m map[string]json.RawMessage, key string) (int64, error) {
	raw, ok := m[key]
	if !ok {
		return 0, malformed("missing field: %s", key)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil && !errors.Is(err, io.EOF) {
		return 0, malformed("field %s: %v", key, err)
	}
	n, ok := v.(json.Number)
	if !ok {
		return 0, malformed("field %s must be an integer", key)
	}
	i, err := n.Int64()
	if err != nil {
		return 0, malformed("field %s must be an integer in minor units", key)
	}
	return i, nil
}

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformedPayload, fmt.Sprintf(format, args...))
}
