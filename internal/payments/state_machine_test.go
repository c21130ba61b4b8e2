package payments

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sambitmohanty1/payment-callbacks/internal/models"
)

func TestTransition(t *testing.T) {
	testCases := []struct {
		description string
		current     models.PaymentStatus
		event       EventType
		action      Action
		next        models.PaymentStatus
		settles     bool
	}{
		{"success completes pending", models.PaymentStatusPending, EventPaymentSuccess, ActionApply, models.PaymentStatusCompleted, true},
		{"failed fails pending", models.PaymentStatusPending, EventPaymentFailed, ActionApply, models.PaymentStatusFailed, false},
		{"cancelled cancels pending", models.PaymentStatusPending, EventPaymentCancelled, ActionApply, models.PaymentStatusCancelled, false},
		{"pending on pending is a noop", models.PaymentStatusPending, EventPaymentPending, ActionNoop, models.PaymentStatusPending, false},
		{"pending after completed is illegal", models.PaymentStatusCompleted, EventPaymentPending, ActionIllegal, models.PaymentStatusCompleted, false},
		{"failed after completed is illegal", models.PaymentStatusCompleted, EventPaymentFailed, ActionIllegal, models.PaymentStatusCompleted, false},
		{"success after failed is illegal", models.PaymentStatusFailed, EventPaymentSuccess, ActionIllegal, models.PaymentStatusFailed, false},
		{"success after cancelled is illegal", models.PaymentStatusCancelled, EventPaymentSuccess, ActionIllegal, models.PaymentStatusCancelled, false},
		{"success after completed is illegal", models.PaymentStatusCompleted, EventPaymentSuccess, ActionIllegal, models.PaymentStatusCompleted, false},
		{"unsupported event on pending", models.PaymentStatusPending, EventUnsupported, ActionUnsupported, models.PaymentStatusPending, false},
		{"unsupported event on terminal", models.PaymentStatusFailed, EventUnsupported, ActionUnsupported, models.PaymentStatusFailed, false},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			d := Transition(tc.current, tc.event)
			assert.Equal(t, tc.action, d.Action)
			assert.Equal(t, tc.next, d.To)
			assert.Equal(t, tc.current, d.From)
			assert.Equal(t, tc.settles, d.SettlesFee)
			if d.Action == ActionIllegal || d.Action == ActionUnsupported {
				assert.NotEmpty(t, d.Reason)
			}
		})
	}
}

func TestTransition_TerminalStatesNeverMove(t *testing.T) {
	terminal := []models.PaymentStatus{models.PaymentStatusCompleted, models.PaymentStatusFailed, models.PaymentStatusCancelled}
	events := []EventType{EventPaymentSuccess, EventPaymentFailed, EventPaymentPending, EventPaymentCancelled, EventUnsupported}

	for _, status := range terminal {
		for _, event := range events {
			d := Transition(status, event)
			assert.NotEqual(t, ActionApply, d.Action, "%s -> %s", status, event)
			assert.Equal(t, status, d.To)
		}
	}
}

func TestParseEventType(t *testing.T) {
	assert.Equal(t, EventPaymentSuccess, ParseEventType("payment.success"))
	assert.Equal(t, EventPaymentFailed, ParseEventType("payment.failed"))
	assert.Equal(t, EventPaymentPending, ParseEventType("payment.pending"))
	assert.Equal(t, EventPaymentCancelled, ParseEventType("payment.cancelled"))
	assert.Equal(t, EventUnsupported, ParseEventType("payment.refunded"))
	assert.Equal(t, EventUnsupported, ParseEventType(""))
}
