// Package payments holds the payment state machine. It is pure: persistence and
// the compare-and-set that enforces it live in the store package.
package payments

import (
	"fmt"

	"github.com/sambitmohanty1/payment-callbacks/internal/models"
)

// Action tells the caller what to do with an event
type Action string

const (
	// ActionApply moves the record out of pending
	ActionApply Action = "apply"
	// ActionNoop leaves the record untouched, nothing to report
	ActionNoop Action = "noop"
	// ActionIllegal leaves the record untouched and is reported as an anomaly
	ActionIllegal Action = "illegal"
	// ActionUnsupported is the fallback arm for event types outside the closed set
	ActionUnsupported Action = "unsupported"
)

// Decision is the output of Transition
type Decision struct {
	Action Action
	From   models.PaymentStatus
	To     models.PaymentStatus
	// SettlesFee is true when this transition fixes fee and net amount
	SettlesFee bool
	Reason     string
}

// Transition computes the next status for a record in state current receiving event.
// Only pending records move; terminal states never change.
func Transition(current models.PaymentStatus, event EventType) Decision {
	d := Decision{From: current, To: current}

	var target models.PaymentStatus
	switch event {
	case EventPaymentSuccess:
		target = models.PaymentStatusCompleted
	case EventPaymentFailed:
		target = models.PaymentStatusFailed
	case EventPaymentCancelled:
		target = models.PaymentStatusCancelled
	case EventPaymentPending:
		if current.IsTerminal() {
			d.Action = ActionIllegal
			d.Reason = fmt.Sprintf("pending event received for payment already %s", current)
			return d
		}
		d.Action = ActionNoop
		d.Reason = "payment already pending"
		return d
	default:
		d.Action = ActionUnsupported
		d.Reason = fmt.Sprintf("unsupported event type %q", event)
		return d
	}

	if current != models.PaymentStatusPending {
		d.Action = ActionIllegal
		d.Reason = fmt.Sprintf("cannot move payment from %s to %s", current, target)
		return d
	}

	d.Action = ActionApply
	d.To = target
	d.SettlesFee = target == models.PaymentStatusCompleted
	return d
}
