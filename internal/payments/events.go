package payments

// EventType is the closed set of gateway event types the state machine understands.
// Anything else parses to EventUnsupported and is logged and accepted.
type EventType string

const (
	EventPaymentSuccess   EventType = "payment.success"
	EventPaymentFailed    EventType = "payment.failed"
	EventPaymentPending   EventType = "payment.pending"
	EventPaymentCancelled EventType = "payment.cancelled"
	EventUnsupported      EventType = "unsupported"
)

// ParseEventType maps a raw gateway string onto the closed set
func ParseEventType(raw string) EventType {
	switch EventType(raw) {
	case EventPaymentSuccess, EventPaymentFailed, EventPaymentPending, EventPaymentCancelled:
		return EventType(raw)
	default:
		return EventUnsupported
	}
}
