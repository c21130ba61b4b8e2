package webhook

import "errors"

// Error taxonomy for inbound payment callbacks. Match with errors.Is.
var (
	// ErrAuthenticationFailed: bad or missing signature. Never processed, never worth retrying.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrMalformedPayload: structurally invalid body. Not retried.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrUnknownReference: no matching payment record. Logged as an anomaly.
	ErrUnknownReference = errors.New("unknown reference")
	// ErrIllegalTransition: event targets a payment already in a terminal state.
	ErrIllegalTransition = errors.New("illegal transition")
	// ErrTransientInfrastructure: database or network failure. The only retryable class.
	ErrTransientInfrastructure = errors.New("transient infrastructure failure")
)
