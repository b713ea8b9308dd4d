package domain

import "errors"

var (
	// ErrInvalidSignature means the webhook body was not produced by the
	// gateway. Rejected before any state is touched.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrUnknownTransaction means the event references an external
	// transaction id with no matching payment. Retrying cannot help.
	ErrUnknownTransaction = errors.New("unknown external transaction")

	// ErrInvalidTransition means the requested status is not reachable from
	// the current one. State is left untouched.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrMalformedEvent means the webhook body failed to parse or validate.
	ErrMalformedEvent = errors.New("malformed gateway event")
)
