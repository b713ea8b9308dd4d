package notification

import (
	"context"
	"errors"

	"github.com/sakashimaa/payment-recon/internal/domain"
)

var (
	// ErrTransient marks a delivery failure worth retrying: timeouts,
	// connection refused, 5xx responses.
	ErrTransient = errors.New("transient delivery failure")

	// ErrPermanent marks a failure retries cannot fix: bad recipient,
	// rejected payload. The dispatcher records it and moves on.
	ErrPermanent = errors.New("permanent delivery failure")

	// ErrNoRecipient means the event carries no target for this channel.
	// Not a failure, the channel is simply skipped.
	ErrNoRecipient = errors.New("no recipient for channel")
)

// Channel delivers one rendered notification over a single transport.
type Channel interface {
	Name() string
	Send(ctx context.Context, event *domain.DomainEvent) error
}
