package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/sakashimaa/payment-recon/internal/domain"
	"github.com/sakashimaa/payment-recon/internal/notification"
	"github.com/sakashimaa/payment-recon/pkg/mylogger"
	"go.uber.org/zap"
)

// EventHandler routes notification topic messages into the dispatcher.
type EventHandler struct {
	notifications *notification.Service
	logger        *zap.Logger
}

func NewEventHandler(notifications *notification.Service, logger *zap.Logger) *EventHandler {
	return &EventHandler{
		notifications: notifications,
		logger:        logger,
	}
}

// Handle is the consumer group callback. Returning an error leaves the
// offset uncommitted so the message is redelivered; malformed messages are
// logged and acked because redelivery cannot fix them.
func (h *EventHandler) Handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var wrapper domain.EventWrapper
	if err := json.Unmarshal(msg.Value, &wrapper); err != nil {
		mylogger.Error(
			ctx,
			h.logger,
			"Skipping malformed message",
			zap.String("topic", msg.Topic),
			zap.Int64("offset", msg.Offset),
			zap.Error(err),
		)

		return nil
	}

	switch domain.EventKind(wrapper.Event) {
	case domain.EventOrderConfirmed,
		domain.EventOrderRejected,
		domain.EventOrderRefunded,
		domain.EventOrderStatusChanged:
		return h.handleDomainEvent(ctx, wrapper)
	default:
		mylogger.Warn(
			ctx,
			h.logger,
			"Skipping message with unknown event kind",
			zap.String("event", wrapper.Event),
		)

		return nil
	}
}

func (h *EventHandler) handleDomainEvent(ctx context.Context, wrapper domain.EventWrapper) error {
	var event domain.DomainEvent
	if err := json.Unmarshal(wrapper.Payload, &event); err != nil {
		mylogger.Error(
			ctx,
			h.logger,
			"Skipping event with malformed payload",
			zap.String("event", wrapper.Event),
			zap.Error(err),
		)

		return nil
	}

	mylogger.Info(
		ctx,
		h.logger,
		"Dispatching notification event",
		zap.String("event_id", event.EventID),
		zap.String("kind", string(event.Kind)),
		zap.Int64("order_id", event.OrderID),
	)

	if err := h.notifications.Dispatch(ctx, &event); err != nil {
		return fmt.Errorf("failed to dispatch event %s: %w", event.EventID, err)
	}

	return nil
}
