package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/sakashimaa/payment-recon/internal/domain"
	"github.com/sakashimaa/payment-recon/internal/notification"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingChannel struct {
	sent []*domain.DomainEvent
}

func (c *recordingChannel) Name() string { return "recording" }

func (c *recordingChannel) Send(_ context.Context, event *domain.DomainEvent) error {
	c.sent = append(c.sent, event)
	return nil
}

type noopFailureRepo struct{}

func (noopFailureRepo) Record(context.Context, *notification.Failure) error { return nil }

func newTestHandler(channel notification.Channel) *EventHandler {
	svc := notification.NewService(
		[]notification.Channel{channel},
		noopFailureRepo{},
		notification.RetryPolicy{
			MaxAttempts:     2,
			InitialInterval: time.Millisecond,
			MaxInterval:     time.Millisecond,
		},
		zap.NewNop(),
	)

	return NewEventHandler(svc, zap.NewNop())
}

func wrap(t *testing.T, kind domain.EventKind, event domain.DomainEvent) []byte {
	t.Helper()

	payload, err := json.Marshal(event)
	require.NoError(t, err)

	value, err := json.Marshal(domain.EventWrapper{
		Event:   string(kind),
		Payload: payload,
	})
	require.NoError(t, err)

	return value
}

func TestHandle_DispatchesDomainEvent(t *testing.T) {
	channel := &recordingChannel{}
	handler := newTestHandler(channel)

	event := domain.DomainEvent{
		EventID: "evt_1",
		Kind:    domain.EventOrderConfirmed,
		OrderID: 42,
	}

	err := handler.Handle(context.Background(), &sarama.ConsumerMessage{
		Topic: "notification_events",
		Value: wrap(t, domain.EventOrderConfirmed, event),
	})
	require.NoError(t, err)

	require.Len(t, channel.sent, 1)
	assert.Equal(t, "evt_1", channel.sent[0].EventID)
	assert.Equal(t, int64(42), channel.sent[0].OrderID)
}

func TestHandle_MalformedMessageIsAcked(t *testing.T) {
	channel := &recordingChannel{}
	handler := newTestHandler(channel)

	err := handler.Handle(context.Background(), &sarama.ConsumerMessage{
		Topic: "notification_events",
		Value: []byte("not json at all"),
	})

	assert.NoError(t, err)
	assert.Empty(t, channel.sent)
}

func TestHandle_UnknownEventKindIsAcked(t *testing.T) {
	channel := &recordingChannel{}
	handler := newTestHandler(channel)

	err := handler.Handle(context.Background(), &sarama.ConsumerMessage{
		Topic: "notification_events",
		Value: []byte(`{"event":"user-registered","payload":{}}`),
	})

	assert.NoError(t, err)
	assert.Empty(t, channel.sent)
}

func TestHandle_MalformedPayloadIsAcked(t *testing.T) {
	channel := &recordingChannel{}
	handler := newTestHandler(channel)

	err := handler.Handle(context.Background(), &sarama.ConsumerMessage{
		Topic: "notification_events",
		Value: []byte(`{"event":"order-confirmed","payload":"not-an-object"}`),
	})

	assert.NoError(t, err)
	assert.Empty(t, channel.sent)
}
