package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSession struct {
	ctx    context.Context
	marked []*sarama.ConsumerMessage
}

func (s *fakeSession) Claims() map[string][]int32 { return nil }
func (s *fakeSession) MemberID() string           { return "member-1" }
func (s *fakeSession) GenerationID() int32        { return 1 }
func (s *fakeSession) MarkOffset(string, int32, int64, string)  {}
func (s *fakeSession) ResetOffset(string, int32, int64, string) {}
func (s *fakeSession) Commit()                                  {}
func (s *fakeSession) Context() context.Context                 { return s.ctx }

func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.marked = append(s.marked, msg)
}

type fakeClaim struct {
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string                                 { return "notification_events" }
func (c *fakeClaim) Partition() int32                              { return 0 }
func (c *fakeClaim) InitialOffset() int64                          { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64                    { return 0 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage      { return c.messages }

func newClaim(msgs ...*sarama.ConsumerMessage) *fakeClaim {
	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, len(msgs))}
	for _, msg := range msgs {
		claim.messages <- msg
	}
	close(claim.messages)

	return claim
}

func TestConsumeClaim_MarksOnSuccess(t *testing.T) {
	var handled []int64
	handler := &saramaHandler{
		handler: func(_ context.Context, msg *sarama.ConsumerMessage) error {
			handled = append(handled, msg.Offset)
			return nil
		},
		logger: zap.NewNop(),
	}

	session := &fakeSession{ctx: context.Background()}
	claim := newClaim(
		&sarama.ConsumerMessage{Offset: 1},
		&sarama.ConsumerMessage{Offset: 2},
	)

	err := handler.ConsumeClaim(session, claim)
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 2}, handled)
	assert.Len(t, session.marked, 2)
}

// A failed message must stop the claim before any later offset is marked,
// otherwise the failure would be committed over and lost on rebalance.
func TestConsumeClaim_StopsAtFirstFailure(t *testing.T) {
	handlerErr := errors.New("dispatch failed")
	handler := &saramaHandler{
		handler: func(_ context.Context, msg *sarama.ConsumerMessage) error {
			if msg.Offset == 2 {
				return handlerErr
			}
			return nil
		},
		logger: zap.NewNop(),
	}

	session := &fakeSession{ctx: context.Background()}
	claim := newClaim(
		&sarama.ConsumerMessage{Offset: 1},
		&sarama.ConsumerMessage{Offset: 2},
		&sarama.ConsumerMessage{Offset: 3},
	)

	err := handler.ConsumeClaim(session, claim)
	require.ErrorIs(t, err, handlerErr)

	require.Len(t, session.marked, 1)
	assert.Equal(t, int64(1), session.marked[0].Offset)
}
