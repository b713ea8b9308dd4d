package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sakashimaa/payment-recon/internal/domain"
	"github.com/sakashimaa/payment-recon/pkg/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// cachedReconService decorates ReconService with a Redis read-through cache
// on GetOrder. Writes go straight through and invalidate the key after the
// inner service commits, so a cache miss always refetches committed state.
type cachedReconService struct {
	inner  ReconService
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
	tracer trace.Tracer
}

func NewCachedReconService(inner ReconService, rdb *redis.Client, ttl time.Duration, logger *zap.Logger) ReconService {
	return &cachedReconService{
		inner:  inner,
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
		tracer: otel.Tracer("cached_recon_service"),
	}
}

func orderCacheKey(orderID int64) string {
	return fmt.Sprintf("order:%d", orderID)
}

func (s *cachedReconService) GetOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "CachedReconService.GetOrder")
	defer span.End()

	key := orderCacheKey(orderID)

	cached, err := s.rdb.Get(ctx, key).Result()
	if err == nil {
		var order domain.Order
		if err := json.Unmarshal([]byte(cached), &order); err == nil {
			span.SetAttributes(attribute.Bool("cache.hit", true))

			return &order, nil
		}
		// Unreadable entry, fall through to the source of truth.
		s.rdb.Del(ctx, key)
	} else if !errors.Is(err, redis.Nil) {
		mylogger.Warn(ctx, s.logger, "Redis get failed, falling back to db", zap.Error(err))
	}

	span.SetAttributes(attribute.Bool("cache.hit", false))

	order, err := s.inner.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if payload, err := json.Marshal(order); err == nil {
		if err := s.rdb.Set(ctx, key, payload, s.ttl).Err(); err != nil {
			mylogger.Warn(ctx, s.logger, "Redis set failed", zap.Error(err))
		}
	}

	return order, nil
}

func (s *cachedReconService) IngestEvent(ctx context.Context, body []byte, sig string) (*domain.Outcome, bool, error) {
	outcome, duplicate, err := s.inner.IngestEvent(ctx, body, sig)
	if err == nil && !duplicate && outcome.Result == domain.OutcomeApplied {
		s.invalidate(ctx, outcome.OrderID)
	}

	return outcome, duplicate, err
}

func (s *cachedReconService) AdvanceOrder(ctx context.Context, orderID int64, target domain.OrderStatus) (*domain.Order, error) {
	order, err := s.inner.AdvanceOrder(ctx, orderID, target)
	if err == nil {
		s.invalidate(ctx, orderID)
	}

	return order, err
}

func (s *cachedReconService) GetPayment(ctx context.Context, paymentID int64) (*domain.Payment, error) {
	return s.inner.GetPayment(ctx, paymentID)
}

func (s *cachedReconService) GetPaymentForOrder(ctx context.Context, orderID int64) (*domain.Payment, error) {
	return s.inner.GetPaymentForOrder(ctx, orderID)
}

func (s *cachedReconService) invalidate(ctx context.Context, orderID int64) {
	if err := s.rdb.Del(context.WithoutCancel(ctx), orderCacheKey(orderID)).Err(); err != nil {
		mylogger.Warn(
			ctx,
			s.logger,
			"Failed to invalidate order cache",
			zap.Int64("order_id", orderID),
			zap.Error(err),
		)
	}
}
