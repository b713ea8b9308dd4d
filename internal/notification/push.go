package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sakashimaa/payment-recon/internal/domain"
	"github.com/sakashimaa/payment-recon/pkg/utils"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

type PushConfig struct {
	URL     string
	Timeout time.Duration
}

type pushChannel struct {
	cfg     PushConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewPushChannel posts notifications to the push provider over HTTP. A
// circuit breaker keeps a dead provider from stalling every dispatch on
// its full timeout.
func NewPushChannel(cfg PushConfig, logger *zap.Logger) Channel {
	return &pushChannel{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "push-provider",
			Timeout: 10 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
		logger: logger,
	}
}

func (c *pushChannel) Name() string { return "push" }

type pushRequest struct {
	Token string `json:"token"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

func (c *pushChannel) Send(ctx context.Context, event *domain.DomainEvent) error {
	if event.PushToken == "" {
		return ErrNoRecipient
	}

	rendered, err := renderPush(event)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(pushRequest{
		Token: event.PushToken,
		Title: rendered.Subject,
		Body:  rendered.Body,
	})
	if err != nil {
		return fmt.Errorf("%w: marshal push request: %v", ErrPermanent, err)
	}

	status, err := utils.ExecuteWithBreaker(c.breaker, func() (int, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(payload))
		if err != nil {
			return 0, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return 0, err
		}
		defer resp.Body.Close()

		return resp.StatusCode, nil
	})
	if err != nil {
		c.logger.Warn("Push delivery failed",
			zap.String("event_id", event.EventID),
			zap.Error(err),
		)

		return fmt.Errorf("%w: push: %v", ErrTransient, err)
	}

	switch {
	case status >= 200 && status < 300:
		return nil
	case status >= 400 && status < 500:
		// Provider rejected the token or payload, retrying won't change that.
		return fmt.Errorf("%w: push provider returned %d", ErrPermanent, status)
	default:
		return fmt.Errorf("%w: push provider returned %d", ErrTransient, status)
	}
}
