package notification

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"net/textproto"

	"github.com/sakashimaa/payment-recon/internal/domain"
	"github.com/sakashimaa/payment-recon/pkg/mylogger"
	"go.uber.org/zap"
)

type EmailConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	From     string
}

type emailChannel struct {
	cfg    EmailConfig
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
	logger *zap.Logger
}

func NewEmailChannel(cfg EmailConfig, logger *zap.Logger) Channel {
	return &emailChannel{
		cfg:    cfg,
		send:   smtp.SendMail,
		logger: logger,
	}
}

func (c *emailChannel) Name() string { return "email" }

func (c *emailChannel) Send(ctx context.Context, event *domain.DomainEvent) error {
	if event.RecipientEmail == "" {
		return ErrNoRecipient
	}

	rendered, err := renderEmail(event)
	if err != nil {
		return err
	}

	msg := []byte(fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n",
		c.cfg.From,
		event.RecipientEmail,
		rendered.Subject,
		rendered.Body,
	))

	addr := fmt.Sprintf("%s:%s", c.cfg.Host, c.cfg.Port)

	var auth smtp.Auth
	if c.cfg.User != "" {
		auth = smtp.PlainAuth("", c.cfg.User, c.cfg.Password, c.cfg.Host)
	}

	if err := c.send(addr, auth, c.cfg.From, []string{event.RecipientEmail}, msg); err != nil {
		mylogger.Warn(
			ctx,
			c.logger,
			"SMTP delivery failed",
			zap.String("event_id", event.EventID),
			zap.Error(err),
		)

		// A 5xx reply is the server refusing the message outright (bad
		// recipient, rejected content); retries cannot change its mind.
		// Everything else is the relay being unreachable or overloaded.
		var replyErr *textproto.Error
		if errors.As(err, &replyErr) && replyErr.Code >= 500 {
			return fmt.Errorf("%w: smtp: %v", ErrPermanent, err)
		}

		return fmt.Errorf("%w: smtp: %v", ErrTransient, err)
	}

	return nil
}
