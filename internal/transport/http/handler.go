package http

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/sakashimaa/payment-recon/internal/domain"
	"github.com/sakashimaa/payment-recon/internal/repository"
	"github.com/sakashimaa/payment-recon/internal/service"
	"github.com/sakashimaa/payment-recon/pkg/mylogger"
	"go.uber.org/zap"
)

type Handler struct {
	recon           service.ReconService
	signatureHeader string
	logger          *zap.Logger
}

func NewHandler(recon service.ReconService, signatureHeader string, logger *zap.Logger) *Handler {
	return &Handler{
		recon:           recon,
		signatureHeader: signatureHeader,
		logger:          logger,
	}
}

// HandleWebhook receives gateway payment events. The raw body is passed to
// the service untouched: signature verification must see the exact bytes
// the gateway signed.
func (h *Handler) HandleWebhook(c *fiber.Ctx) error {
	sig := c.Get(h.signatureHeader)
	if sig == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "missing signature header",
		})
	}

	outcome, duplicate, err := h.recon.IngestEvent(c.UserContext(), c.Body(), sig)
	if err != nil {
		return h.webhookError(c, err)
	}

	status := "processed"
	code := fiber.StatusOK

	switch {
	case duplicate:
		// Duplicates are always acknowledged with a success status, whatever
		// the first delivery did.
		status = "duplicate"
	case outcome.Result == domain.OutcomeInvalidTransition:
		// Recorded but not applied. 422 tells the gateway the event can
		// never take effect, so it should stop redelivering.
		code = fiber.StatusUnprocessableEntity
	}

	return c.Status(code).JSON(fiber.Map{
		"status":  status,
		"outcome": outcome,
	})
}

func (h *Handler) webhookError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidSignature):
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "invalid signature",
		})
	case errors.Is(err, domain.ErrMalformedEvent):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	case errors.Is(err, domain.ErrUnknownTransaction):
		// 404 tells the gateway this delivery can never succeed, so it
		// should not keep retrying.
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "unknown external transaction",
		})
	default:
		mylogger.Error(c.UserContext(), h.logger, "Webhook processing failed", zap.Error(err))

		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "internal error",
		})
	}
}

func (h *Handler) GetOrder(c *fiber.Ctx) error {
	orderID, err := parseID(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid order id",
		})
	}

	order, err := h.recon.GetOrder(c.UserContext(), orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "order not found",
			})
		}

		mylogger.Error(c.UserContext(), h.logger, "Failed to get order", zap.Error(err))

		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "internal error",
		})
	}

	return c.Status(fiber.StatusOK).JSON(order)
}

func (h *Handler) GetPayment(c *fiber.Ctx) error {
	paymentID, err := parseID(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid payment id",
		})
	}

	payment, err := h.recon.GetPayment(c.UserContext(), paymentID)
	if err != nil {
		if errors.Is(err, repository.ErrPaymentNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "payment not found",
			})
		}

		mylogger.Error(c.UserContext(), h.logger, "Failed to get payment", zap.Error(err))

		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "internal error",
		})
	}

	return c.Status(fiber.StatusOK).JSON(payment)
}

func (h *Handler) GetOrderPayment(c *fiber.Ctx) error {
	orderID, err := parseID(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid order id",
		})
	}

	payment, err := h.recon.GetPaymentForOrder(c.UserContext(), orderID)
	if err != nil {
		if errors.Is(err, repository.ErrPaymentNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "payment not found",
			})
		}

		mylogger.Error(c.UserContext(), h.logger, "Failed to get payment", zap.Error(err))

		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "internal error",
		})
	}

	return c.Status(fiber.StatusOK).JSON(payment)
}

type advanceOrderRequest struct {
	Status string `json:"status"`
}

func (h *Handler) AdvanceOrder(c *fiber.Ctx) error {
	orderID, err := parseID(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid order id",
		})
	}

	var req advanceOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	order, err := h.recon.AdvanceOrder(c.UserContext(), orderID, domain.OrderStatus(req.Status))
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrOrderNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "order not found",
			})
		case errors.Is(err, domain.ErrInvalidTransition):
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error": err.Error(),
			})
		default:
			mylogger.Error(c.UserContext(), h.logger, "Failed to advance order", zap.Error(err))

			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "internal error",
			})
		}
	}

	return c.Status(fiber.StatusOK).JSON(order)
}

func (h *Handler) Healthz(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
}

func parseID(c *fiber.Ctx, param string) (int64, error) {
	id, err := strconv.ParseInt(c.Params(param), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid id")
	}

	return id, nil
}
