package http

import (
	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
)

func NewRouter(handler *Handler) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName: "payment-recon",
	})

	app.Use(otelfiber.Middleware())

	app.Get("/healthz", handler.Healthz)

	api := app.Group("/api/v1")
	api.Post("/webhooks/payments", handler.HandleWebhook)
	api.Get("/orders/:id", handler.GetOrder)
	api.Get("/orders/:id/payment", handler.GetOrderPayment)
	api.Get("/payments/:id", handler.GetPayment)
	api.Post("/orders/:id/status", handler.AdvanceOrder)

	return app
}
