package api

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupRoutes(app *fiber.App, e Engine, log *slog.Logger) {
	h := NewHandler(e, log)

	v1 := app.Group("/v1", RequestID)

	v1.Post("/request/query", h.QueryRequests)
	v1.Post("/request/count", h.CountRequests)

	app.Get("/health", h.Health)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
}
