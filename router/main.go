package router

import (
	"github.com/gofiber/fiber/v2"
	extraction_handlers "github.com/sahilchouksey/extraction-orchestrator/handlers/extraction"
)

// SetupRoutes wires the HTTP control plane (spec.md §6) onto app.
func SetupRoutes(app *fiber.App, h *extraction_handlers.Handler) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Post("/extract/:source/:dataset", h.Start)
	app.Post("/extraction-pause/:source/:dataset", h.Pause)
	app.Post("/extraction-resume/:source/:dataset", h.Resume)
	app.Post("/clear-extraction-state/:source/:dataset", h.Clear)
	app.Get("/extraction-status/:source/:dataset", h.Status)
	app.Get("/extraction-status/:source/:dataset/stream", h.Stream)
	app.Get("/extraction-progress/list", h.List)
	app.Post("/extraction-schema/:source/:dataset/infer", h.InferSchema)
}
