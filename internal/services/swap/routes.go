package swap

import (
	"github.com/gofiber/fiber/v3"
)

// SetupRoutes настраивает маршруты для API обменов
func (h *Handler) SetupRoutes(app *fiber.App, authMiddleware fiber.Handler) {
	api := app.Group("/api/swap-offers")

	// Все маршруты требуют авторизации
	api.Use(authMiddleware)

	api.Post("/", h.CreateOffer)
	api.Get("/", h.GetMyOffers)
	api.Get("/:id", h.GetOffer)
	api.Put("/:id/status", h.UpdateOfferStatus)
}
