package favorite

import (
	"github.com/gofiber/fiber/v3"
)

// SetupRoutes настраивает маршруты для API избранного
func (s *FavoriteService) SetupRoutes(app *fiber.App, authMiddleware fiber.Handler) {
	api := app.Group("/api/favorites")

	// Защищенные маршруты (требуют авторизации)
	api.Use(authMiddleware)

	api.Get("/", s.GetFavorites)
	api.Post("/", s.AddToFavorites)
	api.Delete("/:id", s.RemoveFromFavorites)
	api.Get("/:id/check", s.CheckFavorite)
}
