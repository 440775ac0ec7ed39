package books

import (
	"github.com/gofiber/fiber/v3"
)

// SetupRoutes настраивает маршруты для API книг
func (s *BookService) SetupRoutes(app *fiber.App, authMiddleware fiber.Handler) {
	// Публичные маршруты
	app.Get("/api/books", s.GetPublicBooks)

	// Защищенные маршруты (требуют авторизации)
	api := app.Group("/api/books")
	api.Post("/", authMiddleware, s.CreateBook)
	api.Get("/my", authMiddleware, s.GetMyBooks)
	api.Get("/:id", s.GetBook)

	app.Get("/api/upload/params", authMiddleware, s.GenerateUploadParams)
}
