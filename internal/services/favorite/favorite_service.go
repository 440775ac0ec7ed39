package favorite

import (
	"context"
	"errors"
	"log"
	"strconv"

	"github.com/gofiber/fiber/v3"

	"github.com/rajivgeraev/bookswap-api/internal/apperr"
	"github.com/rajivgeraev/bookswap-api/internal/db"
	"github.com/rajivgeraev/bookswap-api/internal/middleware"
	"github.com/rajivgeraev/bookswap-api/internal/models"
)

// Favorites хранилище избранного
type Favorites interface {
	AddFavorite(ctx context.Context, userID, bookID int64) (bool, error)
	RemoveFavorite(ctx context.Context, userID, bookID int64) error
	IsFavorite(ctx context.Context, userID, bookID int64) (bool, error)
	ListFavorites(ctx context.Context, userID int64) ([]models.Book, error)
}

// FavoriteService представляет сервис для работы с избранным
type FavoriteService struct {
	favorites Favorites
}

// NewFavoriteService создает новый экземпляр FavoriteService
func NewFavoriteService(favorites Favorites) *FavoriteService {
	return &FavoriteService{favorites: favorites}
}

// AddToFavorites добавляет книгу в избранное
func (s *FavoriteService) AddToFavorites(c fiber.Ctx) error {
	userID := middleware.UserID(c)
	if userID == 0 {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	var requestData struct {
		BookID int64 `json:"book_id"`
	}

	if err := c.Bind().Body(&requestData); err != nil {
		log.Printf("Ошибка декодирования тела запроса: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат данных"})
	}

	if requestData.BookID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "ID книги не указан"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	added, err := s.favorites.AddFavorite(ctx, userID, requestData.BookID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Книга не найдена"})
		}
		log.Printf("Ошибка добавления в избранное: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка добавления в избранное"})
	}

	if !added {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Книга уже добавлена в избранное"})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"message": "Книга добавлена в избранное",
	})
}

// RemoveFromFavorites удаляет книгу из избранного
func (s *FavoriteService) RemoveFromFavorites(c fiber.Ctx) error {
	userID := middleware.UserID(c)
	bookID, err := parseBookID(c)
	if err != nil {
		return apperr.Respond(c, err)
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	if err := s.favorites.RemoveFavorite(ctx, userID, bookID); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Книга не найдена в избранном"})
		}
		log.Printf("Ошибка удаления из избранного: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка удаления из избранного"})
	}

	return c.JSON(fiber.Map{"success": true})
}

// GetFavorites возвращает избранные книги пользователя
func (s *FavoriteService) GetFavorites(c fiber.Ctx) error {
	userID := middleware.UserID(c)
	if userID == 0 {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	books, err := s.favorites.ListFavorites(ctx, userID)
	if err != nil {
		log.Printf("Ошибка получения избранного: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка получения избранного"})
	}

	return c.JSON(fiber.Map{
		"books": books,
		"total": len(books),
	})
}

// CheckFavorite проверяет, добавлена ли книга в избранное
func (s *FavoriteService) CheckFavorite(c fiber.Ctx) error {
	userID := middleware.UserID(c)
	bookID, err := parseBookID(c)
	if err != nil {
		return apperr.Respond(c, err)
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	isFavorite, err := s.favorites.IsFavorite(ctx, userID, bookID)
	if err != nil {
		log.Printf("Ошибка проверки избранного: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка проверки избранного"})
	}

	return c.JSON(fiber.Map{"is_favorite": isFavorite})
}

func parseBookID(c fiber.Ctx) (int64, error) {
	if middleware.UserID(c) == 0 {
		return 0, apperr.Wrap(apperr.ErrUnauthorized, "Пользователь не авторизован")
	}
	bookID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || bookID <= 0 {
		return 0, apperr.Wrap(apperr.ErrInvalidRequest, "Неверный формат ID книги")
	}
	return bookID, nil
}
