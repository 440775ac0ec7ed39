package books

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/rajivgeraev/bookswap-api/internal/apperr"
	"github.com/rajivgeraev/bookswap-api/internal/db"
	"github.com/rajivgeraev/bookswap-api/internal/middleware"
	"github.com/rajivgeraev/bookswap-api/internal/models"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

var validConditions = map[string]bool{
	"new": true, "excellent": true, "good": true, "used": true, "damaged": true,
}

// RequestImage представляет изображение в запросе создания книги
type RequestImage struct {
	URL                string          `json:"url"`
	PublicID           string          `json:"public_id"`
	CloudinaryResponse json.RawMessage `json:"cloudinary_response,omitempty"`
}

// Catalog хранилище книг
type Catalog interface {
	CreateBook(ctx context.Context, book models.Book) (models.Book, error)
	FindBook(ctx context.Context, id int64) (models.Book, error)
	ListBooksByOwner(ctx context.Context, ownerID int64) ([]models.Book, error)
	ListAvailableBooks(ctx context.Context, limit, offset int) ([]models.Book, error)
}

// BookService представляет сервис для работы с учебниками
type BookService struct {
	catalog Catalog
	uploads *UploadSigner
}

// NewBookService создает новый экземпляр BookService
func NewBookService(catalog Catalog, uploads *UploadSigner) *BookService {
	return &BookService{catalog: catalog, uploads: uploads}
}

// CreateBook обрабатывает создание новой книги
func (s *BookService) CreateBook(c fiber.Ctx) error {
	userID := middleware.UserID(c)
	if userID == 0 {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	var requestData struct {
		Title       string         `json:"title"`
		Author      string         `json:"author"`
		Course      string         `json:"course"`
		ISBN        string         `json:"isbn"`
		Condition   string         `json:"condition"`
		Description string         `json:"description"`
		Price       float64        `json:"price"`
		AllowSwap   *bool          `json:"allow_swap"`
		Images      []RequestImage `json:"images"`
	}

	if err := c.Bind().Body(&requestData); err != nil {
		log.Printf("Ошибка декодирования тела запроса: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат данных"})
	}

	// Валидация обязательных полей
	requestData.Title = strings.TrimSpace(requestData.Title)
	if requestData.Title == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Название обязательно"})
	}
	if requestData.Price < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Цена не может быть отрицательной"})
	}
	if !validConditions[requestData.Condition] {
		requestData.Condition = "good"
	}

	allowSwap := true
	if requestData.AllowSwap != nil {
		allowSwap = *requestData.AllowSwap
	}

	book := models.Book{
		OwnerID:     userID,
		Title:       requestData.Title,
		Author:      strings.TrimSpace(requestData.Author),
		Course:      strings.TrimSpace(requestData.Course),
		ISBN:        strings.TrimSpace(requestData.ISBN),
		Condition:   requestData.Condition,
		Description: requestData.Description,
		Price:       requestData.Price,
		AllowSwap:   allowSwap,
		Images:      buildImages(requestData.Images),
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	created, err := s.catalog.CreateBook(ctx, book)
	if err != nil {
		log.Printf("Ошибка сохранения книги: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка сохранения книги"})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"book":    created,
		"message": "Книга успешно добавлена",
	})
}

// buildImages переносит превью из ответа Cloudinary; первое изображение основное
func buildImages(requested []RequestImage) []models.BookImage {
	images := make([]models.BookImage, 0, len(requested))
	for i, img := range requested {
		if img.URL == "" {
			continue
		}

		var previewURL string
		if len(img.CloudinaryResponse) > 0 {
			resp, err := models.ParseCloudinaryResponse(img.CloudinaryResponse)
			if err != nil {
				log.Printf("Ошибка парсинга ответа Cloudinary: %v", err)
			} else {
				previewURL = models.ExtractPreviewURL(resp)
			}
		}

		images = append(images, models.BookImage{
			URL:        img.URL,
			PreviewURL: previewURL,
			PublicID:   img.PublicID,
			IsMain:     len(images) == 0,
			Position:   i,
		})
	}
	return images
}

// GetPublicBooks возвращает доступные для обмена книги
func (s *BookService) GetPublicBooks(c fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", strconv.Itoa(defaultPageSize)))
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}
	offset, _ := strconv.Atoi(c.Query("offset", "0"))
	if offset < 0 {
		offset = 0
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	books, err := s.catalog.ListAvailableBooks(ctx, limit, offset)
	if err != nil {
		log.Printf("Ошибка запроса книг: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка получения книг"})
	}

	return c.JSON(fiber.Map{
		"books":  books,
		"limit":  limit,
		"offset": offset,
	})
}

// GetMyBooks возвращает книги текущего пользователя
func (s *BookService) GetMyBooks(c fiber.Ctx) error {
	userID := middleware.UserID(c)
	if userID == 0 {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	books, err := s.catalog.ListBooksByOwner(ctx, userID)
	if err != nil {
		log.Printf("Ошибка запроса книг пользователя %d: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка получения книг"})
	}

	return c.JSON(fiber.Map{
		"books": books,
		"total": len(books),
	})
}

// GetBook возвращает информацию о книге
func (s *BookService) GetBook(c fiber.Ctx) error {
	bookID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || bookID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID книги"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	book, err := s.catalog.FindBook(ctx, bookID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Книга не найдена"})
		}
		log.Printf("Ошибка запроса книги %d: %v", bookID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка получения книги"})
	}

	return c.JSON(fiber.Map{"book": book})
}
